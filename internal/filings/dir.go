package filings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirSource reads bundles laid out as <root>/<TICKER>/<TYPE>/<accession>/full-submission.txt,
// the tree written by sec-edgar-downloader.
type DirSource struct {
	root string
}

// NewDirSource creates a directory backed source.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// List reads the newest limit bundles. A missing ticker directory is ErrTickerNotFound;
// a ticker without filings of the type returns an empty list.
func (s *DirSource) List(ctx context.Context, ticker, filingType string, limit int) ([]Bundle, error) {
	tickerDir := filepath.Join(s.root, strings.ToUpper(ticker))
	if _, err := os.Stat(tickerDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", tickerDir, err)
	}

	typeDir := filepath.Join(tickerDir, filingType)
	entries, err := os.ReadDir(typeDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", typeDir, err)
	}

	var accessions []string
	for _, e := range entries {
		if e.IsDir() {
			accessions = append(accessions, e.Name())
		}
	}

	var bundles []Bundle
	for _, acc := range newest(accessions, limit) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(typeDir, acc, SubmissionFile)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		bundles = append(bundles, Bundle{
			Ticker:     strings.ToUpper(ticker),
			FilingType: filingType,
			Accession:  acc,
			FiledAt:    info.ModTime(),
			Data:       data,
		})
	}
	return bundles, nil
}
