// Package filings lists raw SEC submission bundles and extracts their primary document.
package filings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/config"
)

// SubmissionFile is the name of the SGML bundle inside an accession directory.
const SubmissionFile = "full-submission.txt"

// ErrTickerNotFound means the source holds no filings at all for a ticker.
var ErrTickerNotFound = errors.New("ticker not found")

// Bundle is one filed submission.
type Bundle struct {
	Ticker     string
	FilingType string
	Accession  string
	FiledAt    time.Time
	Data       []byte
}

// Source lists the newest bundles of one filing type for a ticker.
type Source interface {
	List(ctx context.Context, ticker, filingType string, limit int) ([]Bundle, error)
}

// New creates a Source based on configuration.
func New(ctx context.Context, cfg config.Config) (Source, error) {
	switch cfg.FilingSource {
	case "dir":
		return NewDirSource(cfg.FilingsDir), nil
	case "gcs":
		return NewGCSSource(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		return nil, fmt.Errorf("unknown filing source: %s", cfg.FilingSource)
	}
}

// accessionOrder sorts accession numbers newest first. Accessions look like
// 0000320193-24-000123 (filer, two-digit year, sequence).
func accessionOrder(a, b string) int {
	ka, kb := accessionKey(a), accessionKey(b)
	switch {
	case ka > kb:
		return -1
	case ka < kb:
		return 1
	}
	return strings.Compare(b, a)
}

func accessionKey(accession string) int64 {
	parts := strings.Split(accession, "-")
	if len(parts) != 3 {
		return 0
	}
	yy, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	seq, _ := strconv.ParseInt(parts[2], 10, 64)
	year := 1900 + yy
	if yy < 50 {
		year = 2000 + yy
	}
	return int64(year)*10_000_000 + seq
}

// newest sorts accessions newest first and applies limit (0 means all).
func newest(accessions []string, limit int) []string {
	slices.SortFunc(accessions, accessionOrder)
	if limit > 0 && len(accessions) > limit {
		accessions = accessions[:limit]
	}
	return accessions
}
