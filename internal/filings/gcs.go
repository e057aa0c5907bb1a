package filings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSSource reads bundles from <bucket>/<prefix>/<TICKER>/<TYPE>/<accession>/full-submission.txt.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource creates a Cloud Storage backed source using default credentials.
func NewGCSSource(ctx context.Context, bucket, prefix string) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// List reads the newest limit bundles of one filing type.
func (s *GCSSource) List(ctx context.Context, ticker, filingType string, limit int) ([]Bundle, error) {
	ticker = strings.ToUpper(ticker)
	base := path.Join(s.prefix, ticker) + "/"
	typePrefix := path.Join(s.prefix, ticker, filingType) + "/"
	bucket := s.client.Bucket(s.bucket)

	it := bucket.Objects(ctx, &storage.Query{Prefix: base})
	tickerSeen := false
	created := make(map[string]time.Time)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list filings: %w", err)
		}
		tickerSeen = true
		acc, ok := accessionFromObject(attrs.Name, typePrefix)
		if ok {
			created[acc] = attrs.Created
		}
	}
	if !tickerSeen {
		return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
	}

	accessions := make([]string, 0, len(created))
	for acc := range created {
		accessions = append(accessions, acc)
	}

	var bundles []Bundle
	for _, acc := range newest(accessions, limit) {
		name := typePrefix + acc + "/" + SubmissionFile
		data, err := s.read(ctx, bucket, name)
		if err != nil {
			return nil, err
		}
		slog.Debug("read filing bundle", "bucket", s.bucket, "object", name, "bytes", len(data))
		bundles = append(bundles, Bundle{
			Ticker:     ticker,
			FilingType: filingType,
			Accession:  acc,
			FiledAt:    created[acc],
			Data:       data,
		})
	}
	return bundles, nil
}

func (s *GCSSource) read(ctx context.Context, bucket *storage.BucketHandle, name string) ([]byte, error) {
	r, err := bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// accessionFromObject returns the accession for a submission object under typePrefix.
func accessionFromObject(name, typePrefix string) (string, bool) {
	rest, ok := strings.CutPrefix(name, typePrefix)
	if !ok {
		return "", false
	}
	acc, file, ok := strings.Cut(rest, "/")
	if !ok || file != SubmissionFile || acc == "" {
		return "", false
	}
	return acc, true
}
