package filings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundle = `<SEC-HEADER>
ACCESSION NUMBER: 0000320193-24-000123
</SEC-HEADER>
<DOCUMENT>
<TYPE>EX-21
<SEQUENCE>2
<TEXT>
exhibit text
</TEXT>
</DOCUMENT>
<DOCUMENT>
<TYPE>10-K
<SEQUENCE>1
<FILENAME>aapl-20240928.htm
<TEXT>
<html><body>Item 1. Business</body></html>
line two
</TEXT>
</DOCUMENT>
`

func TestExtractPrimaryDocument(t *testing.T) {
	got, err := ExtractPrimaryDocument([]byte(bundle))
	require.NoError(t, err)
	assert.Equal(t, "<html><body>Item 1. Business</body></html>\nline two\n", string(got))
}

func TestExtractPrimaryDocumentMissing(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"no sequence 1": "<DOCUMENT>\n<SEQUENCE>2\n<TEXT>\nx\n</TEXT>\n</DOCUMENT>\n",
		"blank text":    "<DOCUMENT>\n<SEQUENCE>1\n<TEXT>\n\n</TEXT>\n</DOCUMENT>\n",
		"sequence 10":   "<DOCUMENT>\n<SEQUENCE>10\n<TEXT>\nx\n</TEXT>\n</DOCUMENT>\n",
		"plain text":    "just some text\nwithout markup\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractPrimaryDocument([]byte(in))
			assert.ErrorIs(t, err, ErrNoPrimaryDocument)
		})
	}
}

func TestExtractPrimaryDocumentUnterminated(t *testing.T) {
	got, err := ExtractPrimaryDocument([]byte("<DOCUMENT>\n<SEQUENCE>1\n<TEXT>\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(got))
}

func writeBundle(t *testing.T, root, ticker, ftype, acc string) {
	t.Helper()
	dir := filepath.Join(root, ticker, ftype, acc)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SubmissionFile), []byte(bundle), 0o644))
}

func TestDirSourceList(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "AAPL", "10-K", "0000320193-22-000108")
	writeBundle(t, root, "AAPL", "10-K", "0000320193-24-000123")
	writeBundle(t, root, "AAPL", "10-K", "0000320193-23-000106")
	writeBundle(t, root, "AAPL", "10-K", "0000320193-98-000001")

	src := NewDirSource(root)
	ctx := context.Background()

	bundles, err := src.List(ctx, "aapl", "10-K", 2)
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	assert.Equal(t, "0000320193-24-000123", bundles[0].Accession)
	assert.Equal(t, "0000320193-23-000106", bundles[1].Accession)
	assert.Equal(t, "AAPL", bundles[0].Ticker)
	assert.NotEmpty(t, bundles[0].Data)

	all, err := src.List(ctx, "AAPL", "10-K", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "0000320193-98-000001", all[3].Accession)
}

func TestDirSourceMissing(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "AAPL", "10-K", "0000320193-24-000123")
	src := NewDirSource(root)

	_, err := src.List(context.Background(), "BADTICKER", "10-K", 2)
	assert.ErrorIs(t, err, ErrTickerNotFound)

	bundles, err := src.List(context.Background(), "AAPL", "10-Q", 2)
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestAccessionFromObject(t *testing.T) {
	prefix := "sec-edgar-filings/AAPL/10-K/"
	tests := []struct {
		name   string
		object string
		want   string
		ok     bool
	}{
		{"submission", prefix + "0000320193-24-000123/full-submission.txt", "0000320193-24-000123", true},
		{"other file", prefix + "0000320193-24-000123/primary-document.html", "", false},
		{"other type", "sec-edgar-filings/AAPL/10-Q/0000320193-24-000081/full-submission.txt", "", false},
		{"nested too deep", prefix + "acc/x/full-submission.txt", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := accessionFromObject(tt.object, prefix)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
