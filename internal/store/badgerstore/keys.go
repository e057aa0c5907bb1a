package badgerstore

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/raphaelgruber/finrag-go/internal/models"
)

// Key prefixes. Index keys carry no value; the chunk ID is the last segment.
const (
	chunkPrefix     = "chunk:"
	tickerIndex     = "idx:ticker:"
	filingTypeIndex = "idx:ftype:"
	filingYearIndex = "idx:fyear:"
	sectionIndex    = "idx:section:"
	accessionIndex  = "idx:accession:"
	indexKeySep     = "\x00"
)

func makeChunkKey(id string) []byte {
	return []byte(chunkPrefix + id)
}

func makeIndexPrefix(index, value string) []byte {
	return []byte(index + value + indexKeySep)
}

func makeIndexKey(index, value, id string) []byte {
	return append(makeIndexPrefix(index, value), id...)
}

// indexKeys returns every secondary index entry for c.
func indexKeys(c models.Chunk) [][]byte {
	return [][]byte{
		makeIndexKey(tickerIndex, c.Ticker, c.ID),
		makeIndexKey(filingTypeIndex, c.FilingType, c.ID),
		makeIndexKey(filingYearIndex, strconv.Itoa(c.FilingYear), c.ID),
		makeIndexKey(sectionIndex, c.Section, c.ID),
		makeIndexKey(accessionIndex, c.Accession, c.ID),
	}
}

// filterPrefix picks the index prefix that narrows f the most, or nil for a full scan.
func filterPrefix(f models.ChunkFilter) []byte {
	switch {
	case f.Ticker != "":
		return makeIndexPrefix(tickerIndex, f.Ticker)
	case f.FilingYear != 0:
		return makeIndexPrefix(filingYearIndex, strconv.Itoa(f.FilingYear))
	case f.FilingType != "":
		return makeIndexPrefix(filingTypeIndex, f.FilingType)
	}
	return nil
}

// splitIndexKey returns the indexed value and chunk ID of an index key.
func splitIndexKey(index string, key []byte) (value, id string) {
	rest := key[len(index):]
	i := bytes.Index(rest, []byte(indexKeySep))
	if i < 0 {
		return string(rest), ""
	}
	return string(rest[:i]), string(rest[i+1:])
}

func idFromChunkKey(key []byte) string {
	return strings.TrimPrefix(string(key), chunkPrefix)
}
