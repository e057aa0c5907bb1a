package filings

import (
	"bufio"
	"bytes"
	"errors"
	"regexp"
	"strings"
)

// ErrNoPrimaryDocument means a bundle has no <DOCUMENT> with sequence 1.
var ErrNoPrimaryDocument = errors.New("could not extract primary document")

var sequenceOne = regexp.MustCompile(`^<SEQUENCE>1\s*$`)

// ExtractPrimaryDocument returns the <TEXT> block of the document whose
// <SEQUENCE> is 1. Line endings are preserved.
func ExtractPrimaryDocument(bundle []byte) ([]byte, error) {
	var (
		inDocument bool
		inText     bool
		foundSeq   bool
		out        bytes.Buffer
	)

	r := bufio.NewReader(bytes.NewReader(bundle))
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "<DOCUMENT>":
				inDocument = true
				foundSeq = false
			case !inDocument:
			case inText && (trimmed == "</TEXT>" || trimmed == "</DOCUMENT>"):
				return finish(out.Bytes())
			case inText:
				out.WriteString(line)
			case sequenceOne.MatchString(trimmed):
				foundSeq = true
			case trimmed == "<TEXT>" && foundSeq:
				inText = true
			case trimmed == "</DOCUMENT>":
				inDocument = false
			}
		}
		if err != nil {
			break
		}
	}
	return finish(out.Bytes())
}

func finish(b []byte) ([]byte, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, ErrNoPrimaryDocument
	}
	return b, nil
}
