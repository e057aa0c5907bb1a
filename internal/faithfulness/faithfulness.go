// Package faithfulness scores how well an answer is lexically grounded in the
// passages it was generated from.
//
// Answers are split into sentences at line breaks and then with the same
// rule the chunker uses (parser.SplitSentences), so "U.S." or "J. Smith"
// never end a sentence. A word is a whitespace-separated field, lowercased,
// with leading and trailing characters that are neither letters nor digits
// removed: "$391.0" becomes "391.0" and "(up" becomes "up". Each sentence
// and passage is reduced to its set of distinct words before comparison.
package faithfulness

import (
	"strings"
	"unicode"

	"github.com/raphaelgruber/finrag-go/internal/parser"
)

// Threshold is the minimum word overlap for a sentence to count as grounded.
const Threshold = 0.30

// Score returns the fraction of answer sentences whose words overlap at least
// one passage by Threshold or more. An answer with no sentences scores 0.
func Score(answer string, passages []string) float64 {
	sentences := Sentences(answer)
	if len(sentences) == 0 {
		return 0
	}

	passageWords := make([]map[string]struct{}, 0, len(passages))
	for _, p := range passages {
		passageWords = append(passageWords, Words(p))
	}

	grounded := 0
	for _, s := range sentences {
		if bestOverlap(s, passageWords) >= Threshold {
			grounded++
		}
	}
	return float64(grounded) / float64(len(sentences))
}

// Overlap returns |sentence ∩ passage| / |sentence| over distinct words.
func Overlap(sentence, passage map[string]struct{}) float64 {
	if len(sentence) == 0 {
		return 0
	}
	shared := 0
	for w := range sentence {
		if _, ok := passage[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(sentence))
}

func bestOverlap(sentence map[string]struct{}, passages []map[string]struct{}) float64 {
	best := 0.0
	for _, p := range passages {
		if r := Overlap(sentence, p); r > best {
			best = r
		}
	}
	return best
}

// Sentences splits text into the word sets of its sentences, dropping
// sentences that contain no words.
func Sentences(text string) []map[string]struct{} {
	var out []map[string]struct{}
	for _, line := range strings.Split(text, "\n") {
		for _, part := range parser.SplitSentences(line) {
			if w := Words(part); len(w) > 0 {
				out = append(out, w)
			}
		}
	}
	return out
}

// Words lowercases text and returns its distinct words with leading and
// trailing punctuation stripped.
func Words(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			words[w] = struct{}{}
		}
	}
	return words
}
