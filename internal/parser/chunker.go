package parser

import (
	"strings"
	"unicode"
)

// Passage is one chunk of a filing before embedding.
type Passage struct {
	// Index is the position among all passages the chunker produced,
	// counted before short passages are dropped.
	Index       int
	Text        string
	HeadingPath string
	Section     string
	WordCount   int
}

// ChunkConfig defines chunking parameters. Sizes are in bytes.
type ChunkConfig struct {
	// TargetSize: ideal chunk size
	TargetSize int
	// MinSize: sections smaller than this merge into the previous chunk
	MinSize int
	// MaxSize: larger paragraphs split at sentences
	MaxSize int
	// Overlap: text carried over from the previous chunk
	Overlap int
	// MinWords: passages with fewer words are dropped
	MinWords int
}

// DefaultChunkConfig returns the filing defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetSize: 1200,
		MinSize:    200,
		MaxSize:    1600,
		Overlap:    150,
		MinWords:   30,
	}
}

type chunk struct {
	content     string
	headingPath string
}

// Chunk splits a document into overlapping passages. Section boundaries are
// preferred, then paragraphs, then sentences.
func Chunk(doc *Document, config ChunkConfig) []Passage {
	var chunks []chunk
	if doc.Preamble != "" {
		chunks = append(chunks, chunkByParagraphs(doc.Preamble, "", config)...)
	}
	if len(doc.Sections) > 0 {
		chunks = append(chunks, chunkBySections(doc.Sections, config)...)
	} else if doc.Preamble == "" {
		chunks = chunkByParagraphs(doc.Content, "", config)
	}
	chunks = applyOverlap(chunks, config.Overlap)

	passages := make([]Passage, 0, len(chunks))
	for i, c := range chunks {
		words := len(strings.Fields(c.content))
		if words < config.MinWords {
			continue
		}
		passages = append(passages, Passage{
			Index:       i,
			Text:        c.content,
			HeadingPath: c.headingPath,
			Section:     sectionLabel(c),
			WordCount:   words,
		})
	}
	return passages
}

func sectionLabel(c chunk) string {
	if s := DetectSection(c.content); s != "" {
		return s
	}
	// The innermost heading is the most specific.
	parts := strings.Split(c.headingPath, " > ")
	for i := len(parts) - 1; i >= 0; i-- {
		if s := DetectSection(strings.TrimLeft(parts[i], "# ")); s != "" {
			return s
		}
	}
	return DefaultSection
}

func chunkBySections(sections []Section, config ChunkConfig) []chunk {
	var chunks []chunk

	for _, section := range sections {
		content := strings.TrimSpace(section.Content)
		if content == "" {
			continue
		}

		if len(content) <= config.MaxSize {
			if len(content) >= config.MinSize || len(chunks) == 0 {
				chunks = append(chunks, chunk{content: content, headingPath: section.Path})
			} else {
				last := &chunks[len(chunks)-1]
				last.content += "\n\n" + content
			}
			continue
		}

		chunks = append(chunks, chunkByParagraphs(content, section.Path, config)...)
	}
	return chunks
}

func chunkByParagraphs(content, headingPath string, config ChunkConfig) []chunk {
	var chunks []chunk
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, chunk{content: strings.TrimSpace(current.String()), headingPath: headingPath})
			current.Reset()
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > config.MaxSize {
			flush()
		}

		if len(para) > config.MaxSize {
			for _, s := range chunkBySentences(para, config) {
				chunks = append(chunks, chunk{content: s, headingPath: headingPath})
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		if current.Len() >= config.TargetSize {
			flush()
		}
	}
	flush()

	return chunks
}

func chunkBySentences(text string, config ChunkConfig) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range SplitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len()+len(sentence) > config.TargetSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// SplitSentences splits text after '.', '!' or '?' followed by whitespace.
// A period after a single capital letter ("U.S.", "J. Smith") does not end a sentence.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && i > 0 && unicode.IsUpper(runes[i-1]) && (i == 1 || !unicode.IsLetter(runes[i-2])) {
			continue
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// applyOverlap prefixes each chunk with the tail of its predecessor, cut at a
// sentence boundary when the tail has one and at a word boundary otherwise.
func applyOverlap(chunks []chunk, overlap int) []chunk {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]chunk, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1].content
		if len(prev) <= overlap {
			continue
		}
		if tail := overlapTail(prev[len(prev)-overlap:]); tail != "" {
			result[i].content = tail + " " + result[i].content
		}
	}
	return result
}

func overlapTail(tail string) string {
	for i := 0; i+1 < len(tail); i++ {
		switch tail[i] {
		case '.', '!', '?':
			if tail[i+1] == ' ' || tail[i+1] == '\n' {
				return strings.TrimSpace(tail[i+1:])
			}
		}
	}
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		return strings.TrimSpace(tail[idx+1:])
	}
	return ""
}
