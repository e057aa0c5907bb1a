package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdown(t *testing.T) {
	content := `---
title: Apple Inc. Form 10-K
pages: 121
---
Cover page text.

# Part I

## Item 1A. Risk Factors

Supply chain concentration.

## Item 7. MD&A

Net sales increased.

# Part II

Exhibits.
`
	doc := ParseMarkdown(content)

	assert.Equal(t, "Apple Inc. Form 10-K", doc.Title)
	assert.Equal(t, 121, doc.Frontmatter["pages"])
	assert.Equal(t, "Cover page text.", doc.Preamble)

	require.Len(t, doc.Sections, 4)
	assert.Equal(t, "# Part I > ## Item 1A. Risk Factors", doc.Sections[1].Path)
	assert.Equal(t, "Supply chain concentration.", doc.Sections[1].Content)
	assert.Equal(t, "# Part I > ## Item 7. MD&A", doc.Sections[2].Path)
	assert.Equal(t, "# Part II", doc.Sections[3].Path)
	assert.Equal(t, 1, doc.Sections[3].Level)
}

func TestParseMarkdown_BadFrontmatterIgnored(t *testing.T) {
	doc := ParseMarkdown("---\n: [unclosed\n---\n# Annual Report\n\nBody.\n")
	assert.Empty(t, doc.Frontmatter)
	assert.Equal(t, "Annual Report", doc.Title)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Body.", doc.Sections[0].Content)
}

func TestParseMarkdown_NoHeadings(t *testing.T) {
	doc := ParseMarkdown("Plain text only.\n\nSecond paragraph.")
	assert.Empty(t, doc.Sections)
	assert.Empty(t, doc.Title)
	assert.Equal(t, "Plain text only.\n\nSecond paragraph.", doc.Preamble)
}

func TestBreadcrumb(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{"# Part I", "Part I"},
		{"# Part I > ## Item 1A. Risk Factors", "Part I > Item 1A. Risk Factors"},
		{"## Item 7. MD&A > ### Liquidity", "Item 7. MD&A > Liquidity"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Breadcrumb(tt.path))
		})
	}
}

func TestParseMarkdown_FrontmatterBlankLine(t *testing.T) {
	doc := ParseMarkdown("---\ntitle: aapl-10k\n---\n\n## Item 1. Business\n\nPhones.\n")
	assert.Equal(t, "aapl-10k", doc.Title)
	assert.Empty(t, doc.Preamble)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "## Item 1. Business", doc.Sections[0].Path)
}
