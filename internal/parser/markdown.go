// Package parser splits normalized filing text into overlapping passages.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is normalized filing text with its heading structure.
type Document struct {
	// Frontmatter metadata (from YAML), set by some parsing services
	Frontmatter map[string]any

	// Title from frontmatter or the first h1
	Title string

	// Body after frontmatter
	Content string

	// Preamble is text before the first heading
	Preamble string

	Sections []Section
}

// Section is a heading and the text under it.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Path    string // "# Part I > ## Item 1A. Risk Factors"
	Content string
}

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// ParseMarkdown parses markdown into a Document.
func ParseMarkdown(content string) *Document {
	doc := &Document{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx > 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimLeft(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				// Ignore YAML errors, just use empty frontmatter
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Preamble, doc.Sections = parseSections(remaining)
	return doc
}

// Breadcrumb renders a heading path without markdown markers:
// "# Part I > ## Item 1A. Risk Factors" becomes "Part I > Item 1A. Risk Factors".
func Breadcrumb(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, " > ")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(strings.TrimLeft(p, "#"))
	}
	return strings.Join(parts, " > ")
}

func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) (string, []Section) {
	var sections []Section
	var preamble strings.Builder

	scanner := bufio.NewScanner(strings.NewReader(content))
	// Parsed filings have very long table rows.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var currentPath []string
	var currentLevels []int
	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func() {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		match := headingRegex.FindStringSubmatch(line)
		if len(match) == 0 {
			if currentSection != nil {
				contentBuilder.WriteString(line)
				contentBuilder.WriteString("\n")
			} else {
				preamble.WriteString(line)
				preamble.WriteString("\n")
			}
			continue
		}

		flushSection()

		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
			currentPath = currentPath[:len(currentPath)-1]
			currentLevels = currentLevels[:len(currentLevels)-1]
		}
		currentPath = append(currentPath, match[1]+" "+heading)
		currentLevels = append(currentLevels, level)

		currentSection = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(currentPath, " > "),
		}
	}
	flushSection()

	return strings.TrimSpace(preamble.String()), sections
}
