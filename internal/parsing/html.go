package parsing

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"gopkg.in/yaml.v3"
)

// HTML is the builtin parser. It keeps headings, paragraphs, list items and
// table rows and drops scripts, styles and hidden inline XBRL headers. The
// document <title> is carried as YAML frontmatter.
type HTML struct{}

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// Parse converts an HTML document to markdown.
func (HTML) Parse(ctx context.Context, _ string, doc []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	w := &mdWriter{}
	w.walk(root)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lines := strings.Split(w.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	out := strings.TrimSpace(blankLineRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
	if out == "" {
		return "", nil
	}
	title := collapse(titleOf(root))
	if title == "" {
		return out, nil
	}
	fm, err := yaml.Marshal(map[string]string{"title": title})
	if err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	return "---\n" + string(fm) + "---\n\n" + out, nil
}

// titleOf returns the text of the first <title> element.
func titleOf(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return sb.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := titleOf(c); t != "" {
			return t
		}
	}
	return ""
}

type mdWriter struct {
	sb  strings.Builder
	row []string
}

func (w *mdWriter) String() string { return w.sb.String() }

func (w *mdWriter) block() {
	w.sb.WriteString("\n\n")
}

func (w *mdWriter) walk(n *html.Node) {
	if n.Type == html.ElementNode && skip(n) {
		return
	}

	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		w.children(n)
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		text := collapse(textOf(n))
		if text != "" {
			w.block()
			w.sb.WriteString(strings.Repeat("#", level) + " " + text)
			w.block()
		}
	case atom.P, atom.Div:
		w.block()
		w.children(n)
		w.block()
	case atom.Br:
		w.sb.WriteString("\n")
	case atom.Li:
		w.sb.WriteString("\n- ")
		w.children(n)
	case atom.Tr:
		w.tableRow(n)
	case atom.Table:
		w.block()
		w.children(n)
		w.block()
	default:
		w.children(n)
	}
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *mdWriter) text(s string) {
	s = spaceRun.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
	if strings.TrimSpace(s) == "" {
		if w.sb.Len() > 0 && !strings.HasSuffix(w.sb.String(), " ") {
			w.sb.WriteString(" ")
		}
		return
	}
	w.sb.WriteString(s)
}

// tableRow writes non-empty cells as a pipe row.
func (w *mdWriter) tableRow(tr *html.Node) {
	w.row = w.row[:0]
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if cell := collapse(textOf(c)); cell != "" {
			w.row = append(w.row, cell)
		}
	}
	if len(w.row) == 0 {
		return
	}
	w.sb.WriteString("\n| " + strings.Join(w.row, " | ") + " |")
}

func skip(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Noscript:
		return true
	}
	if n.Data == "ix:header" {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode && skip(n) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}
