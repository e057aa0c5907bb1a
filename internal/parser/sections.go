package parser

import (
	"regexp"
	"strings"
)

// DefaultSection labels text that matches no SEC item.
const DefaultSection = "General"

// secItems maps SEC form items to section labels. More specific items come
// first so "Item 1A" is not reported as "Item 1".
var secItems = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{itemPattern("1a"), "Risk Factors"},
	{itemPattern("1b"), "Unresolved Staff Comments"},
	{itemPattern("7a"), "Quantitative Disclosures About Market Risk"},
	{itemPattern("9a"), "Controls and Procedures"},
	{itemPattern("1"), "Business Overview"},
	{itemPattern("2"), "Properties"},
	{itemPattern("3"), "Legal Proceedings"},
	{itemPattern("7"), "MD&A"},
	{itemPattern("8"), "Financial Statements"},
}

func itemPattern(item string) *regexp.Regexp {
	return regexp.MustCompile(`item[\s.:]*` + item + `\b`)
}

// snippetLen is how much leading text is searched for an item marker.
const snippetLen = 200

// DetectSection returns the SEC section label whose item marker appears in
// the leading text, or "" when none does.
func DetectSection(text string) string {
	if len(text) > snippetLen {
		text = text[:snippetLen]
	}
	s := strings.ToLower(text)
	for _, item := range secItems {
		if item.pattern.MatchString(s) {
			return item.label
		}
	}
	return ""
}
