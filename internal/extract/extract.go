// Package extract pulls a best-effort title out of captured HTML bodies.
// The heuristic is deliberately approximate: ordered structural patterns,
// first accepted candidate wins, then the pass stops.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinTitleLen is the cleaned-text length, in characters, a candidate must
// exceed.
const MinTitleLen = 10

// MaxTitleLen is the stored length cap in characters; longer titles
// truncate here.
const MaxTitleLen = 500

// Title is one accepted extraction result.
type Title struct {
	Text   string
	Method string // tag naming which pattern produced it
}

// Extractor is a replaceable extraction strategy. A miss is (zero, false),
// never an error.
type Extractor interface {
	Extract(html string) (Title, bool)
}

type pattern struct {
	re     *regexp.Regexp
	method string
}

// RegexExtractor scans with an ordered pattern list: document title tag
// first, then headings in descending priority. The ordering and early stop
// decide which of possibly many headings gets recorded, so both are fixed.
type RegexExtractor struct {
	patterns []pattern
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// NewRegexExtractor builds the default title/h1/h2 pattern chain.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{
		patterns: []pattern{
			{regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`), "title_tag"},
			{regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`), "heading_h1"},
			{regexp.MustCompile(`(?is)<h2[^>]*>(.*?)</h2>`), "heading_h2"},
		},
	}
}

// Extract returns the first accepted candidate from the first pattern that
// yields any accepted candidate. Candidates are stripped of embedded markup
// and trimmed; anything at or under MinTitleLen characters is rejected.
// Both length rules count characters, not bytes, so multibyte titles never
// truncate mid-rune.
func (e *RegexExtractor) Extract(html string) (Title, bool) {
	if html == "" {
		return Title{}, false
	}
	for _, p := range e.patterns {
		for _, m := range p.re.FindAllStringSubmatch(html, -1) {
			clean := strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
			if utf8.RuneCountInString(clean) <= MinTitleLen {
				continue
			}
			if runes := []rune(clean); len(runes) > MaxTitleLen {
				clean = string(runes[:MaxTitleLen])
			}
			return Title{Text: clean, Method: p.method}, true
		}
	}
	return Title{}, false
}
