package extract

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTitleTagWinsOverHeadings(t *testing.T) {
	html := `<html><head><title>Hello World Example</title></head>
	<body><h1>A Different Longer Heading</h1></body></html>`

	got, ok := NewRegexExtractor().Extract(html)
	if !ok {
		t.Fatal("expected a title")
	}
	if got.Text != "Hello World Example" {
		t.Fatalf("expected %q, got %q", "Hello World Example", got.Text)
	}
	if got.Method != "title_tag" {
		t.Fatalf("expected method title_tag, got %q", got.Method)
	}
}

func TestFallsBackToHeadings(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		want   string
		method string
	}{
		{
			name:   "h1 when no title",
			html:   `<body><h1 class="hero">Breaking: Something Happened</h1></body>`,
			want:   "Breaking: Something Happened",
			method: "heading_h1",
		},
		{
			name:   "h2 when no title or h1",
			html:   `<body><h2>Secondary Section Heading</h2></body>`,
			want:   "Secondary Section Heading",
			method: "heading_h2",
		},
		{
			name:   "first h1 of many",
			html:   `<h1>First Long Enough Heading</h1><h1>Second Long Enough Heading</h1>`,
			want:   "First Long Enough Heading",
			method: "heading_h1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewRegexExtractor().Extract(tt.html)
			if !ok {
				t.Fatal("expected a title")
			}
			if got.Text != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got.Text)
			}
			if got.Method != tt.method {
				t.Fatalf("expected method %q, got %q", tt.method, got.Method)
			}
		})
	}
}

func TestShortCandidatesRejected(t *testing.T) {
	// Ten characters exactly is still too short; the next pattern is tried.
	html := `<title>Ten chars!</title><h1>But this heading is long enough</h1>`
	got, ok := NewRegexExtractor().Extract(html)
	if !ok {
		t.Fatal("expected a title from the h1 fallback")
	}
	if got.Method != "heading_h1" {
		t.Fatalf("expected heading_h1, got %q", got.Method)
	}
}

func TestNoAcceptedCandidateIsAMiss(t *testing.T) {
	for _, html := range []string{"", "<p>no headings here</p>", "<title>short</title>"} {
		if _, ok := NewRegexExtractor().Extract(html); ok {
			t.Fatalf("expected miss for %q", html)
		}
	}
}

func TestEmbeddedMarkupStripped(t *testing.T) {
	html := `<h1>Hello <span class="x">Nested</span> World Example</h1>`
	got, ok := NewRegexExtractor().Extract(html)
	if !ok {
		t.Fatal("expected a title")
	}
	if got.Text != "Hello Nested World Example" {
		t.Fatalf("unexpected cleaned text %q", got.Text)
	}
}

func TestLongTitleTruncatedTo500(t *testing.T) {
	long := strings.Repeat("a", 700)
	html := "<title>" + long + "</title>"
	got, ok := NewRegexExtractor().Extract(html)
	if !ok {
		t.Fatal("expected a title")
	}
	if len(got.Text) != MaxTitleLen {
		t.Fatalf("expected %d chars, got %d", MaxTitleLen, len(got.Text))
	}
}

func TestMultibyteTitleTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("世", 600)
	got, ok := NewRegexExtractor().Extract("<title>" + long + "</title>")
	if !ok {
		t.Fatal("expected a title")
	}
	if n := utf8.RuneCountInString(got.Text); n != MaxTitleLen {
		t.Fatalf("expected %d characters, got %d", MaxTitleLen, n)
	}
	if !utf8.ValidString(got.Text) {
		t.Fatal("truncation split a rune")
	}
}

func TestShortMultibyteTitleRejected(t *testing.T) {
	// 5 characters but 15 bytes; the threshold counts characters.
	if got, ok := NewRegexExtractor().Extract("<title>世界您好吗</title>"); ok {
		t.Fatalf("expected a miss, got %q", got.Text)
	}
}

func TestExtractionIsDeterministic(t *testing.T) {
	html := `<h1>First Candidate Heading</h1><h1>Second Candidate Heading</h1><h2>Another One Entirely</h2>`
	e := NewRegexExtractor()
	first, ok := e.Extract(html)
	if !ok {
		t.Fatal("expected a title")
	}
	for i := 0; i < 5; i++ {
		again, ok := e.Extract(html)
		if !ok || again != first {
			t.Fatalf("pass %d diverged: %+v vs %+v", i, again, first)
		}
	}
}
