package extract_test

import (
	"strings"
	"testing"

	"github.com/hazyhaar/kbsync/extract"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Committee Bylaws</title><style>.x{}</style></head>
<body>
<nav><a href="/home">Home</a></nav>
<h1>Chapter One</h1>
<p>First provision text.</p>
<p style="display:none">hidden tracking text</p>
<h2>Definitions</h2>
<ul><li>term one</li><li>term two</li></ul>
<table><tr><td>cell a</td><td>cell b</td></tr></table>
<script>track();</script>
<footer>footer junk</footer>
</body></html>`

func TestHTML(t *testing.T) {
	doc, err := extract.HTML([]byte(samplePage))
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if doc.Title != "Committee Bylaws" {
		t.Errorf("Title = %q", doc.Title)
	}
	if !strings.Contains(doc.Text, "First provision text.") {
		t.Error("paragraph text missing")
	}
	if strings.Contains(doc.Text, "hidden tracking") {
		t.Error("hidden text extracted")
	}
	if strings.Contains(doc.Text, "track()") {
		t.Error("script content extracted")
	}
	if strings.Contains(doc.Text, "footer junk") {
		t.Error("footer content extracted")
	}

	var types []string
	for _, s := range doc.Sections {
		types = append(types, s.Type)
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{"heading", "paragraph", "list", "table"} {
		if !strings.Contains(joined, want) {
			t.Errorf("section type %q missing in %v", want, types)
		}
	}

	// Heading levels come from the tag name.
	if doc.Sections[0].Level != 1 {
		t.Errorf("h1 Level = %d", doc.Sections[0].Level)
	}
}

func TestHTMLFallbackPlainText(t *testing.T) {
	doc, err := extract.HTML([]byte(`<html><body><div>bare div text</div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc.Text, "bare div text") {
		t.Errorf("fallback text missing: %q", doc.Text)
	}
}

const indexPage = `<html><body>
<a href="/docs/decision-1.pdf">Decision 1</a>
<a href="decision-2.pdf">Decision 2</a>
<a href="/docs/decision-1.pdf">Decision 1 again</a>
<a href="https://other-host.example.org/x.pdf">External</a>
<a href="/about.html">About</a>
<a href="#section">Anchor</a>
<a href="mailto:clerk@example.com">Mail</a>
</body></html>`

func TestLinks(t *testing.T) {
	links, err := extract.Links([]byte(indexPage), "https://example.com/docs/index.html", ".pdf")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	want := []string{
		"https://example.com/docs/decision-1.pdf",
		"https://example.com/docs/decision-2.pdf",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestLinksNoPattern(t *testing.T) {
	links, err := extract.Links([]byte(indexPage), "https://example.com/docs/index.html", "")
	if err != nil {
		t.Fatal(err)
	}
	// Same-host links only; anchors, mailto and external host dropped.
	if len(links) != 3 {
		t.Fatalf("links = %v, want 3 same-host links", links)
	}
}

func TestCSV(t *testing.T) {
	data := []byte("Term,Definition,Notes\nquorum,Minimum members present,\"see ch. 2\"\n,,\nrecess,Pause in proceedings,\n")
	doc, err := extract.CSV(data)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2 (blank row skipped)", len(doc.Sections))
	}
	if !strings.Contains(doc.Sections[0].Text, "Term: quorum") {
		t.Errorf("row text = %q", doc.Sections[0].Text)
	}
	if !strings.Contains(doc.Sections[0].Text, "Notes: see ch. 2") {
		t.Errorf("quoted field lost: %q", doc.Sections[0].Text)
	}
	if doc.Sections[1].Metadata["row"] != "3" {
		t.Errorf("row metadata = %q", doc.Sections[1].Metadata["row"])
	}
}

func TestCSVEmpty(t *testing.T) {
	if _, err := extract.CSV([]byte("")); err == nil {
		t.Fatal("expected error for empty spreadsheet")
	}
	if _, err := extract.CSV([]byte("OnlyHeader,Row\n")); err == nil {
		t.Fatal("expected error for header-only spreadsheet")
	}
}

func TestMarkdownConverter(t *testing.T) {
	m := extract.NewMarkdownConverter()

	md := m.Convert(`<h1>Title</h1><p>Body <b>bold</b>.</p><script>evil()</script>`,
		"https://example.com", "fallback")
	if !strings.Contains(md, "Title") || !strings.Contains(md, "**bold**") {
		t.Errorf("markdown = %q", md)
	}
	if strings.Contains(md, "evil") {
		t.Errorf("script survived sanitization: %q", md)
	}

	// Empty input returns the fallback.
	if got := m.Convert("", "https://example.com", "plain"); got != "plain" {
		t.Errorf("fallback = %q", got)
	}
}
