// Package extract turns fetched payloads (HTML pages, PDF files, CSV
// spreadsheets) into plain-text documents ready for chunking and embedding.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// HTML extracts structured content from an HTML payload.
func HTML(data []byte) (*Document, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	title := findHTMLTitle(doc)

	var sections []Section
	extractHTMLNodes(doc, &sections)

	if len(sections) == 0 {
		// Fallback: all visible text as one paragraph.
		if text := collectHTMLText(doc); text != "" {
			sections = append(sections, Section{Text: text, Type: "paragraph"})
		}
	}

	var sb strings.Builder
	for _, s := range sections {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Text)
	}

	return &Document{Title: title, Text: sb.String(), Sections: sections}, nil
}

// Links extracts candidate document links from an index page.
// Relative hrefs are resolved against baseURL; only same-host links are kept.
// A non-empty pattern keeps only hrefs containing it. Order is preserved and
// duplicates removed.
func Links(data []byte, baseURL, pattern string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("extract: parse base url: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				href := strings.TrimSpace(a.Val)
				if href == "" || strings.HasPrefix(href, "#") ||
					strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
					continue
				}
				u, err := base.Parse(href)
				if err != nil {
					continue
				}
				u.Fragment = ""
				if u.Host != base.Host {
					continue
				}
				resolved := u.String()
				if pattern != "" && !strings.Contains(resolved, pattern) {
					continue
				}
				if resolved == baseURL || seen[resolved] {
					continue
				}
				seen[resolved] = true
				out = append(out, resolved)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// extractHTMLNodes walks the DOM tree and extracts headings and content blocks.
func extractHTMLNodes(n *html.Node, sections *[]Section) {
	if n.Type == html.ElementNode {
		// Skip boilerplate.
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header:
			return
		}
		if hasHiddenStyle(n) {
			return
		}

		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			text := collectHTMLText(n)
			if text != "" {
				level := int(n.Data[1] - '0')
				*sections = append(*sections, Section{
					Title: text,
					Level: level,
					Text:  text,
					Type:  "heading",
				})
			}
			return

		case atom.P:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "paragraph"})
			}
			return

		case atom.Table:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "table"})
			}
			return

		case atom.Ul, atom.Ol:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "list"})
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractHTMLNodes(c, sections)
	}
}

// collectHTMLText extracts all visible text from a node subtree.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
