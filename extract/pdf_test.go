package extract

import (
	"fmt"
	"strings"
	"testing"
)

func TestPDF(t *testing.T) {
	// WHAT: a minimal single-page PDF with a Tj text operator extracts its text.
	raw := buildTextPDF("Hello from the decisions index")

	doc, err := PDF(raw)
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if !strings.Contains(doc.Text, "Hello from the decisions index") {
		t.Errorf("Text = %q", doc.Text)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(doc.Sections))
	}
	if doc.Sections[0].Type != "page" || doc.Sections[0].Metadata["page"] != "1" {
		t.Errorf("section = %+v", doc.Sections[0])
	}
	if doc.Title == "" {
		t.Error("title not derived from first line")
	}
}

func TestPDFInvalid(t *testing.T) {
	if _, err := PDF([]byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for invalid PDF")
	}
}

func TestExtractTextFromStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(First line) Tj\nT*\n(Second line) Tj\nET")
	got := extractTextFromStream(stream)
	if !strings.Contains(got, "First line") || !strings.Contains(got, "Second line") {
		t.Fatalf("got %q", got)
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, "plain"},
		{`with \(parens\)`, "with (parens)"},
		{`tab\there`, "tab\there"},
		{`octal\040space`, "octal space"},
		{`back\\slash`, `back\slash`},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("decodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanPDFText(t *testing.T) {
	got := cleanPDFText("  a   lot\t\tof \n\n whitespace  ")
	if got != "a lot of whitespace" {
		t.Fatalf("got %q", got)
	}
}

// buildTextPDF constructs a minimal valid single-page PDF with one text
// show operator.
func buildTextPDF(text string) []byte {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "(", `\(`)
	escaped = strings.ReplaceAll(escaped, ")", `\)`)

	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(stream), stream)

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	return []byte(b.String())
}
