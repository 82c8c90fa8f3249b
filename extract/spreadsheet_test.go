package extract_test

import (
	"strings"
	"testing"

	"github.com/hazyhaar/kbsync/extract"
)

func TestCSVRowsBecomeDocuments(t *testing.T) {
	data := []byte("Question,Answer,Topic\nWhat is X,It is Y,basics\nHow to Z,Do W,advanced\n")

	doc, err := extract.CSV(data)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(doc.Sections))
	}
	if !strings.Contains(doc.Sections[0].Text, "Question: What is X") {
		t.Errorf("section[0] = %q", doc.Sections[0].Text)
	}
	if !strings.Contains(doc.Sections[1].Text, "Topic: advanced") {
		t.Errorf("section[1] = %q", doc.Sections[1].Text)
	}
	if doc.Text == "" {
		t.Error("empty combined text")
	}
}

func TestCSVRaggedRowsAndBlanks(t *testing.T) {
	// Exports often pad or truncate trailing columns; blank rows are noise.
	data := []byte("A,B,C\n1,2\n,,\n3,4,5,6\n")

	doc, err := extract.CSV(data)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2 (blank row dropped)", len(doc.Sections))
	}
}

func TestCSVHeaderOnly(t *testing.T) {
	if _, err := extract.CSV([]byte("A,B,C\n")); err == nil {
		t.Fatal("expected error for header-only input")
	}
	if _, err := extract.CSV(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
