package extract

// Section is one structural block of an extracted document.
type Section struct {
	Title    string
	Level    int
	Text     string
	Type     string // heading, paragraph, table, list, page, row
	Metadata map[string]string
}

// Document is the extraction result for one fetched payload.
type Document struct {
	Title    string
	Text     string
	Sections []Section
}
