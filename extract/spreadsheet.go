package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// CSV extracts a spreadsheet payload (CSV export) into row documents.
// The first row is the header; every following row becomes one section of
// "Header: value" lines. Short rows are padded, extra cells ignored.
func CSV(data []byte) (*Document, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("extract: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("extract: empty spreadsheet")
	}

	headers := records[0]
	var sections []Section
	var allText strings.Builder

	for rowNr, row := range records[1:] {
		var sb strings.Builder
		for i, h := range headers {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			var val string
			if i < len(row) {
				val = strings.TrimSpace(row[i])
			}
			if val == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(h)
			sb.WriteString(": ")
			sb.WriteString(val)
		}
		if sb.Len() == 0 {
			continue
		}
		sections = append(sections, Section{
			Text:     sb.String(),
			Type:     "row",
			Metadata: map[string]string{"row": strconv.Itoa(rowNr + 1)},
		})
		if allText.Len() > 0 {
			allText.WriteString("\n\n")
		}
		allText.WriteString(sb.String())
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("extract: spreadsheet has no data rows")
	}

	return &Document{Text: allText.String(), Sections: sections}, nil
}
