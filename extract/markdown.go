package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// MarkdownConverter converts sanitized HTML to markdown. Markdown preserves
// heading and table structure, which keeps chunk boundaries meaningful.
type MarkdownConverter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewMarkdownConverter builds a converter with the commonmark and table
// plugins. The bluemonday UGC policy strips scripts, event handlers, and
// other unsafe markup before conversion.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert sanitizes raw HTML and converts it to markdown. If conversion
// fails or produces empty output, the fallback plain text is returned.
func (m *MarkdownConverter) Convert(rawHTML, sourceURL, fallback string) string {
	if rawHTML == "" {
		return fallback
	}
	clean := m.policy.Sanitize(rawHTML)
	result, err := m.conv.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}
