// CLAUDE:SUMMARY Renders the rule-matched page region to sanitized markdown for attaching to alert events.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"github.com/PuerkitoBio/goquery"
)

// DefaultExcerptLen caps evidence excerpts attached to alerts.
const DefaultExcerptLen = 2048

var (
	sanitizer = bluemonday.UGCPolicy()

	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// Excerpt renders the region a rule matched into a short markdown snippet
// for human inspection of what triggered an alert. Scripts and event
// handlers are stripped before conversion. Best-effort: any failure yields
// the empty string, never an error.
func Excerpt(body []byte, selector string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultExcerptLen
	}

	raw := string(body)
	if selector != "" {
		sel := selection(selector, body)
		if sel == nil || sel.Length() == 0 {
			return ""
		}
		h, err := goquery.OuterHtml(sel.First())
		if err != nil {
			return ""
		}
		raw = h
	}

	clean := sanitizer.Sanitize(raw)
	md, err := mdConverter.ConvertString(clean)
	if err != nil {
		return ""
	}
	return truncate(strings.TrimSpace(md), maxLen)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
