// Package extract reduces fetched page content to a normalized comparable
// signal per a target's rule.
//
// Evaluation is a pure function of (rule, body): no I/O, no shared state.
// Anything the interpreter cannot resolve (unparseable markup, a selector
// matching nothing, text that is not a number) degrades to the unknown
// signal instead of an error. A site markup change must read as "can't
// tell", never crash a watcher.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Evaluate applies rule to raw page content.
func Evaluate(rule Rule, body []byte) Signal {
	if len(bytes.TrimSpace(body)) == 0 {
		return Unknown()
	}
	switch rule.Kind {
	case RuleMarkerPresence:
		return evalMarker(rule, body)
	case RuleTextEquals:
		return evalTextEquals(rule, body)
	case RulePrice:
		return evalPrice(rule, body)
	default:
		return Unknown()
	}
}

// evalMarker counts marker occurrences in the scoped markup. Without a
// selector the whole document is the scope; with one, the selected regions'
// outer HTML is. A selector that matches nothing means the region is gone,
// which reads as unknown, not as absence.
func evalMarker(rule Rule, body []byte) Signal {
	if rule.Marker == "" {
		return Unknown()
	}

	scope := string(body)
	if rule.Selector != "" {
		sel := selection(rule.Selector, body)
		if sel == nil || sel.Length() == 0 {
			return Unknown()
		}
		var sb strings.Builder
		sel.Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				sb.WriteString(h)
			}
		})
		scope = sb.String()
		if scope == "" {
			return Unknown()
		}
	}

	min := rule.MinCount
	if min <= 0 {
		min = 1
	}
	when := rule.WhenPresent
	if when == "" {
		when = InStock
	}

	if strings.Count(scope, rule.Marker) >= min {
		return Availability(when)
	}
	return Availability(opposite(when))
}

// evalTextEquals compares the first selected element's visible text against
// the expected string, case-insensitively with whitespace collapsed.
func evalTextEquals(rule Rule, body []byte) Signal {
	sel := selection(rule.Selector, body)
	if sel == nil || sel.Length() == 0 {
		return Unknown()
	}
	text := normalizeSpace(collectText(sel.First().Nodes...))
	if text == "" {
		return Unknown()
	}
	if strings.EqualFold(text, normalizeSpace(rule.Equals)) {
		return Availability(InStock)
	}
	return Availability(OutOfStock)
}

// evalPrice parses every selected element into a decimal and aggregates.
func evalPrice(rule Rule, body []byte) Signal {
	sel := selection(rule.Selector, body)
	if sel == nil || sel.Length() == 0 {
		return Unknown()
	}
	var prices []decimal.Decimal
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			if p, err := ParsePrice(collectText(n)); err == nil {
				prices = append(prices, p)
			}
		}
	})
	if len(prices) == 0 {
		return Unknown()
	}
	return Price(AggregatePrices(prices, rule.Aggregate))
}

// selection parses body and returns the nodes matching selector, or nil when
// the selector does not compile or the document cannot be parsed. Compiling
// here (rather than goquery's Find) keeps a bad selector from panicking.
func selection(selector string, body []byte) *goquery.Selection {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return doc.FindMatcher(matcher)
}

// collectText extracts all visible text from node subtrees, skipping
// script, style and noscript.
func collectText(nodes ...*html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
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
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	for _, n := range nodes {
		f(n)
	}
	return sb.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func opposite(availability string) string {
	if availability == InStock {
		return OutOfStock
	}
	return InStock
}
