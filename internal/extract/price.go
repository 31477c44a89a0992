package extract

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when a string contains no parseable amount.
var ErrNoPrice = errors.New("extract: no price found")

// ParsePrice reduces a price string to a canonical decimal. Currency symbols
// and codes are stripped, locale separators resolved: "$1,299.00",
// "1 299,00 €" and "1299.0" all parse to the same value. The first numeric
// run in the string wins, so selectors should target the price element
// precisely. A lone dot or comma followed by exactly two digits is read as
// the decimal separator; grouping separators are removed.
func ParsePrice(s string) (decimal.Decimal, error) {
	run := numericRun(s)
	if run == "" {
		return decimal.Decimal{}, ErrNoPrice
	}
	cleaned := resolveSeparators(run)
	p, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, ErrNoPrice
	}
	return p, nil
}

// AggregatePrices reduces matched prices to one comparable value.
// Modes: "first" (default), "min", "avg".
func AggregatePrices(prices []decimal.Decimal, mode string) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Decimal{}
	}
	switch mode {
	case "min":
		return decimal.Min(prices[0], prices[1:]...)
	case "avg":
		return decimal.Avg(prices[0], prices[1:]...)
	default:
		return prices[0]
	}
}

// numericRun returns the first maximal run of digits and separators in s.
// Spaces (including NBSP and narrow NBSP, common French grouping) continue
// the run only when digits follow, so "1 299,00 €" stays one run.
func numericRun(s string) string {
	runes := []rune(s)
	start := -1
	for i, r := range runes {
		if unicode.IsDigit(r) {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	var sb strings.Builder
	for i := start; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '.' || r == ',':
			if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				sb.WriteRune(r)
			} else {
				return sb.String()
			}
		case r == ' ' || r == ' ' || r == ' ':
			if i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				continue // grouping space
			}
			return sb.String()
		default:
			return sb.String()
		}
	}
	return sb.String()
}

// resolveSeparators rewrites a numeric run into decimal.NewFromString form.
// When both separators appear the rightmost is the decimal point. A single
// comma is decimal unless exactly three digits follow (grouping). A single
// dot is always decimal (US-format bias); comma-decimal locales are covered
// by the comma rules.
func resolveSeparators(run string) string {
	lastDot := strings.LastIndexByte(run, '.')
	lastComma := strings.LastIndexByte(run, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			run = strings.ReplaceAll(run, ",", "")
		} else {
			run = strings.ReplaceAll(run, ".", "")
			run = strings.Replace(run, ",", ".", 1)
		}
	case lastComma >= 0:
		if strings.Count(run, ",") > 1 || len(run)-lastComma-1 == 3 {
			run = strings.ReplaceAll(run, ",", "")
		} else {
			run = strings.Replace(run, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(run, ".") > 1 {
			head := strings.ReplaceAll(run[:lastDot], ".", "")
			if len(run)-lastDot-1 == 3 {
				run = head + run[lastDot+1:] // all grouping: 1.299.000
			} else {
				run = head + run[lastDot:]
			}
		}
	}
	return run
}
