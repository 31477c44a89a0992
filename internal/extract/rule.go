package extract

import (
	"errors"
	"fmt"

	"github.com/andybalholm/cascadia"
)

// RuleKind selects the interpreter branch. The set is closed: anything else
// fails validation at configuration load.
type RuleKind string

const (
	// RuleMarkerPresence counts occurrences of a marker substring in the
	// scoped markup and maps presence to an availability value.
	RuleMarkerPresence RuleKind = "marker_presence"
	// RuleTextEquals compares the selected element's visible text against an
	// expected string.
	RuleTextEquals RuleKind = "text_equals"
	// RulePrice parses the selected element(s) into a canonical price.
	RulePrice RuleKind = "price"
)

// ErrInvalidRule is returned when a rule fails validation.
var ErrInvalidRule = errors.New("extract: invalid rule")

// Rule describes how a comparable signal is derived from page content.
type Rule struct {
	Kind RuleKind `yaml:"kind" json:"kind"`

	// Selector scopes the rule to a CSS-selected region. Required for
	// text_equals and price; optional for marker_presence (whole page).
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`

	// Marker is the substring counted by marker_presence rules. Matching runs
	// against markup, not visible text, so class names and data attributes
	// work as markers.
	Marker string `yaml:"marker,omitempty" json:"marker,omitempty"`

	// MinCount is the occurrence count required for the marker to be
	// considered present. Default 1.
	MinCount int `yaml:"min_count,omitempty" json:"min_count,omitempty"`

	// WhenPresent is the availability reported when the marker is present
	// (in_stock or out_of_stock); the opposite is reported when absent.
	// Default in_stock.
	WhenPresent string `yaml:"when_present,omitempty" json:"when_present,omitempty"`

	// Equals is the expected text for text_equals rules. Comparison is
	// case-insensitive with whitespace collapsed; a match reports in_stock.
	Equals string `yaml:"equals,omitempty" json:"equals,omitempty"`

	// Aggregate reduces multiple matched prices to one: first, min or avg.
	// Default first.
	Aggregate string `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
}

func (r *Rule) defaults() {
	switch r.Kind {
	case RuleMarkerPresence:
		if r.MinCount <= 0 {
			r.MinCount = 1
		}
		if r.WhenPresent == "" {
			r.WhenPresent = InStock
		}
	case RulePrice:
		if r.Aggregate == "" {
			r.Aggregate = "first"
		}
	}
}

// Validate applies defaults and checks the rule is well-formed, including
// that the selector compiles. Evaluate assumes nothing: a rule that slipped
// past validation still degrades to the unknown signal.
func (r *Rule) Validate() error {
	r.defaults()

	if r.Selector != "" {
		if _, err := cascadia.Compile(r.Selector); err != nil {
			return fmt.Errorf("%w: selector %q: %v", ErrInvalidRule, r.Selector, err)
		}
	}

	switch r.Kind {
	case RuleMarkerPresence:
		if r.Marker == "" {
			return fmt.Errorf("%w: marker_presence requires a marker", ErrInvalidRule)
		}
		if r.WhenPresent != InStock && r.WhenPresent != OutOfStock {
			return fmt.Errorf("%w: when_present must be %s or %s", ErrInvalidRule, InStock, OutOfStock)
		}
	case RuleTextEquals:
		if r.Selector == "" {
			return fmt.Errorf("%w: text_equals requires a selector", ErrInvalidRule)
		}
		if r.Equals == "" {
			return fmt.Errorf("%w: text_equals requires an expected text", ErrInvalidRule)
		}
	case RulePrice:
		if r.Selector == "" {
			return fmt.Errorf("%w: price requires a selector", ErrInvalidRule)
		}
		switch r.Aggregate {
		case "first", "min", "avg":
		default:
			return fmt.Errorf("%w: aggregate must be first, min or avg", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	return nil
}

// SignalKind reports the kind of signal this rule produces.
func (r Rule) SignalKind() SignalKind {
	if r.Kind == RulePrice {
		return KindPrice
	}
	return KindAvailability
}
