package extract

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SignalKind tags the comparison domain of a signal.
type SignalKind string

const (
	KindAvailability SignalKind = "availability"
	KindPrice        SignalKind = "price"
)

// Availability values.
const (
	InStock    = "in_stock"
	OutOfStock = "out_of_stock"
)

// Signal is the normalized comparable state extracted from a page. The zero
// value is the unknown signal: extraction could not tell. Unknown never
// equals anything (itself included), never alerts, and never replaces a
// known baseline.
type Signal struct {
	Kind  SignalKind
	Value string          // availability constant, or canonical decimal text
	Price decimal.Decimal // populated when Kind == KindPrice
}

// Unknown returns the zero signal.
func Unknown() Signal { return Signal{} }

// Availability builds an availability signal from one of the constants above.
func Availability(v string) Signal {
	return Signal{Kind: KindAvailability, Value: v}
}

// Price builds a price signal. Value carries the canonical decimal text so
// the signal round-trips through storage without loss.
func Price(p decimal.Decimal) Signal {
	return Signal{Kind: KindPrice, Value: p.String(), Price: p}
}

// Known reports whether the signal represents a real observed state.
func (s Signal) Known() bool { return s.Kind != "" }

// Equal reports whether two signals represent the same observed state.
// Prices compare as canonical decimals: 10.0 and 10.00 are equal.
func (s Signal) Equal(o Signal) bool {
	if !s.Known() || !o.Known() || s.Kind != o.Kind {
		return false
	}
	if s.Kind == KindPrice {
		return s.Price.Equal(o.Price)
	}
	return s.Value == o.Value
}

func (s Signal) String() string {
	if !s.Known() {
		return "unknown"
	}
	return s.Value
}

// ParseSignal rehydrates a persisted signal from its kind and value columns.
// An empty kind yields the unknown signal.
func ParseSignal(kind, value string) (Signal, error) {
	switch SignalKind(kind) {
	case "":
		return Unknown(), nil
	case KindAvailability:
		if value != InStock && value != OutOfStock {
			return Unknown(), fmt.Errorf("extract: invalid availability %q", value)
		}
		return Availability(value), nil
	case KindPrice:
		p, err := decimal.NewFromString(value)
		if err != nil {
			return Unknown(), fmt.Errorf("extract: invalid price %q: %w", value, err)
		}
		return Price(p), nil
	default:
		return Unknown(), fmt.Errorf("extract: unknown signal kind %q", kind)
	}
}
