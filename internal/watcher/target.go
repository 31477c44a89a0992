package watcher

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/guet/internal/extract"
	"github.com/hazyhaar/guet/netguard"
)

// ErrInvalidTarget marks a target definition that cannot be watched.
var ErrInvalidTarget = errors.New("watcher: invalid target")

// Poll interval bounds. Below a second hammers the target site; above a
// week the monitor is not monitoring.
const (
	MinPollInterval = time.Second
	MaxPollInterval = 7 * 24 * time.Hour
)

// MaxTargetIDLen bounds target identifiers (they key files, rows and logs).
const MaxTargetIDLen = netguard.MaxIdentifierLen

// PriceMode selects how price movements qualify for alerts.
type PriceMode string

const (
	// PriceAnyChange alerts on every canonical-decimal change.
	PriceAnyChange PriceMode = "any_change"
	// PriceThreshold alerts only when the price crosses Policy.Threshold.
	PriceThreshold PriceMode = "threshold"
)

// Direction restricts threshold crossings to one side.
type Direction string

const (
	DirectionAny  Direction = "any"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Policy governs when an observed difference becomes an alert.
type Policy struct {
	// Cooldown is the minimum gap between two alerts for the same target.
	Cooldown time.Duration `json:"cooldown"`
	// ResumePause suspends polling after an alert fires. Zero resumes at
	// the normal cadence.
	ResumePause time.Duration `json:"resume_pause,omitempty"`
	// PriceMode applies to price signals only.
	PriceMode PriceMode `json:"price_mode,omitempty"`
	// Threshold is the price boundary for PriceThreshold mode.
	Threshold decimal.Decimal `json:"threshold,omitempty"`
	// Direction restricts which threshold crossings alert.
	Direction Direction `json:"direction,omitempty"`
}

// Validate applies defaults and checks the policy for consistency.
func (p *Policy) Validate() error {
	if p.Cooldown <= 0 {
		p.Cooldown = 5 * time.Minute
	}
	if p.PriceMode == "" {
		p.PriceMode = PriceAnyChange
	}
	if p.Direction == "" {
		p.Direction = DirectionAny
	}
	switch p.PriceMode {
	case PriceAnyChange, PriceThreshold:
	default:
		return fmt.Errorf("%w: unknown price mode %q", ErrInvalidTarget, p.PriceMode)
	}
	switch p.Direction {
	case DirectionAny, DirectionUp, DirectionDown:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTarget, p.Direction)
	}
	if p.PriceMode == PriceThreshold && p.Threshold.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: threshold mode needs a positive threshold", ErrInvalidTarget)
	}
	return nil
}

// Differs reports whether moving from prev to next is a transition under
// this policy. Unknown signals never differ from anything.
func (p Policy) Differs(prev, next extract.Signal) bool {
	if !prev.Known() || !next.Known() {
		return false
	}
	if prev.Kind != next.Kind {
		return true
	}
	if next.Kind != extract.KindPrice {
		return !prev.Equal(next)
	}
	if p.PriceMode == PriceThreshold {
		return p.crossed(prev.Price, next.Price)
	}
	return !prev.Equal(next)
}

// crossed reports whether the price moved across the boundary in the
// alerting direction. Landing exactly on the boundary does not cross;
// leaving it does.
func (p Policy) crossed(prev, next decimal.Decimal) bool {
	down := prev.GreaterThanOrEqual(p.Threshold) && next.LessThan(p.Threshold)
	up := prev.LessThanOrEqual(p.Threshold) && next.GreaterThan(p.Threshold)
	switch p.Direction {
	case DirectionUp:
		return up
	case DirectionDown:
		return down
	default:
		return down || up
	}
}

// Target is one monitored page. Immutable once loaded; the ID stays stable
// across reloads even when the URL changes.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`

	Rule         extract.Rule  `json:"rule"`
	PollInterval time.Duration `json:"poll_interval"`
	Policy       Policy        `json:"policy"`

	// Render fetches through the headless browser instead of plain HTTP.
	Render bool `json:"render,omitempty"`
	// ForceRefreshEvery periodically bypasses conditional-GET validators
	// so a stale cache cannot mask changes indefinitely. Zero disables.
	ForceRefreshEvery time.Duration `json:"force_refresh_every,omitempty"`
}

// Validate applies defaults and checks the target definition. It mutates
// the receiver (rule and policy defaults are filled in).
func (t *Target) Validate() error {
	if err := netguard.ValidateIdentifier(t.ID); err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalidTarget, err)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute url", ErrInvalidTarget, t.URL)
	}
	if t.PollInterval < MinPollInterval || t.PollInterval > MaxPollInterval {
		return fmt.Errorf("%w: poll interval %s outside [%s, %s]",
			ErrInvalidTarget, t.PollInterval, MinPollInterval, MaxPollInterval)
	}
	if t.ForceRefreshEvery < 0 {
		return fmt.Errorf("%w: negative force refresh interval", ErrInvalidTarget)
	}
	if err := t.Rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if err := t.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// Equal reports whether two target definitions are interchangeable for a
// running watcher. The supervisor restarts a watcher when its definition
// changed in any way that affects the poll cycle.
func (t Target) Equal(o Target) bool {
	return t.ID == o.ID &&
		t.Name == o.Name &&
		t.URL == o.URL &&
		t.Rule == o.Rule &&
		t.PollInterval == o.PollInterval &&
		t.Render == o.Render &&
		t.ForceRefreshEvery == o.ForceRefreshEvery &&
		t.Policy.Cooldown == o.Policy.Cooldown &&
		t.Policy.ResumePause == o.Policy.ResumePause &&
		t.Policy.PriceMode == o.Policy.PriceMode &&
		t.Policy.Direction == o.Policy.Direction &&
		t.Policy.Threshold.Equal(o.Policy.Threshold)
}
