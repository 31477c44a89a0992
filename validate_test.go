package guet

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildTargets_SkipsBadEntries(t *testing.T) {
	// WHAT: Invalid entries are skipped with diagnostics; valid ones survive.
	// WHY: One typo must not take down monitoring of every other target.
	cfg, err := ParseConfig([]byte(`
targets:
  - id: tgt_ok
    url: https://shop.example.com/a
    poll_interval: 1m
    rule: {kind: marker_presence, marker: buy}
  - id: tgt_badurl
    url: ftp://shop.example.com/b
    poll_interval: 1m
    rule: {kind: marker_presence, marker: buy}
  - id: tgt_badrule
    url: https://shop.example.com/c
    poll_interval: 1m
    rule: {kind: price}
  - id: tgt_badpoll
    url: https://shop.example.com/d
    rule: {kind: marker_presence, marker: buy}
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	targets, skipped := cfg.BuildTargets()
	if len(targets) != 1 || targets[0].ID != "tgt_ok" {
		t.Fatalf("targets = %+v, want only tgt_ok", targets)
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped = %d entries, want 3: %v", len(skipped), skipped)
	}
	for _, sk := range skipped {
		if sk.Err == nil || sk.ID == "" {
			t.Errorf("diagnostic should carry id and cause: %+v", sk)
		}
	}
	if skipped[0].ID != "tgt_badurl" || skipped[0].Index != 1 {
		t.Errorf("first skip = %+v, want tgt_badurl at entry 1", skipped[0])
	}
}

func TestBuildTargets_DuplicateID(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
targets:
  - id: tgt_a
    url: https://shop.example.com/a
    poll_interval: 1m
    rule: {kind: marker_presence, marker: buy}
  - id: tgt_a
    url: https://shop.example.com/other
    poll_interval: 5m
    rule: {kind: marker_presence, marker: buy}
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	targets, skipped := cfg.BuildTargets()
	if len(targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(targets))
	}
	if targets[0].URL != "https://shop.example.com/a" {
		t.Errorf("first occurrence should win, got %q", targets[0].URL)
	}
	if len(skipped) != 1 || !strings.Contains(skipped[0].Err.Error(), "duplicate") {
		t.Errorf("skipped = %v, want one duplicate diagnostic", skipped)
	}
}

func TestBuildTargets_NormalizesURL(t *testing.T) {
	// WHAT: Equivalent URL spellings canonicalize to the same target URL.
	// WHY: A cosmetic config edit must not look like a changed target.
	cfg, err := ParseConfig([]byte(`
targets:
  - id: tgt_gpu
    url: "HTTPS://Shop.example.COM/gpu/?b=2&a=1#frag"
    poll_interval: 1m
    rule: {kind: marker_presence, marker: buy}
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	targets, skipped := cfg.BuildTargets()
	if len(skipped) != 0 || len(targets) != 1 {
		t.Fatalf("targets=%d skipped=%v", len(targets), skipped)
	}
	want := "https://shop.example.com/gpu?a=1&b=2"
	if targets[0].URL != want {
		t.Errorf("URL = %q, want %q", targets[0].URL, want)
	}
}

func TestTargetError_Message(t *testing.T) {
	withID := TargetError{Index: 2, ID: "tgt_x", Err: errors.New("boom")}
	if got := withID.Error(); got != `target "tgt_x" (entry 2): boom` {
		t.Errorf("Error() = %q", got)
	}
	anon := TargetError{Index: 0, Err: errors.New("missing id")}
	if got := anon.Error(); got != "target entry 0: missing id" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConfigValidate_NoTargets(t *testing.T) {
	cfg, err := ParseConfig([]byte("targets: []\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if _, err := cfg.Validate(); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("got %v, want ErrNoTargets", err)
	}

	cfg, err = ParseConfig([]byte(`
targets:
  - id: tgt_bad
    url: "ftp://nope"
    poll_interval: 1m
    rule: {kind: marker_presence, marker: buy}
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	skipped, err := cfg.Validate()
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("all-invalid config: got %v, want ErrNoTargets", err)
	}
	if len(skipped) != 1 {
		t.Errorf("skipped = %v, want the one bad entry", skipped)
	}
}
