// CLAUDE:SUMMARY Target entry validation: conversion to watcher targets with per-entry skip diagnostics.
package guet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/guet/internal/watcher"
)

// TargetError records a target entry that was skipped at load time.
type TargetError struct {
	Index int
	ID    string
	Err   error
}

func (e TargetError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("target %q (entry %d): %v", e.ID, e.Index, e.Err)
	}
	return fmt.Sprintf("target entry %d: %v", e.Index, e.Err)
}

// BuildTargets converts the raw target entries into validated watcher
// targets. Entries that fail validation or repeat an ID are skipped and
// reported; one bad entry never takes down the rest of the file.
func (c *Config) BuildTargets() ([]watcher.Target, []TargetError) {
	targets := make([]watcher.Target, 0, len(c.Targets))
	var skipped []TargetError
	seen := make(map[string]bool, len(c.Targets))
	for i, tc := range c.Targets {
		tg, err := tc.target()
		if err == nil && seen[tg.ID] {
			err = errors.New("duplicate target id")
		}
		if err != nil {
			skipped = append(skipped, TargetError{Index: i, ID: tc.ID, Err: err})
			continue
		}
		seen[tg.ID] = true
		targets = append(targets, tg)
	}
	return targets, skipped
}

// Validate is the one-shot check behind the -validate CLI mode.
func (c *Config) Validate() ([]TargetError, error) {
	targets, skipped := c.BuildTargets()
	if len(targets) == 0 {
		return skipped, ErrNoTargets
	}
	return skipped, nil
}

func (tc TargetConfig) target() (watcher.Target, error) {
	var zero watcher.Target

	u, err := NormalizeTargetURL(tc.URL)
	if err != nil {
		return zero, err
	}

	pol := watcher.Policy{
		Cooldown:    tc.Policy.Cooldown,
		ResumePause: tc.Policy.ResumePause,
		PriceMode:   watcher.PriceMode(tc.Policy.PriceMode),
		Direction:   watcher.Direction(tc.Policy.Direction),
	}
	if tc.Policy.Threshold != "" {
		th, err := decimal.NewFromString(tc.Policy.Threshold)
		if err != nil {
			return zero, fmt.Errorf("policy threshold: %v", err)
		}
		pol.Threshold = th
	}

	tg := watcher.Target{
		ID:                tc.ID,
		Name:              tc.Name,
		URL:               u,
		Rule:              tc.Rule,
		PollInterval:      tc.PollInterval,
		Policy:            pol,
		Render:            tc.Render,
		ForceRefreshEvery: tc.ForceRefreshEvery,
	}
	if err := tg.Validate(); err != nil {
		return zero, err
	}
	return tg, nil
}
