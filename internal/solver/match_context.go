// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import "github.com/runmachine-io/runmachine/internal/planner"

// MatchContext is the stateful per-group object of spec.md §4.3. It owns
// its matches/exclude maps exclusively for the life of one request group
// (spec.md §9 Ownership) and is never shared across goroutines.
type MatchContext struct {
	matches          planner.ProviderSet
	exclude          planner.ProviderSet
	startedFiltering bool
}

// NewMatchContext returns an empty, not-yet-filtering context.
func NewMatchContext() *MatchContext {
	return &MatchContext{exclude: planner.ProviderSet{}}
}

// StartedFiltering distinguishes "no filter applied yet" from "filter
// applied, result empty" (spec.md §4.3).
func (mc *MatchContext) StartedFiltering() bool { return mc.startedFiltering }

// Matches returns the current candidate set (post-exclude).
func (mc *MatchContext) Matches() planner.ProviderSet { return mc.matches }

// Exclude returns the accumulated exclusion set.
func (mc *MatchContext) Exclude() planner.ProviderSet { return mc.exclude }

// MatchOr unions `next` into matches (or sets matches = next if this is the
// first filter applied). Returns true iff the result is non-empty.
func (mc *MatchContext) MatchOr(next planner.ProviderSet) bool {
	if !mc.startedFiltering {
		mc.matches = cloneSet(next)
	} else {
		mc.matches = union(mc.matches, next)
	}
	mc.startedFiltering = true
	mc.applyExclude()
	return len(mc.matches) > 0
}

// MatchAnd intersects `next` into matches (or sets matches = next if this
// is the first filter applied). Returns true iff the result is non-empty.
func (mc *MatchContext) MatchAnd(next planner.ProviderSet) bool {
	if !mc.startedFiltering {
		mc.matches = cloneSet(next)
	} else {
		mc.matches = intersect(mc.matches, next)
	}
	mc.startedFiltering = true
	mc.applyExclude()
	return len(mc.matches) > 0
}

// ExcludeOr adds `next` to the exclusion set. Does not start filtering on
// its own, but immediately subtracts the newly-excluded providers from any
// matches already accumulated — this is how spec.md §9's requirement that
// "exclude must propagate to every subsequent query within the group" is
// realized here: rather than threading the exclusion set into every SQL
// WHERE clause, it is applied in-memory and kept applied from this point
// forward.
func (mc *MatchContext) ExcludeOr(next planner.ProviderSet) {
	mc.exclude = union(mc.exclude, next)
	mc.applyExclude()
}

func (mc *MatchContext) applyExclude() {
	if len(mc.exclude) == 0 || len(mc.matches) == 0 {
		return
	}
	mc.matches = subtract(mc.matches, mc.exclude)
}

func cloneSet(s planner.ProviderSet) planner.ProviderSet {
	out := make(planner.ProviderSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func union(a, b planner.ProviderSet) planner.ProviderSet {
	out := make(planner.ProviderSet, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func intersect(a, b planner.ProviderSet) planner.ProviderSet {
	out := make(planner.ProviderSet, minInt(len(a), len(b)))
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k, v := range small {
		if _, ok := large[k]; ok {
			out[k] = v
		}
	}
	return out
}

func subtract(a, b planner.ProviderSet) planner.ProviderSet {
	out := make(planner.ProviderSet, len(a))
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
