// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/planner"
)

func providerSet(ids ...int64) planner.ProviderSet {
	out := make(planner.ProviderSet, len(ids))
	for _, id := range ids {
		out[db.ProviderID(id)] = db.ProviderRef{ID: db.ProviderID(id), UUID: uuidFor(id)}
	}
	return out
}

func uuidFor(id int64) string {
	switch id {
	case 1:
		return "11111111-0000-0000-0000-000000000000"
	case 2:
		return "22222222-0000-0000-0000-000000000000"
	case 3:
		return "33333333-0000-0000-0000-000000000000"
	default:
		return "00000000-0000-0000-0000-000000000000"
	}
}

func TestMatchOrStartsFiltering(t *testing.T) {
	mc := NewMatchContext()
	if mc.StartedFiltering() {
		t.Fatal("fresh MatchContext should not have started filtering")
	}
	ok := mc.MatchOr(providerSet(1, 2))
	if !ok {
		t.Fatal("match_or of a non-empty set should return true")
	}
	if !mc.StartedFiltering() {
		t.Error("match_or must start filtering")
	}
	assert.DeepEqual(t, "matches after match_or", mc.Matches(), providerSet(1, 2))
}

func TestMatchAndIntersects(t *testing.T) {
	mc := NewMatchContext()
	mc.MatchOr(providerSet(1, 2, 3))
	ok := mc.MatchAnd(providerSet(2, 3))
	if !ok {
		t.Fatal("match_and should leave a non-empty intersection")
	}
	assert.DeepEqual(t, "matches after match_and", mc.Matches(), providerSet(2, 3))
}

func TestMatchAndEmptiesOnDisjointSets(t *testing.T) {
	mc := NewMatchContext()
	mc.MatchOr(providerSet(1, 2))
	ok := mc.MatchAnd(providerSet(3))
	if ok {
		t.Fatal("match_and of disjoint sets should return false")
	}
	if len(mc.Matches()) != 0 {
		t.Errorf("expected empty matches, got %v", mc.Matches())
	}
	if !mc.StartedFiltering() {
		t.Error("StartedFiltering must be true once any match_or/match_and has run")
	}
}

// TestExcludeOrPropagatesToExistingMatches exercises spec.md §4.3's
// requirement that exclude applies immediately, not just to future queries.
func TestExcludeOrPropagatesToExistingMatches(t *testing.T) {
	mc := NewMatchContext()
	mc.MatchOr(providerSet(1, 2, 3))
	mc.ExcludeOr(providerSet(2))
	assert.DeepEqual(t, "matches after exclude_or", mc.Matches(), providerSet(1, 3))
}

// TestExcludeOrDoesNotStartFiltering checks that exclude_or alone, before
// any match_or/match_and, leaves StartedFiltering false (spec.md §4.3:
// "exclude_or... does not start filtering").
func TestExcludeOrDoesNotStartFiltering(t *testing.T) {
	mc := NewMatchContext()
	mc.ExcludeOr(providerSet(1))
	if mc.StartedFiltering() {
		t.Error("exclude_or alone must not start filtering")
	}
}

// evaluateResultForEmptyForbid mirrors what evaluateCapabilityConstraint
// returns for a CapabilityConstraint carrying only Forbid codes that match
// no provider: sub never starts filtering, and forbidSet is empty. The real
// function needs a db.Interface to resolve the forbidden capability ids;
// this mirrors its control flow without the DB round trip.
func evaluateResultForEmptyForbid() ConstraintResult {
	sub := NewMatchContext()
	var forbidSet planner.ProviderSet
	if sub.StartedFiltering() {
		return Result(sub.Matches(), forbidSet)
	}
	if len(forbidSet) == 0 {
		return NoExclude
	}
	return Result(nil, forbidSet)
}

// foldConstraintResult mirrors applyCapabilityConstraints's folding of one
// ConstraintResult into mc, without the DB-backed loop over multiple
// constraints.
func foldConstraintResult(mc *MatchContext, res ConstraintResult) {
	if res.IsNoExclude() {
		return
	}
	if len(res.Exclude) > 0 {
		mc.ExcludeOr(res.Exclude)
	}
	if res.Matches != nil {
		mc.MatchOr(res.Matches)
	}
}

// TestNoExcludeIdempotence is testable property 4 of spec.md §8: adding a
// purely-forbid CapabilityConstraint that matches no provider leaves the
// result set unchanged, because evaluateCapabilityConstraint reports
// NoExclude and applyCapabilityConstraints skips it entirely.
func TestNoExcludeIdempotence(t *testing.T) {
	mc := NewMatchContext()
	mc.MatchOr(providerSet(1, 2, 3))
	before := cloneSet(mc.Matches())

	res := evaluateResultForEmptyForbid()
	if !res.IsNoExclude() {
		t.Fatalf("a forbid-only constraint matching nothing must be NoExclude, got %+v", res)
	}
	foldConstraintResult(mc, res)

	assert.DeepEqual(t, "matches after a no-op NoExclude constraint", mc.Matches(), before)
}

func TestConstraintResultNoMatchesIsDistinctFromNoExclude(t *testing.T) {
	if NoMatches.IsNoExclude() {
		t.Error("NoMatches must not report as NoExclude")
	}
	if NoExclude.IsNoMatches() {
		t.Error("NoExclude must not report as NoMatches")
	}
	if !NoMatches.IsNoMatches() {
		t.Error("NoMatches must report as NoMatches")
	}
	if !NoExclude.IsNoExclude() {
		t.Error("NoExclude must report as NoExclude")
	}
}
