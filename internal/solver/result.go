// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package solver implements the Constraint Solver / Match Context of
// spec.md §4.3: the stateful per-request-group object that AND/OR-composes
// candidate provider sets across a group's constraints.
//
// The dynamic, duck-typed constraint handling and the mutable singleton
// sentinels NoMatches/NoExclude of the original PoC
// (original_source/tests/poc/resource/claim.py) are re-expressed here as a
// tagged sum type (spec.md §9), eliminating the ambiguity between
// "constraint absent" and "constraint rejected everything".
package solver

import "github.com/runmachine-io/runmachine/internal/planner"

// resultTag distinguishes the three ConstraintResult variants.
type resultTag int

const (
	tagResult resultTag = iota
	tagNoMatches
	tagNoExclude
)

// ConstraintResult is the tagged sum type `NoMatches | NoExclude |
// Result{matches, exclude}` of spec.md §9.
type ConstraintResult struct {
	tag     resultTag
	Matches planner.ProviderSet
	Exclude planner.ProviderSet
}

// NoMatches signals that a constraint excluded every candidate and the
// enclosing group must fail fast (spec.md §4.3 Termination).
var NoMatches = ConstraintResult{tag: tagNoMatches}

// NoExclude signals that a constraint contributed nothing but did not
// fail — the case of a forbid-only CapabilityConstraint that excludes no
// provider (spec.md §4.3, §9; testable property 4).
var NoExclude = ConstraintResult{tag: tagNoExclude}

// Result wraps a concrete (matches, exclude) pair.
func Result(matches, exclude planner.ProviderSet) ConstraintResult {
	return ConstraintResult{tag: tagResult, Matches: matches, Exclude: exclude}
}

// IsNoMatches reports whether this is the NoMatches sentinel.
func (r ConstraintResult) IsNoMatches() bool { return r.tag == tagNoMatches }

// IsNoExclude reports whether this is the NoExclude sentinel.
func (r ConstraintResult) IsNoExclude() bool { return r.tag == tagNoExclude }
