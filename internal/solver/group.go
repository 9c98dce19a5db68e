// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/planner"
)

// Limit bounds every predicate query issued while solving one group. Left
// at planner.DefaultLimit unless a caller has reason to widen it (e.g. a
// retry after CapacityExceeded wants a larger candidate pool).
type Limit = int

// GroupSolution is the result of solving one RequestGroup. Matches is the
// final candidate set after every constraint in the group has been applied.
// PerResourceConstraint[i] is the capacity/capability-qualified set for
// ResourceConstraints[i] alone (before the group-level AND with other
// constraints is folded in) — the Allocation Builder needs this
// per-constraint view for groups with single_provider=false (spec.md §4.4),
// where different constraints may be satisfied by different providers.
type GroupSolution struct {
	Matches               planner.ProviderSet
	PerResourceConstraint []planner.ProviderSet
}

// SolveGroup evaluates one RequestGroup's constraints against meta/dbi and
// returns the surviving candidate providers, composed per spec.md §4.3:
//
//   - within one CapabilityConstraint: require AND any AND NOT forbid
//   - across a group's CapabilityConstraints: OR
//   - across ResourceConstraints: AND when the group requires a single
//     provider, OR when it does not (spec.md §4.4 permits splitting
//     resource constraints across providers in that case)
//   - the ProviderGroupConstraint and DistanceConstraints: AND, applied
//     on top of whichever resource-constraint composition was used
//
// The running exclude set is carried forward throughout so excluded
// providers never reappear. Any AND that empties the candidate set once
// filtering has started fails fast with core.NoPlacementError, the
// NoMatches termination of §4.3 — a successful "no fit" outcome per §7,
// not a failure.
func SolveGroup(dbi db.Interface, meta *core.CatalogMetadata, group core.RequestGroup, claimTime, releaseTime int64, limit Limit) (GroupSolution, error) {
	if limit <= 0 {
		limit = planner.DefaultLimit
	}
	mc := NewMatchContext()

	if err := applyCapabilityConstraints(dbi, meta, mc, group.CapabilityConstraints, limit); err != nil {
		return GroupSolution{}, err
	}

	perConstraint := make([]planner.ProviderSet, len(group.ResourceConstraints))
	resourceUnion := NewMatchContext()
	for i, rc := range group.ResourceConstraints {
		matches, err := resolveResourceConstraint(dbi, meta, mc, rc, claimTime, releaseTime, limit)
		if err != nil {
			return GroupSolution{}, err
		}
		perConstraint[i] = matches

		if group.Options.SingleProvider {
			mc.MatchAnd(matches)
		} else {
			resourceUnion.MatchOr(matches)
		}
		if mc.StartedFiltering() && group.Options.SingleProvider && len(mc.Matches()) == 0 {
			return GroupSolution{}, core.NoPlacementError{Reason: "no provider has capacity for resource class " + rc.ResourceClass}
		}
	}
	if !group.Options.SingleProvider && len(group.ResourceConstraints) > 0 {
		mc.MatchAnd(resourceUnion.Matches())
		if mc.StartedFiltering() && len(mc.Matches()) == 0 {
			return GroupSolution{}, core.NoPlacementError{Reason: "no provider has capacity for resource class " + group.ResourceConstraints[0].ResourceClass}
		}
	}

	if group.ProviderGroupConstraint != nil {
		if err := applyProviderGroupConstraint(dbi, mc, *group.ProviderGroupConstraint, limit); err != nil {
			return GroupSolution{}, err
		}
		if mc.StartedFiltering() && len(mc.Matches()) == 0 {
			return GroupSolution{}, core.NoPlacementError{Reason: "no provider satisfies the group's provider-group constraint"}
		}
	}

	for _, dc := range group.DistanceConstraints {
		if err := applyDistanceConstraint(dbi, meta, mc, dc, limit); err != nil {
			return GroupSolution{}, err
		}
		if mc.StartedFiltering() && len(mc.Matches()) == 0 {
			return GroupSolution{}, core.NoPlacementError{Reason: "no provider satisfies the group's distance constraint"}
		}
	}

	for i, ps := range perConstraint {
		perConstraint[i] = intersect(ps, mc.Matches())
	}

	return GroupSolution{Matches: mc.Matches(), PerResourceConstraint: perConstraint}, nil
}

// applyCapabilityConstraints evaluates every CapabilityConstraint in the
// group and OR-composes the concrete ones into mc. A forbid-only
// constraint contributes to mc.Exclude directly rather than to the OR, since
// it restricts every alternative rather than being an alternative itself
// (see DESIGN.md for why this is the chosen reading of an otherwise
// underspecified corner of spec.md §4.3).
func applyCapabilityConstraints(dbi db.Interface, meta *core.CatalogMetadata, mc *MatchContext, constraints []core.CapabilityConstraint, limit int) error {
	for _, c := range constraints {
		res, err := evaluateCapabilityConstraint(dbi, meta, c, limit)
		if err != nil {
			return err
		}
		if res.IsNoExclude() {
			continue
		}
		if len(res.Exclude) > 0 {
			mc.ExcludeOr(res.Exclude)
		}
		if res.Matches != nil {
			mc.MatchOr(res.Matches)
		}
	}
	return nil
}

// evaluateCapabilityConstraint computes the candidate set for one
// CapabilityConstraint in isolation: require AND any, with forbid then
// subtracted. A constraint carrying only forbid codes has no positive
// candidate set of its own; if those codes match nothing, the constraint
// is NoExclude (spec.md §9 point 4); otherwise its forbidden ids are
// reported via Exclude with Matches left nil.
func evaluateCapabilityConstraint(dbi db.Interface, meta *core.CatalogMetadata, c core.CapabilityConstraint, limit int) (ConstraintResult, error) {
	sub := NewMatchContext()

	if len(c.Require) > 0 {
		ids, err := meta.CapabilityIDs(c.Require)
		if err != nil {
			return ConstraintResult{}, err
		}
		matches, err := planner.HasAllCaps(dbi, ids, limit)
		if err != nil {
			return ConstraintResult{}, err
		}
		sub.MatchAnd(matches)
	}

	if len(c.Any) > 0 {
		ids, err := meta.CapabilityIDs(c.Any)
		if err != nil {
			return ConstraintResult{}, err
		}
		matches, err := planner.HasAnyCaps(dbi, ids, limit)
		if err != nil {
			return ConstraintResult{}, err
		}
		sub.MatchAnd(matches)
	}

	var forbidSet planner.ProviderSet
	if len(c.Forbid) > 0 {
		ids, err := meta.CapabilityIDs(c.Forbid)
		if err != nil {
			return ConstraintResult{}, err
		}
		forbidSet, err = planner.HasAnyCaps(dbi, ids, limit)
		if err != nil {
			return ConstraintResult{}, err
		}
	}

	if !sub.StartedFiltering() {
		if len(forbidSet) == 0 {
			return NoExclude, nil
		}
		return Result(nil, forbidSet), nil
	}

	sub.ExcludeOr(forbidSet)
	return Result(sub.Matches(), forbidSet), nil
}

// resolveResourceConstraint computes the capacity/capability-qualified
// candidate set for one ResourceConstraint. Any capability forbid codes it
// carries are folded into mc's exclude set as a side effect, since those
// apply group-wide regardless of how the resource constraints themselves
// are composed (spec.md §4.3 exclude propagation).
func resolveResourceConstraint(dbi db.Interface, meta *core.CatalogMetadata, mc *MatchContext, rc core.ResourceConstraint, claimTime, releaseTime int64, limit int) (planner.ProviderSet, error) {
	rcID, err := meta.ResourceClassID(rc.ResourceClass)
	if err != nil {
		return nil, err
	}

	var matches planner.ProviderSet
	if rc.Capability != nil && !rc.Capability.IsEmpty() {
		resolved, err := resolveCapability(meta, *rc.Capability)
		if err != nil {
			return nil, err
		}
		matches, err = planner.ResourceWithCapability(dbi, rcID, rc.MaxAmount, claimTime, releaseTime, resolved, limit)
		if err != nil {
			return nil, err
		}
		if len(resolved.Forbid) > 0 {
			forbidMatches, err := planner.HasAnyCaps(dbi, resolved.Forbid, limit)
			if err != nil {
				return nil, err
			}
			mc.ExcludeOr(forbidMatches)
			matches = subtract(matches, forbidMatches)
		}
	} else {
		matches, err = planner.CapacityInWindow(dbi, rcID, rc.MaxAmount, claimTime, releaseTime, limit)
		if err != nil {
			return nil, err
		}
	}
	if len(mc.Exclude()) > 0 {
		matches = subtract(matches, mc.Exclude())
	}

	return matches, nil
}

func resolveCapability(meta *core.CatalogMetadata, c core.CapabilityConstraint) (planner.ResolvedCapability, error) {
	require, err := meta.CapabilityIDs(c.Require)
	if err != nil {
		return planner.ResolvedCapability{}, err
	}
	forbid, err := meta.CapabilityIDs(c.Forbid)
	if err != nil {
		return planner.ResolvedCapability{}, err
	}
	any, err := meta.CapabilityIDs(c.Any)
	if err != nil {
		return planner.ResolvedCapability{}, err
	}
	return planner.ResolvedCapability{Require: require, Forbid: forbid, Any: any}, nil
}

func applyProviderGroupConstraint(dbi db.Interface, mc *MatchContext, pgc core.ProviderGroupConstraint, limit int) error {
	if len(pgc.RequireGroups) > 0 {
		ids, err := planner.ResolveGroupIDs(dbi, pgc.RequireGroups)
		if err != nil {
			return err
		}
		matches, err := planner.RequireGroups(dbi, idValues(ids), limit)
		if err != nil {
			return err
		}
		mc.MatchAnd(matches)
	}

	if len(pgc.AnyGroups) > 0 {
		ids, err := planner.ResolveGroupIDs(dbi, pgc.AnyGroups)
		if err != nil {
			return err
		}
		matches, err := planner.AnyGroups(dbi, idValues(ids), limit)
		if err != nil {
			return err
		}
		mc.MatchAnd(matches)
	}

	if len(pgc.ForbidGroups) > 0 {
		ids, err := planner.ResolveGroupIDs(dbi, pgc.ForbidGroups)
		if err != nil {
			return err
		}
		matches, err := planner.AnyGroups(dbi, idValues(ids), limit)
		if err != nil {
			return err
		}
		mc.ExcludeOr(matches)
	}

	return nil
}

func applyDistanceConstraint(dbi db.Interface, meta *core.CatalogMetadata, mc *MatchContext, dc core.DistanceConstraint, limit int) error {
	refID, err := planner.ResolveProviderID(dbi, dc.ReferenceUUID)
	if err != nil {
		return err
	}
	typeID, err := meta.DistanceTypeID(dc.DistanceType)
	if err != nil {
		return err
	}
	matches, err := planner.DistanceBounded(dbi, typeID, refID, dc.MinPosition, dc.MaxPosition, limit)
	if err != nil {
		return err
	}
	mc.MatchAnd(matches)
	return nil
}

func idValues(m map[string]db.ProviderGroupID) []db.ProviderGroupID {
	out := make([]db.ProviderGroupID, 0, len(m))
	for _, id := range m {
		out = append(out, id)
	}
	return out
}
