// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package allocator implements the Allocation Builder of spec.md §4.4: it
// turns the per-group candidate sets produced by internal/solver into
// concrete AllocationItems, honoring single_provider and isolate_from, and
// records the item-to-group mapping that the Claim carries alongside the
// Allocation (only the Allocation and its items are persisted).
package allocator

import (
	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/planner"
	"github.com/runmachine-io/runmachine/internal/solver"
)

// Build turns one solved request group per index into an Allocation. Groups
// are processed in order so that isolate_from can exclude the providers
// already picked for an earlier group; an isolate_from reference to a group
// at or after its own index is ignored, since the spec's scenarios only
// exercise backward references (see DESIGN.md).
func Build(groups []core.RequestGroup, solutions []solver.GroupSolution) (core.Claim, error) {
	chosen := make([][]db.ProviderRef, len(groups))
	var items []core.AllocationItem
	var itemGroups []int

	for g, group := range groups {
		sol := solutions[g]
		excl := isolationSet(group.Options.IsolateFrom, chosen, g)

		if group.Options.SingleProvider {
			matches := excludeRefs(sol.Matches, excl)
			sorted := matches.Sorted()
			if len(sorted) == 0 {
				return core.Claim{}, noPlacementErr(group)
			}
			provider := sorted[0]
			chosen[g] = []db.ProviderRef{provider}
			for _, rc := range group.ResourceConstraints {
				items = append(items, core.AllocationItem{
					ProviderUUID:      provider.UUID,
					ResourceClassCode: rc.ResourceClass,
					Used:              rc.MaxAmount,
				})
				itemGroups = append(itemGroups, g)
			}
			continue
		}

		picked := make(map[db.ProviderID]db.ProviderRef)
		for i, rc := range group.ResourceConstraints {
			candidates := excludeRefs(sol.PerResourceConstraint[i], excl)
			sorted := candidates.Sorted()
			if len(sorted) == 0 {
				return core.Claim{}, noPlacementErr(group)
			}
			provider := sorted[0]
			picked[provider.ID] = provider
			items = append(items, core.AllocationItem{
				ProviderUUID:      provider.UUID,
				ResourceClassCode: rc.ResourceClass,
				Used:              rc.MaxAmount,
			})
			itemGroups = append(itemGroups, g)
		}
		for _, ref := range picked {
			chosen[g] = append(chosen[g], ref)
		}
	}

	return core.Claim{
		Allocation:         core.Allocation{Items: items},
		ItemToRequestGroup: itemGroups,
	}, nil
}

func isolationSet(isolateFrom []int, chosen [][]db.ProviderRef, ownIndex int) map[db.ProviderID]bool {
	if len(isolateFrom) == 0 {
		return nil
	}
	out := make(map[db.ProviderID]bool)
	for _, j := range isolateFrom {
		if j < 0 || j >= ownIndex {
			continue
		}
		for _, ref := range chosen[j] {
			out[ref.ID] = true
		}
	}
	return out
}

func excludeRefs(set planner.ProviderSet, excl map[db.ProviderID]bool) planner.ProviderSet {
	if len(excl) == 0 {
		return set
	}
	out := make(planner.ProviderSet, len(set))
	for id, ref := range set {
		if !excl[id] {
			out[id] = ref
		}
	}
	return out
}

// noPlacementErr reports the builder's own NoMatches termination (spec.md
// §4.3/§7): isolate_from excluded every remaining candidate. This is a
// successful "no fit" outcome, not a failure — the Claim Coordinator turns
// it into an empty claim list rather than retrying or surfacing an error.
func noPlacementErr(group core.RequestGroup) error {
	if len(group.ResourceConstraints) == 0 {
		return core.NoPlacementError{Reason: "request group has no candidate provider"}
	}
	return core.NoPlacementError{Reason: "no candidate provider remains for resource class " + group.ResourceConstraints[0].ResourceClass}
}
