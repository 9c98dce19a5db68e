// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/runmachine-io/runmachine/internal/db"
)

// TestProviderSetSortedTieBreak is testable property 5 of spec.md §8: ties
// are broken ascending by id, then ascending by uuid (spec.md §4.4).
func TestProviderSetSortedTieBreak(t *testing.T) {
	set := ProviderSet{
		3: {ID: 3, UUID: "cccccccc-0000-0000-0000-000000000000"},
		1: {ID: 1, UUID: "bbbbbbbb-0000-0000-0000-000000000000"},
		2: {ID: 2, UUID: "aaaaaaaa-0000-0000-0000-000000000000"},
	}

	want := []db.ProviderRef{
		{ID: 1, UUID: "bbbbbbbb-0000-0000-0000-000000000000"},
		{ID: 2, UUID: "aaaaaaaa-0000-0000-0000-000000000000"},
		{ID: 3, UUID: "cccccccc-0000-0000-0000-000000000000"},
	}
	assert.DeepEqual(t, "Sorted() order", set.Sorted(), want)
}

// TestProviderSetSortedUUIDTieBreak checks the secondary sort key: when IDs
// collide (should not happen in practice, but the comparator must still be
// total), ascending uuid wins.
func TestProviderSetSortedUUIDTieBreak(t *testing.T) {
	a := db.ProviderRef{ID: 5, UUID: "bbbbbbbb-0000-0000-0000-000000000000"}
	b := db.ProviderRef{ID: 5, UUID: "aaaaaaaa-0000-0000-0000-000000000000"}
	set := ProviderSet{5: a}
	// simulate two refs under distinct map entries is impossible since
	// ProviderSet keys by ID; exercise the comparator directly instead.
	if !less(b, a) {
		t.Fatalf("expected %q to sort before %q on uuid", b.UUID, a.UUID)
	}
	assert.DeepEqual(t, "single-entry Sorted()", set.Sorted(), []db.ProviderRef{a})
}

// TestProviderSetSortedDeterministicAcrossCalls runs Sorted() repeatedly on
// the same map; Go's randomized map iteration order must not leak into the
// result (testable property 5: re-running with identical input returns the
// same provider selection).
func TestProviderSetSortedDeterministicAcrossCalls(t *testing.T) {
	set := ProviderSet{}
	for i := int64(1); i <= 20; i++ {
		set[db.ProviderID(i)] = db.ProviderRef{ID: db.ProviderID(i), UUID: "uuid"}
	}

	first := set.Sorted()
	for i := 0; i < 10; i++ {
		again := set.Sorted()
		assert.DeepEqual(t, "repeated Sorted() call", again, first)
	}
}

func TestProviderSetSortedEmpty(t *testing.T) {
	var set ProviderSet
	sorted := set.Sorted()
	if len(sorted) != 0 {
		t.Errorf("expected empty slice, got %v", sorted)
	}
}
