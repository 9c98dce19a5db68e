// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package claim_test

import (
	"context"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/runmachine-io/runmachine/internal/catalog"
	"github.com/runmachine-io/runmachine/internal/claim"
	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/test"
)

// testEnv wires a fresh, empty catalog plus a Coordinator over it. Every
// scenario gets its own partition and a resettable set of seeded enums.
type testEnv struct {
	store *catalog.Store
	meta  *core.CatalogMetadata
	coord *claim.Coordinator
}

func newTestEnv(t *testing.T, seed catalog.EnumSeed) testEnv {
	t.Helper()
	dbm := test.InitDatabase(t)

	if err := dbm.Insert(&db.Partition{UUID: "partition-1", Name: "region1"}); err != nil {
		t.Fatal(err)
	}
	store := catalog.NewStore(dbm)
	if err := store.Seed(seed); err != nil {
		t.Fatal(err)
	}
	meta := &core.CatalogMetadata{}
	if err := meta.Load(store); err != nil {
		t.Fatal(err)
	}
	return testEnv{store: store, meta: meta, coord: claim.NewCoordinator(dbm, store, meta)}
}

func registerProvider(t *testing.T, store *catalog.Store, uuid string, cpuTotal int64, caps ...string) core.ProviderSnapshot {
	t.Helper()
	snap, err := store.RegisterProvider(core.ProviderSpec{
		UUID:          uuid,
		Name:          uuid,
		PartitionUUID: "partition-1",
		Type:          "compute",
		Inventories: []core.InventoryEntry{
			{ResourceClass: "cpu.shared", Total: cpuTotal, MinUnit: 1, MaxUnit: cpuTotal, StepSize: 1, AllocationRatio: 1.0},
		},
		Capabilities: caps,
	})
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func cpuConstraint(amount int64) core.ResourceConstraint {
	return core.ResourceConstraint{ResourceClass: "cpu.shared", MinAmount: amount, MaxAmount: amount}
}

// TestScenarioS1SingleResourceSingleProvider is spec.md §8 scenario S1.
func TestScenarioS1SingleResourceSingleProvider(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{ResourceClasses: []string{"cpu.shared"}})
	p1 := registerProvider(t, env.store, "p1", 8)

	req := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(2)},
		}},
	}

	claims, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one Claim, got %d", len(claims))
	}
	want := []core.AllocationItem{{ProviderUUID: p1.UUID, ResourceClassCode: "cpu.shared", Used: 2}}
	assert.DeepEqual(t, "S1 allocation items", claims[0].Allocation.Items, want)
}

// TestScenarioS2CapacitySaturation is spec.md §8 scenario S2: the second of
// two sequential saturating claims must return an empty list, not an error.
func TestScenarioS2CapacitySaturation(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{ResourceClasses: []string{"cpu.shared"}})
	registerProvider(t, env.store, "p1", 8)

	req := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(6)},
		}},
	}

	first, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("expected the first claim to succeed, got %d claims", len(first))
	}

	second, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("NoPlacement must be a successful outcome, not an error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected the second, saturating claim to return an empty list, got %d claims", len(second))
	}
}

// TestScenarioS3CapabilityRequire is spec.md §8 scenario S3.
func TestScenarioS3CapabilityRequire(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{
		ResourceClasses: []string{"cpu.shared"},
		Capabilities:    []string{"hw.cpu.x86.avx"},
	})
	p1 := registerProvider(t, env.store, "p1", 8, "hw.cpu.x86.avx")
	registerProvider(t, env.store, "p2", 8)

	req := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(2)},
			CapabilityConstraints: []core.CapabilityConstraint{
				{Require: []string{"hw.cpu.x86.avx"}},
			},
		}},
	}

	claims, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one Claim, got %d", len(claims))
	}
	if got := claims[0].Allocation.Items[0].ProviderUUID; got != p1.UUID {
		t.Errorf("expected claim to assign to p1 (the only AVX-capable provider), got %s", got)
	}
}

// TestScenarioS4ForbidOnlyNoMatchIsNoExclude is spec.md §8 scenario S4: a
// forbid-only constraint whose forbidden capability matches no provider must
// be treated as NoExclude, not as a failure.
func TestScenarioS4ForbidOnlyNoMatchIsNoExclude(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{
		ResourceClasses: []string{"cpu.shared"},
		Capabilities:    []string{"hw.cpu.x86.vmx"},
	})
	p1 := registerProvider(t, env.store, "p1", 8)
	registerProvider(t, env.store, "p2", 8)

	req := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(2)},
			CapabilityConstraints: []core.CapabilityConstraint{
				{Forbid: []string{"hw.cpu.x86.vmx"}},
			},
		}},
	}

	claims, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected a NoExclude forbid constraint to still succeed, got %d claims", len(claims))
	}
	if got := claims[0].Allocation.Items[0].ProviderUUID; got != p1.UUID {
		t.Errorf("expected the lowest-id provider p1 to be chosen, got %s", got)
	}
}

// TestScenarioS5TwoGroupsIsolateFrom is spec.md §8 scenario S5.
func TestScenarioS5TwoGroupsIsolateFrom(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{ResourceClasses: []string{"cpu.shared"}})
	p1 := registerProvider(t, env.store, "p1", 8)
	p2 := registerProvider(t, env.store, "p2", 8)

	req := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{
			{
				Options:             core.DefaultRequestGroupOptions(),
				ResourceConstraints: []core.ResourceConstraint{cpuConstraint(1)},
			},
			{
				Options:             core.RequestGroupOptions{SingleProvider: true, IsolateFrom: []int{0}},
				ResourceConstraints: []core.ResourceConstraint{cpuConstraint(1)},
			},
		},
	}

	claims, err := env.coord.ProcessClaimRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one Claim, got %d", len(claims))
	}

	alloc := claims[0].Allocation
	if len(alloc.Items) != 2 {
		t.Fatalf("expected two AllocationItems, got %d", len(alloc.Items))
	}
	if alloc.Items[0].ProviderUUID == alloc.Items[1].ProviderUUID {
		t.Fatalf("isolate_from must place the two groups on different providers, both landed on %s", alloc.Items[0].ProviderUUID)
	}
	gotProviders := map[string]bool{alloc.Items[0].ProviderUUID: true, alloc.Items[1].ProviderUUID: true}
	if !gotProviders[p1.UUID] || !gotProviders[p2.UUID] {
		t.Fatalf("expected items on p1 and p2, got %v", alloc.Items)
	}
	assert.DeepEqual(t, "item to request group map", claims[0].ItemToRequestGroup, []int{0, 1})
}

// TestScenarioS6TimeWindowNonOverlap is spec.md §8 scenario S6.
func TestScenarioS6TimeWindowNonOverlap(t *testing.T) {
	env := newTestEnv(t, catalog.EnumSeed{ResourceClasses: []string{"cpu.shared"}})
	p1 := registerProvider(t, env.store, "p1", 8)

	earlier := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-0"},
		ClaimTime:   0,
		ReleaseTime: 100,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(8)},
		}},
	}
	claims, err := env.coord.ProcessClaimRequest(context.Background(), earlier)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected the first claim to fully saturate p1, got %d claims", len(claims))
	}

	later := core.ClaimRequest{
		Consumer:    core.Consumer{UUID: "consumer-1"},
		ClaimTime:   100,
		ReleaseTime: 200,
		RequestGroups: []core.RequestGroup{{
			Options:             core.DefaultRequestGroupOptions(),
			ResourceConstraints: []core.ResourceConstraint{cpuConstraint(8)},
		}},
	}
	claims, err = env.coord.ProcessClaimRequest(context.Background(), later)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected the non-overlapping claim to succeed on p1, got %d claims", len(claims))
	}
	if got := claims[0].Allocation.Items[0].ProviderUUID; got != p1.UUID {
		t.Errorf("expected p1, got %s", got)
	}
}
