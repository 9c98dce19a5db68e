// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "github.com/runmachine-io/runmachine/internal/db"

// Partition is the in-memory view of a partitions row (spec.md §3).
type Partition struct {
	ID   db.PartitionID
	UUID string
	Name string
}

// ProviderGroup is the in-memory view of a provider_groups row.
type ProviderGroup struct {
	ID   db.ProviderGroupID
	UUID string
	Name string
}

// InventoryEntry describes one resource class's posted supply on a provider.
type InventoryEntry struct {
	ResourceClass   string
	Total           int64
	Reserved        int64
	MinUnit         int64
	MaxUnit         int64
	StepSize        int64
	AllocationRatio float64
}

// Validate checks the invariants of spec.md §3 for a single inventory row:
// 0 <= reserved <= total, min_unit <= max_unit <= total, step_size >= 1,
// allocation_ratio >= 1.0.
func (e InventoryEntry) Validate() error {
	switch {
	case e.Reserved < 0 || e.Reserved > e.Total:
		return ValidationError{Reason: "reserved must be between 0 and total"}
	case e.MinUnit > e.MaxUnit:
		return ValidationError{Reason: "min_unit must be <= max_unit"}
	case e.MaxUnit > e.Total:
		return ValidationError{Reason: "max_unit must be <= total"}
	case e.StepSize < 1:
		return ValidationError{Reason: "step_size must be >= 1"}
	case e.AllocationRatio < 1.0:
		return ValidationError{Reason: "allocation_ratio must be >= 1.0"}
	}
	return nil
}

// EffectiveCapacity is (total - reserved) * allocation_ratio.
func (e InventoryEntry) EffectiveCapacity() float64 {
	return float64(e.Total-e.Reserved) * e.AllocationRatio
}

// ProviderSpec is the shape that the Catalog Store's RegisterProvider
// operation accepts: a provider's full posted state, independent of
// whatever providers already exist.
type ProviderSpec struct {
	UUID          string
	Name          string
	PartitionUUID string
	Type          string
	Inventories   []InventoryEntry
	Capabilities  []string // capability codes
	Groups        []string // provider group names this provider belongs to
	// Distances maps a provider group name to the distance code of this
	// provider's edge to that group, keyed by distance type code.
	Distances map[string]map[string]string // group name -> distance type code -> distance code
}

// ProviderSnapshot is a read-only view of a registered provider, as returned
// by ReadProviderByUUID.
type ProviderSnapshot struct {
	ID            db.ProviderID
	UUID          string
	Name          string
	PartitionUUID string
	Type          string
	Generation    int64
	Inventories   map[string]InventoryEntry // keyed by resource class code
	Capabilities  map[string]bool           // keyed by capability code
	Groups        []string
}

// Consumer identifies who a claim is made on behalf of.
type Consumer struct {
	UUID    string
	Name    string
	Project string
	User    string
}

// AllocationItem is one concrete (provider, resource class, quantity)
// assignment within an Allocation (spec.md §3).
type AllocationItem struct {
	ProviderUUID      string
	ResourceClassCode string
	Used              int64
}

// Allocation is a committed record that a consumer uses quantities of
// resource classes on providers during a time window.
type Allocation struct {
	UUID         string
	ConsumerUUID string
	ClaimTime    int64
	ReleaseTime  int64
	Items        []AllocationItem
}

// Claim is the ephemeral, in-memory result of a successful
// process_claim_request call: an Allocation plus the mapping from each
// emitted item back to the request group index that produced it.
type Claim struct {
	Allocation         Allocation
	ItemToRequestGroup []int
}
