// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"github.com/go-gorp/gorp/v3"
)

// Partition contains a record from the `partitions` table. Partitions are
// seeded once at deployment time and are immutable afterwards.
type Partition struct {
	ID   PartitionID `db:"id"`
	UUID string      `db:"uuid"`
	Name string      `db:"name"`
}

// Provider contains a record from the `providers` table.
type Provider struct {
	ID          ProviderID  `db:"id"`
	UUID        string      `db:"uuid"`
	Name        string      `db:"name"`
	PartitionID PartitionID `db:"partition_id"`
	Type        string      `db:"type"`
	// Generation is bumped every time this provider is re-registered
	// (internal/catalog.RegisterProvider), whether or not its inventory changed.
	Generation int64 `db:"generation"`
}

// ProviderGroup contains a record from the `provider_groups` table.
type ProviderGroup struct {
	ID   ProviderGroupID `db:"id"`
	UUID string          `db:"uuid"`
	Name string          `db:"name"`
}

// ProviderGroupMembership contains a record from the `provider_group_memberships`
// table. Memberships are immutable once loaded from topology.
type ProviderGroupMembership struct {
	ProviderID ProviderID      `db:"provider_id"`
	GroupID    ProviderGroupID `db:"group_id"`
}

// ResourceClass contains a record from the `resource_classes` table.
type ResourceClass struct {
	ID          ResourceClassID `db:"id"`
	Code        string          `db:"code"`
	Description string          `db:"description"`
}

// Capability contains a record from the `capabilities` table.
type Capability struct {
	ID          CapabilityID `db:"id"`
	Code        string       `db:"code"`
	Description string       `db:"description"`
}

// Inventory contains a record from the `inventories` table. Mutated only
// under a write lock on the owning provider (see internal/catalog).
type Inventory struct {
	ProviderID      ProviderID      `db:"provider_id"`
	ResourceClassID ResourceClassID `db:"resource_class_id"`
	Total           int64           `db:"total"`
	Reserved        int64           `db:"reserved"`
	MinUnit         int64           `db:"min_unit"`
	MaxUnit         int64           `db:"max_unit"`
	StepSize        int64           `db:"step_size"`
	AllocationRatio float64         `db:"allocation_ratio"`
}

// EffectiveCapacity is `(total - reserved) * allocation_ratio`, the
// real-valued upper bound on summed `used` across allocation items whose
// time window overlaps (spec.md §3 invariants).
func (i Inventory) EffectiveCapacity() float64 {
	return float64(i.Total-i.Reserved) * i.AllocationRatio
}

// ProviderCapability contains a record from the `provider_capabilities` table.
type ProviderCapability struct {
	ProviderID   ProviderID   `db:"provider_id"`
	CapabilityID CapabilityID `db:"capability_id"`
}

// DistanceType contains a record from the `distance_types` table.
// Code is one of "network", "failure", "storage" (spec.md §3).
type DistanceType struct {
	ID   DistanceTypeID `db:"id"`
	Code string         `db:"code"`
}

// Distance contains a record from the `distances` table. Position defines
// the nearest-to-furthest ordering within a DistanceType.
type Distance struct {
	ID       DistanceID     `db:"id"`
	TypeID   DistanceTypeID `db:"type_id"`
	Code     string         `db:"code"`
	Position int            `db:"position"`
}

// ProviderDistance contains a record from the `provider_distances` table:
// an edge weight between a provider and a provider group.
type ProviderDistance struct {
	ProviderID ProviderID      `db:"provider_id"`
	GroupID    ProviderGroupID `db:"group_id"`
	DistanceID DistanceID      `db:"distance_id"`
}

// Consumer contains a record from the `consumers` table.
type Consumer struct {
	ID      ConsumerID `db:"id"`
	UUID    string     `db:"uuid"`
	Name    string     `db:"name"`
	Project string     `db:"project"`
	User    string     `db:"user"`
}

// Allocation contains a record from the `allocations` table.
type Allocation struct {
	ID          AllocationID `db:"id"`
	ConsumerID  ConsumerID   `db:"consumer_id"`
	ClaimTime   int64        `db:"claim_time"`
	ReleaseTime int64        `db:"release_time"`
}

// AllocationItem contains a record from the `allocation_items` table. Child
// of Allocation; immutable once inserted.
type AllocationItem struct {
	ID              AllocationItemID `db:"id"`
	AllocationID    AllocationID     `db:"allocation_id"`
	ProviderID      ProviderID       `db:"provider_id"`
	ResourceClassID ResourceClassID  `db:"resource_class_id"`
	Used            int64            `db:"used"`
}

// InitGorp registers all table mappings on the given DbMap. It is exported
// separately from Init() so that tests can set up an in-memory mapping
// without going through the full connection bootstrap.
func InitGorp(dbMap *gorp.DbMap) {
	dbMap.AddTableWithName(Partition{}, "partitions").SetKeys(true, "id")
	dbMap.AddTableWithName(Provider{}, "providers").SetKeys(true, "id")
	dbMap.AddTableWithName(ProviderGroup{}, "provider_groups").SetKeys(true, "id")
	dbMap.AddTableWithName(ProviderGroupMembership{}, "provider_group_memberships").SetKeys(false, "provider_id", "group_id")
	dbMap.AddTableWithName(ResourceClass{}, "resource_classes").SetKeys(true, "id")
	dbMap.AddTableWithName(Capability{}, "capabilities").SetKeys(true, "id")
	dbMap.AddTableWithName(Inventory{}, "inventories").SetKeys(false, "provider_id", "resource_class_id")
	dbMap.AddTableWithName(ProviderCapability{}, "provider_capabilities").SetKeys(false, "provider_id", "capability_id")
	dbMap.AddTableWithName(DistanceType{}, "distance_types").SetKeys(true, "id")
	dbMap.AddTableWithName(Distance{}, "distances").SetKeys(true, "id")
	dbMap.AddTableWithName(ProviderDistance{}, "provider_distances").SetKeys(false, "provider_id", "group_id")
	dbMap.AddTableWithName(Consumer{}, "consumers").SetKeys(true, "id")
	dbMap.AddTableWithName(Allocation{}, "allocations").SetKeys(true, "id")
	dbMap.AddTableWithName(AllocationItem{}, "allocation_items").SetKeys(true, "id")
}
