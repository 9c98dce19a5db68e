// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// RegisterProvider inserts a new provider or reconciles an existing one
// (matched by UUID) against the posted spec: inventories, capabilities, and
// group memberships are each brought in line with the spec's set using
// db.SetUpdate, so unrelated rows are left untouched (spec.md §4.1). A new
// provider starts at generation 1; re-registering an existing provider
// advances its generation by one every time, whether or not any of its rows
// changed.
func (s *Store) RegisterProvider(spec core.ProviderSpec) (core.ProviderSnapshot, error) {
	for _, inv := range spec.Inventories {
		if err := inv.Validate(); err != nil {
			return core.ProviderSnapshot{}, err
		}
	}

	tx, err := s.dbMap.Begin()
	if err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	partitionID, err := partitionIDByUUID(tx, spec.PartitionUUID)
	if err != nil {
		return core.ProviderSnapshot{}, err
	}

	var existing db.Provider
	found, err := tx.SelectInt(`SELECT COUNT(*) FROM providers WHERE uuid = $1`, spec.UUID)
	if err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}

	if found == 0 {
		existing = db.Provider{
			UUID:        spec.UUID,
			Name:        spec.Name,
			PartitionID: partitionID,
			Type:        spec.Type,
			Generation:  1,
		}
		if err := tx.Insert(&existing); err != nil {
			return core.ProviderSnapshot{}, core.ConflictError{Reason: "provider uuid already registered (race): " + err.Error()}
		}
	} else {
		err = tx.SelectOne(&existing, `SELECT * FROM providers WHERE uuid = $1`, spec.UUID)
		if err != nil {
			return core.ProviderSnapshot{}, core.StorageError{Cause: err}
		}
		existing.Name = spec.Name
		existing.PartitionID = partitionID
		existing.Type = spec.Type
		existing.Generation++
		if _, err := tx.Update(&existing); err != nil {
			return core.ProviderSnapshot{}, core.StorageError{Cause: err}
		}
	}

	if err := reconcileInventories(tx, existing.ID, spec.Inventories); err != nil {
		return core.ProviderSnapshot{}, err
	}
	if err := reconcileCapabilities(tx, existing.ID, spec.Capabilities); err != nil {
		return core.ProviderSnapshot{}, err
	}
	groupIDs, err := reconcileGroups(tx, existing.ID, spec.Groups)
	if err != nil {
		return core.ProviderSnapshot{}, err
	}
	if err := reconcileDistances(tx, existing.ID, groupIDs, spec.Distances); err != nil {
		return core.ProviderSnapshot{}, err
	}

	if err := commit(tx); err != nil {
		return core.ProviderSnapshot{}, err
	}

	return s.ReadProviderByUUID(spec.UUID)
}

func partitionIDByUUID(tx *gorp.Transaction, uuid string) (db.PartitionID, error) {
	id, err := tx.SelectInt(`SELECT id FROM partitions WHERE uuid = $1`, uuid)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id == 0 {
		return 0, core.UnknownCodeError{Kind: "partition", Code: uuid}
	}
	return db.PartitionID(id), nil
}

func reconcileInventories(tx *gorp.Transaction, providerID db.ProviderID, wanted []core.InventoryEntry) error {
	var existing []db.Inventory
	_, err := tx.Select(&existing, `SELECT * FROM inventories WHERE provider_id = $1`, int64(providerID))
	if err != nil {
		return core.StorageError{Cause: err}
	}

	byCode := make(map[string]core.InventoryEntry, len(wanted))
	keys := make([]db.ResourceClassID, 0, len(wanted))
	codeByID := make(map[db.ResourceClassID]string, len(wanted))
	for _, entry := range wanted {
		rcID, err := resourceClassIDByCode(tx, entry.ResourceClass)
		if err != nil {
			return err
		}
		byCode[entry.ResourceClass] = entry
		codeByID[rcID] = entry.ResourceClass
		keys = append(keys, rcID)
	}

	update := db.SetUpdate[db.Inventory, db.ResourceClassID]{
		ExistingRecords: existing,
		WantedKeys:      keys,
		KeyForRecord:    func(r db.Inventory) db.ResourceClassID { return r.ResourceClassID },
		Create: func(rcID db.ResourceClassID) (db.Inventory, error) {
			return db.Inventory{ProviderID: providerID, ResourceClassID: rcID}, nil
		},
		Update: func(r *db.Inventory) error {
			entry := byCode[codeByID[r.ResourceClassID]]
			r.Total = entry.Total
			r.Reserved = entry.Reserved
			r.MinUnit = entry.MinUnit
			r.MaxUnit = entry.MaxUnit
			r.StepSize = entry.StepSize
			r.AllocationRatio = entry.AllocationRatio
			return nil
		},
	}
	_, err = update.Execute(tx)
	if err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

func reconcileCapabilities(tx *gorp.Transaction, providerID db.ProviderID, codes []string) error {
	var existing []db.ProviderCapability
	_, err := tx.Select(&existing, `SELECT * FROM provider_capabilities WHERE provider_id = $1`, int64(providerID))
	if err != nil {
		return core.StorageError{Cause: err}
	}

	keys := make([]db.CapabilityID, 0, len(codes))
	for _, code := range codes {
		capID, err := capabilityIDByCode(tx, code)
		if err != nil {
			return err
		}
		keys = append(keys, capID)
	}

	update := db.SetUpdate[db.ProviderCapability, db.CapabilityID]{
		ExistingRecords: existing,
		WantedKeys:      keys,
		KeyForRecord:    func(r db.ProviderCapability) db.CapabilityID { return r.CapabilityID },
		Create: func(capID db.CapabilityID) (db.ProviderCapability, error) {
			return db.ProviderCapability{ProviderID: providerID, CapabilityID: capID}, nil
		},
		Update: func(*db.ProviderCapability) error { return nil },
	}
	_, err = update.Execute(tx)
	if err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

func reconcileGroups(tx *gorp.Transaction, providerID db.ProviderID, names []string) (map[string]db.ProviderGroupID, error) {
	var existing []db.ProviderGroupMembership
	_, err := tx.Select(&existing, `SELECT * FROM provider_group_memberships WHERE provider_id = $1`, int64(providerID))
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}

	idByName := make(map[string]db.ProviderGroupID, len(names))
	keys := make([]db.ProviderGroupID, 0, len(names))
	for _, name := range names {
		groupID, err := groupIDByNameOrCreate(tx, name)
		if err != nil {
			return nil, err
		}
		idByName[name] = groupID
		keys = append(keys, groupID)
	}

	update := db.SetUpdate[db.ProviderGroupMembership, db.ProviderGroupID]{
		ExistingRecords: existing,
		WantedKeys:      keys,
		KeyForRecord:    func(r db.ProviderGroupMembership) db.ProviderGroupID { return r.GroupID },
		Create: func(groupID db.ProviderGroupID) (db.ProviderGroupMembership, error) {
			return db.ProviderGroupMembership{ProviderID: providerID, GroupID: groupID}, nil
		},
		Update: func(*db.ProviderGroupMembership) error { return nil },
	}
	_, err = update.Execute(tx)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return idByName, nil
}

// reconcileDistances writes this provider's distance edges to the groups it
// does not itself belong to, as posted in spec.Distances (group name ->
// distance type code -> distance code).
func reconcileDistances(tx *gorp.Transaction, providerID db.ProviderID, ownGroups map[string]db.ProviderGroupID, distances map[string]map[string]string) error {
	var existing []db.ProviderDistance
	_, err := tx.Select(&existing, `SELECT * FROM provider_distances WHERE provider_id = $1`, int64(providerID))
	if err != nil {
		return core.StorageError{Cause: err}
	}

	type edge struct {
		groupID    db.ProviderGroupID
		distanceID db.DistanceID
	}
	keys := make([]db.ProviderGroupID, 0, len(distances))
	edgeByGroup := make(map[db.ProviderGroupID]edge, len(distances))
	for groupName, byType := range distances {
		groupID, ok := ownGroups[groupName]
		if !ok {
			groupID, err = groupIDByNameOrCreate(tx, groupName)
			if err != nil {
				return err
			}
		}
		for typeCode, distanceCode := range byType {
			distanceID, err := distanceIDByCode(tx, typeCode, distanceCode)
			if err != nil {
				return err
			}
			keys = append(keys, groupID)
			edgeByGroup[groupID] = edge{groupID: groupID, distanceID: distanceID}
		}
	}

	update := db.SetUpdate[db.ProviderDistance, db.ProviderGroupID]{
		ExistingRecords: existing,
		WantedKeys:      keys,
		KeyForRecord:    func(r db.ProviderDistance) db.ProviderGroupID { return r.GroupID },
		Create: func(groupID db.ProviderGroupID) (db.ProviderDistance, error) {
			return db.ProviderDistance{ProviderID: providerID, GroupID: groupID}, nil
		},
		Update: func(r *db.ProviderDistance) error {
			r.DistanceID = edgeByGroup[r.GroupID].distanceID
			return nil
		},
	}
	_, err = update.Execute(tx)
	if err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

func resourceClassIDByCode(tx *gorp.Transaction, code string) (db.ResourceClassID, error) {
	id, err := tx.SelectInt(`SELECT id FROM resource_classes WHERE code = $1`, code)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id == 0 {
		return 0, core.UnknownCodeError{Kind: "resource class", Code: code}
	}
	return db.ResourceClassID(id), nil
}

func capabilityIDByCode(tx *gorp.Transaction, code string) (db.CapabilityID, error) {
	id, err := tx.SelectInt(`SELECT id FROM capabilities WHERE code = $1`, code)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id == 0 {
		return 0, core.UnknownCodeError{Kind: "capability", Code: code}
	}
	return db.CapabilityID(id), nil
}

func distanceIDByCode(tx *gorp.Transaction, typeCode, distanceCode string) (db.DistanceID, error) {
	id, err := tx.SelectInt(`
		SELECT d.id FROM distances d JOIN distance_types dt ON dt.id = d.type_id
		 WHERE dt.code = $1 AND d.code = $2
	`, typeCode, distanceCode)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id == 0 {
		return 0, core.UnknownCodeError{Kind: "distance code", Code: typeCode + "/" + distanceCode}
	}
	return db.DistanceID(id), nil
}

// groupIDByNameOrCreate looks up a provider group by name, creating it if
// this is the first provider to reference it (provider groups are seeded
// incrementally from topology data, spec.md §3, not all at once like
// resource classes and capabilities).
func groupIDByNameOrCreate(tx *gorp.Transaction, name string) (db.ProviderGroupID, error) {
	id, err := tx.SelectInt(`SELECT id FROM provider_groups WHERE name = $1`, name)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id != 0 {
		return db.ProviderGroupID(id), nil
	}
	groupUUID, err := newUUID()
	if err != nil {
		return 0, err
	}
	group := db.ProviderGroup{UUID: groupUUID, Name: name}
	if err := tx.Insert(&group); err != nil {
		return 0, core.StorageError{Cause: err}
	}
	return group.ID, nil
}

// ReadProviderByUUID returns a read-only snapshot of a registered provider.
func (s *Store) ReadProviderByUUID(providerUUID string) (core.ProviderSnapshot, error) {
	var provider db.Provider
	err := s.dbMap.SelectOne(&provider, `SELECT * FROM providers WHERE uuid = $1`, providerUUID)
	if err != nil {
		return core.ProviderSnapshot{}, core.UnknownCodeError{Kind: "provider", Code: providerUUID}
	}

	var partition db.Partition
	if err := s.dbMap.SelectOne(&partition, `SELECT * FROM partitions WHERE id = $1`, int64(provider.PartitionID)); err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}

	var invRows []struct {
		db.Inventory
		Code string `db:"code"`
	}
	_, err = s.dbMap.Select(&invRows, sqlext.SimplifyWhitespace(`
		SELECT i.*, rc.code
		  FROM inventories i
		  JOIN resource_classes rc ON rc.id = i.resource_class_id
		 WHERE i.provider_id = $1
	`), int64(provider.ID))
	if err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}
	inventories := make(map[string]core.InventoryEntry, len(invRows))
	for _, r := range invRows {
		inventories[r.Code] = core.InventoryEntry{
			ResourceClass:   r.Code,
			Total:           r.Total,
			Reserved:        r.Reserved,
			MinUnit:         r.MinUnit,
			MaxUnit:         r.MaxUnit,
			StepSize:        r.StepSize,
			AllocationRatio: r.AllocationRatio,
		}
	}

	var capRows []struct {
		Code string `db:"code"`
	}
	_, err = s.dbMap.Select(&capRows, sqlext.SimplifyWhitespace(`
		SELECT c.code
		  FROM provider_capabilities pc
		  JOIN capabilities c ON c.id = pc.capability_id
		 WHERE pc.provider_id = $1
	`), int64(provider.ID))
	if err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}
	capabilities := make(map[string]bool, len(capRows))
	for _, r := range capRows {
		capabilities[r.Code] = true
	}

	var groupRows []struct {
		Name string `db:"name"`
	}
	_, err = s.dbMap.Select(&groupRows, sqlext.SimplifyWhitespace(`
		SELECT pg.name
		  FROM provider_group_memberships pgm
		  JOIN provider_groups pg ON pg.id = pgm.group_id
		 WHERE pgm.provider_id = $1
	`), int64(provider.ID))
	if err != nil {
		return core.ProviderSnapshot{}, core.StorageError{Cause: err}
	}
	groups := make([]string, len(groupRows))
	for i, r := range groupRows {
		groups[i] = r.Name
	}

	return core.ProviderSnapshot{
		ID:            provider.ID,
		UUID:          provider.UUID,
		Name:          provider.Name,
		PartitionUUID: partition.UUID,
		Type:          provider.Type,
		Generation:    provider.Generation,
		Inventories:   inventories,
		Capabilities:  capabilities,
		Groups:        groups,
	}, nil
}
