// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// PersistAllocation is the final step of spec.md §4.5: inside one
// transaction, it locks each referenced provider's inventory row, re-sums
// overlapping usage, and only commits the Allocation and its items if every
// item still fits. This is what lets a solver decision made against a
// slightly stale snapshot be safely committed or rejected.
func (s *Store) PersistAllocation(meta *core.CatalogMetadata, consumer core.Consumer, alloc core.Allocation) (string, error) {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return "", core.StorageError{Cause: err}
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	consumerID, err := upsertConsumer(tx, consumer)
	if err != nil {
		return "", err
	}

	allocUUID := alloc.UUID
	if allocUUID == "" {
		allocUUID, err = newUUID()
		if err != nil {
			return "", err
		}
	}
	row := db.Allocation{
		UUID:        allocUUID,
		ConsumerID:  consumerID,
		ClaimTime:   alloc.ClaimTime,
		ReleaseTime: alloc.ReleaseTime,
	}
	if err := tx.Insert(&row); err != nil {
		return "", core.ConflictError{Reason: "could not create allocation: " + err.Error()}
	}

	for _, item := range alloc.Items {
		if err := persistItem(tx, meta, row.ID, alloc.ClaimTime, alloc.ReleaseTime, item); err != nil {
			return "", err
		}
	}

	if err := commit(tx); err != nil {
		return "", err
	}
	return allocUUID, nil
}

func persistItem(tx *gorp.Transaction, meta *core.CatalogMetadata, allocationID db.AllocationID, claimTime, releaseTime int64, item core.AllocationItem) error {
	providerID, err := providerIDByUUID(tx, item.ProviderUUID)
	if err != nil {
		return err
	}
	rcID, err := meta.ResourceClassID(item.ResourceClassCode)
	if err != nil {
		return err
	}

	var inv db.Inventory
	err = tx.SelectOne(&inv, sqlext.SimplifyWhitespace(`
		SELECT * FROM inventories
		 WHERE provider_id = $1 AND resource_class_id = $2
		   FOR UPDATE
	`), int64(providerID), int64(rcID))
	if err != nil {
		return core.UnknownCodeError{Kind: "inventory", Code: item.ResourceClassCode}
	}

	used, err := tx.SelectFloat(sqlext.SimplifyWhitespace(`
		SELECT COALESCE(SUM(ai.used), 0)
		  FROM allocation_items ai
		  JOIN allocations a ON a.id = ai.allocation_id
		 WHERE ai.provider_id = $1 AND ai.resource_class_id = $2
		   AND a.claim_time < $4 AND a.release_time > $3
	`), int64(providerID), int64(rcID), claimTime, releaseTime)
	if err != nil {
		return core.StorageError{Cause: err}
	}

	if used+float64(item.Used) > inv.EffectiveCapacity() {
		return core.CapacityExceededError{ProviderUUID: item.ProviderUUID, ResourceClassCode: item.ResourceClassCode}
	}

	dbItem := db.AllocationItem{
		AllocationID:    allocationID,
		ProviderID:      providerID,
		ResourceClassID: rcID,
		Used:            item.Used,
	}
	if err := tx.Insert(&dbItem); err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

func providerIDByUUID(tx *gorp.Transaction, providerUUID string) (db.ProviderID, error) {
	id, err := tx.SelectInt(`SELECT id FROM providers WHERE uuid = $1`, providerUUID)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if id == 0 {
		return 0, core.UnknownCodeError{Kind: "provider", Code: providerUUID}
	}
	return db.ProviderID(id), nil
}

func upsertConsumer(tx *gorp.Transaction, consumer core.Consumer) (db.ConsumerID, error) {
	var row db.Consumer
	err := tx.SelectOne(&row, `SELECT * FROM consumers WHERE uuid = $1`, consumer.UUID)
	if err == nil {
		row.Name = consumer.Name
		row.Project = consumer.Project
		row.User = consumer.User
		if _, err := tx.Update(&row); err != nil {
			return 0, core.StorageError{Cause: err}
		}
		return row.ID, nil
	}

	row = db.Consumer{
		UUID:    consumer.UUID,
		Name:    consumer.Name,
		Project: consumer.Project,
		User:    consumer.User,
	}
	if err := tx.Insert(&row); err != nil {
		return 0, core.ConflictError{Reason: "could not create consumer: " + err.Error()}
	}
	return row.ID, nil
}
