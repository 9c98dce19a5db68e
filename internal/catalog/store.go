// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog implements the Catalog Store of spec.md §4.1: schema
// bootstrap, seeding of the fixed enums (resource classes, capabilities,
// distance types/codes), provider registration, and allocation persistence.
package catalog

import (
	"github.com/go-gorp/gorp/v3"
	"github.com/gofrs/uuid"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// Store is the Catalog Store. One instance is built at engine startup and
// shared read-mostly by concurrent request-processing tasks (spec.md §5);
// writes (RegisterProvider, PersistAllocation) take their own transaction.
type Store struct {
	dbMap *gorp.DbMap
}

// NewStore wraps an already-migrated gorp.DbMap.
func NewStore(dbMap *gorp.DbMap) *Store {
	return &Store{dbMap: dbMap}
}

// EnumSeed is the deployment-time set of fixed catalog codes (spec.md §3):
// resource classes, capabilities, and distance types with their ordered
// codes (nearest to furthest).
type EnumSeed struct {
	ResourceClasses []string
	Capabilities    []string
	DistanceTypes   map[string][]string // type code -> ordered distance codes
}

// Seed inserts every code in the seed that is not already present. It is
// idempotent: re-running it against an already-seeded catalog is a no-op.
func (s *Store) Seed(seed EnumSeed) error {
	tx, err := s.dbMap.Begin()
	if err != nil {
		return core.StorageError{Cause: err}
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	for _, code := range seed.ResourceClasses {
		if err := insertIfMissing(tx, "resource_classes", code); err != nil {
			return err
		}
	}
	for _, code := range seed.Capabilities {
		if err := insertIfMissing(tx, "capabilities", code); err != nil {
			return err
		}
	}
	for typeCode, codes := range seed.DistanceTypes {
		var typeID db.DistanceTypeID
		found, err := tx.SelectInt(`SELECT id FROM distance_types WHERE code = $1`, typeCode)
		if err != nil {
			return core.StorageError{Cause: err}
		}
		if found == 0 {
			if err := tx.Insert(&db.DistanceType{Code: typeCode}); err != nil {
				return core.StorageError{Cause: err}
			}
			found, err = tx.SelectInt(`SELECT id FROM distance_types WHERE code = $1`, typeCode)
			if err != nil {
				return core.StorageError{Cause: err}
			}
		}
		typeID = db.DistanceTypeID(found)
		for position, code := range codes {
			count, err := tx.SelectInt(`SELECT COUNT(*) FROM distances WHERE type_id = $1 AND code = $2`, int64(typeID), code)
			if err != nil {
				return core.StorageError{Cause: err}
			}
			if count > 0 {
				continue
			}
			if err := tx.Insert(&db.Distance{TypeID: typeID, Code: code, Position: position}); err != nil {
				return core.StorageError{Cause: err}
			}
		}
	}

	return commit(tx)
}

func insertIfMissing(tx *gorp.Transaction, table, code string) error {
	count, err := tx.SelectInt("SELECT COUNT(*) FROM "+table+" WHERE code = $1", code)
	if err != nil {
		return core.StorageError{Cause: err}
	}
	if count > 0 {
		return nil
	}
	switch table {
	case "resource_classes":
		err = tx.Insert(&db.ResourceClass{Code: code})
	case "capabilities":
		err = tx.Insert(&db.Capability{Code: code})
	}
	if err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

// LoadResourceClassCodes implements core.MetadataLoader.
func (s *Store) LoadResourceClassCodes() (map[string]db.ResourceClassID, error) {
	var rows []db.ResourceClass
	_, err := s.dbMap.Select(&rows, `SELECT id, code FROM resource_classes`)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	out := make(map[string]db.ResourceClassID, len(rows))
	for _, r := range rows {
		out[r.Code] = r.ID
	}
	return out, nil
}

// LoadCapabilityCodes implements core.MetadataLoader.
func (s *Store) LoadCapabilityCodes() (map[string]db.CapabilityID, error) {
	var rows []db.Capability
	_, err := s.dbMap.Select(&rows, `SELECT id, code FROM capabilities`)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	out := make(map[string]db.CapabilityID, len(rows))
	for _, r := range rows {
		out[r.Code] = r.ID
	}
	return out, nil
}

// LoadDistanceTypeCodes implements core.MetadataLoader.
func (s *Store) LoadDistanceTypeCodes() (map[string]db.DistanceTypeID, error) {
	var rows []db.DistanceType
	_, err := s.dbMap.Select(&rows, `SELECT id, code FROM distance_types`)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	out := make(map[string]db.DistanceTypeID, len(rows))
	for _, r := range rows {
		out[r.Code] = r.ID
	}
	return out, nil
}

// LoadDistancePositions implements core.MetadataLoader.
func (s *Store) LoadDistancePositions(typeCode string) (map[string]int, error) {
	var rows []db.Distance
	_, err := s.dbMap.Select(&rows, `
		SELECT d.id, d.type_id, d.code, d.position
		  FROM distances d
		  JOIN distance_types dt ON dt.id = d.type_id
		 WHERE dt.code = $1
	`, typeCode)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Code] = r.Position
	}
	return out, nil
}

func commit(tx *gorp.Transaction) error {
	if err := tx.Commit(); err != nil {
		return core.StorageError{Cause: err}
	}
	return nil
}

func newUUID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", core.StorageError{Cause: err}
	}
	return id.String(), nil
}
