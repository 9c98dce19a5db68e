// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"sync"

	"github.com/runmachine-io/runmachine/internal/db"
)

// CatalogMetadata is the per-request read-through cache for the catalog's
// seeded enums (resource classes, capabilities, distance types/codes),
// described in spec.md §9 as a "global catalog metadata cache" that must
// NOT be a process-wide singleton. One instance is built once at engine
// startup (via Load, gated by a sync.Once) and then shared read-only by
// concurrent request-processing tasks (spec.md §5).
type CatalogMetadata struct {
	once sync.Once
	err  error

	resourceClassIDs map[string]db.ResourceClassID
	capabilityIDs    map[string]db.CapabilityID
	distanceTypeIDs  map[string]db.DistanceTypeID
	// distancePositions[type][code] = position, served by DistancePosition
	// without a round-trip to the store.
	distancePositions map[string]map[string]int
}

// MetadataLoader is implemented by the Catalog Store; kept as a narrow
// interface here so internal/core does not need to import internal/catalog
// (which in turn depends on internal/core for types).
type MetadataLoader interface {
	LoadResourceClassCodes() (map[string]db.ResourceClassID, error)
	LoadCapabilityCodes() (map[string]db.CapabilityID, error)
	LoadDistanceTypeCodes() (map[string]db.DistanceTypeID, error)
	LoadDistancePositions(typeCode string) (map[string]int, error)
}

// Load populates the cache exactly once; subsequent calls are no-ops that
// return the first call's error, if any.
func (m *CatalogMetadata) Load(store MetadataLoader) error {
	m.once.Do(func() {
		m.resourceClassIDs, m.err = store.LoadResourceClassCodes()
		if m.err != nil {
			return
		}
		m.capabilityIDs, m.err = store.LoadCapabilityCodes()
		if m.err != nil {
			return
		}
		m.distanceTypeIDs, m.err = store.LoadDistanceTypeCodes()
		if m.err != nil {
			return
		}
		m.distancePositions = make(map[string]map[string]int, len(m.distanceTypeIDs))
		for typeCode := range m.distanceTypeIDs {
			var positions map[string]int
			positions, m.err = store.LoadDistancePositions(typeCode)
			if m.err != nil {
				return
			}
			m.distancePositions[typeCode] = positions
		}
	})
	return m.err
}

// ResourceClassID resolves a resource class code, or returns UnknownCodeError.
func (m *CatalogMetadata) ResourceClassID(code string) (db.ResourceClassID, error) {
	id, ok := m.resourceClassIDs[code]
	if !ok {
		return 0, UnknownCodeError{Kind: "resource class", Code: code}
	}
	return id, nil
}

// CapabilityID resolves a capability code, or returns UnknownCodeError.
func (m *CatalogMetadata) CapabilityID(code string) (db.CapabilityID, error) {
	id, ok := m.capabilityIDs[code]
	if !ok {
		return 0, UnknownCodeError{Kind: "capability", Code: code}
	}
	return id, nil
}

// CapabilityIDs resolves a list of capability codes in one call.
func (m *CatalogMetadata) CapabilityIDs(codes []string) ([]db.CapabilityID, error) {
	ids := make([]db.CapabilityID, 0, len(codes))
	for _, code := range codes {
		id, err := m.CapabilityID(code)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DistanceTypeID resolves a distance type code ("network", "failure", "storage").
func (m *CatalogMetadata) DistanceTypeID(code string) (db.DistanceTypeID, error) {
	id, ok := m.distanceTypeIDs[code]
	if !ok {
		return 0, UnknownCodeError{Kind: "distance type", Code: code}
	}
	return id, nil
}

// DistancePosition resolves the ordinal position of a distance code within
// a distance type. The solver does not call it: DistanceConstraint carries
// its bounds as positions, which are passed to the planner unchecked.
func (m *CatalogMetadata) DistancePosition(typeCode, distanceCode string) (int, error) {
	positions, ok := m.distancePositions[typeCode]
	if !ok {
		return 0, UnknownCodeError{Kind: "distance type", Code: typeCode}
	}
	pos, ok := positions[distanceCode]
	if !ok {
		return 0, UnknownCodeError{Kind: "distance code", Code: fmt.Sprintf("%s/%s", typeCode, distanceCode)}
	}
	return pos, nil
}
