// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner builds the composable candidate-provider predicates of
// spec.md §4.2. Every function returns a stable, id-ascending, limit-capped
// set of provider identities; composition across predicates is the job of
// internal/solver.
package planner

import (
	"fmt"
	"strings"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// DefaultLimit bounds fan-out of a single predicate query (spec.md §4.2).
const DefaultLimit = 50

// ProviderSet is the result type of every predicate: candidate provider
// identities keyed by ID, ordered implicitly by the query's ORDER BY and
// preserved here only for membership tests (ordering is re-derived by the
// Allocation Builder when it needs a stable pick).
type ProviderSet map[db.ProviderID]db.ProviderRef

// Sorted returns the set's ProviderRefs ordered ascending by ID then UUID,
// the tie-break of spec.md §4.4.
func (s ProviderSet) Sorted() []db.ProviderRef {
	out := make([]db.ProviderRef, 0, len(s))
	for _, ref := range s {
		out = append(out, ref)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if less(out[j], out[j-1]) {
				out[j], out[j-1] = out[j-1], out[j]
			} else {
				break
			}
		}
	}
	return out
}

func less(a, b db.ProviderRef) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.UUID < b.UUID
}

func toSet(refs []db.ProviderRef) ProviderSet {
	set := make(ProviderSet, len(refs))
	for _, r := range refs {
		set[r.ID] = r
	}
	return set
}

func placeholders(n, offset int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return strings.Join(parts, ",")
}

func idArgs[T ~int64](ids []T) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return args
}

// CapacityInWindow is the capacity-in-window predicate of spec.md §4.2: it
// selects providers with an inventory row for resourceClass whose effective
// capacity still covers `amount` after subtracting usage from allocations
// whose window OVERLAPS [claimTime, releaseTime). This resolves Open
// Question #1 of spec.md §9: the source used containment
// (claim_time >= req.claim_time AND release_time < req.release_time),
// which under-counts usage; this implementation uses overlap
// (alloc.claim_time < req.release_time AND alloc.release_time > req.claim_time).
func CapacityInWindow(dbi db.Interface, rcID db.ResourceClassID, amount, claimTime, releaseTime int64, limit int) (ProviderSet, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(`
		SELECT p.id, p.uuid
		  FROM providers p
		  JOIN inventories i ON i.provider_id = p.id AND i.resource_class_id = $1
		 WHERE (i.total - i.reserved) * i.allocation_ratio >= $2 + COALESCE((
		         SELECT SUM(ai.used)
		           FROM allocation_items ai
		           JOIN allocations a ON a.id = ai.allocation_id
		          WHERE ai.provider_id = p.id AND ai.resource_class_id = $1
		            AND a.claim_time < $4 AND a.release_time > $3
		       ), 0)
		 ORDER BY p.id ASC
		 LIMIT $5
	`)
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, int64(rcID), amount, claimTime, releaseTime, limit)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}

// HasAllCaps is the has-all-caps predicate: providers carrying every
// capability in `capIDs`.
func HasAllCaps(dbi db.Interface, capIDs []db.CapabilityID, limit int) (ProviderSet, error) {
	if len(capIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT p.id, p.uuid
		  FROM providers p
		  JOIN provider_capabilities pc ON pc.provider_id = p.id
		 WHERE pc.capability_id IN (%s)
		 GROUP BY p.id, p.uuid
		HAVING COUNT(DISTINCT pc.capability_id) = %d
		 ORDER BY p.id ASC
		 LIMIT %d
	`, placeholders(len(capIDs), 0), len(capIDs), limit))
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, idArgs(capIDs)...)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}

// HasAnyCaps is the has-any-caps predicate: providers carrying at least one
// capability in `capIDs`. LacksForbiddenCaps (spec.md §4.2) is this same
// query applied to the forbidden id set; the caller treats the result as an
// exclusion set rather than materializing the complement.
func HasAnyCaps(dbi db.Interface, capIDs []db.CapabilityID, limit int) (ProviderSet, error) {
	if len(capIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT DISTINCT p.id, p.uuid
		  FROM providers p
		  JOIN provider_capabilities pc ON pc.provider_id = p.id
		 WHERE pc.capability_id IN (%s)
		 ORDER BY p.id ASC
		 LIMIT %d
	`, placeholders(len(capIDs), 0), limit))
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, idArgs(capIDs)...)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}

// RequireGroups selects providers that are members of every named group.
func RequireGroups(dbi db.Interface, groupIDs []db.ProviderGroupID, limit int) (ProviderSet, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT p.id, p.uuid
		  FROM providers p
		  JOIN provider_group_memberships pgm ON pgm.provider_id = p.id
		 WHERE pgm.group_id IN (%s)
		 GROUP BY p.id, p.uuid
		HAVING COUNT(DISTINCT pgm.group_id) = %d
		 ORDER BY p.id ASC
		 LIMIT %d
	`, placeholders(len(groupIDs), 0), len(groupIDs), limit))
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, idArgs(groupIDs)...)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}

// AnyGroups selects providers that are members of at least one named group.
// ForbidGroups (spec.md §4.2) reuses this over the forbidden group set and
// is applied as an exclusion, symmetric with LacksForbiddenCaps.
func AnyGroups(dbi db.Interface, groupIDs []db.ProviderGroupID, limit int) (ProviderSet, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT DISTINCT p.id, p.uuid
		  FROM providers p
		  JOIN provider_group_memberships pgm ON pgm.provider_id = p.id
		 WHERE pgm.group_id IN (%s)
		 ORDER BY p.id ASC
		 LIMIT %d
	`, placeholders(len(groupIDs), 0), limit))
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, idArgs(groupIDs)...)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}

// DistanceBounded is the distance predicate of spec.md §4.2: providers
// whose distance record to some group containing `referenceProviderID` has
// a position within [minPosition, maxPosition] for the given distance type.
func DistanceBounded(dbi db.Interface, typeID db.DistanceTypeID, referenceProviderID db.ProviderID, minPosition, maxPosition, limit int) (ProviderSet, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := sqlext.SimplifyWhitespace(`
		SELECT DISTINCT p.id, p.uuid
		  FROM provider_distances pd
		  JOIN distances d ON d.id = pd.distance_id AND d.type_id = $1
		  JOIN providers p ON p.id = pd.provider_id
		 WHERE pd.group_id IN (
		         SELECT pgm.group_id
		           FROM provider_group_memberships pgm
		          WHERE pgm.provider_id = $2
		       )
		   AND d.position BETWEEN $3 AND $4
		 ORDER BY p.id ASC
		 LIMIT $5
	`)
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, int64(typeID), int64(referenceProviderID), minPosition, maxPosition, limit)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}
