// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"fmt"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// ResolvedCapability is a CapabilityConstraint with its codes already
// resolved to catalog IDs via core.CatalogMetadata.
type ResolvedCapability struct {
	Require []db.CapabilityID
	Forbid  []db.CapabilityID
	Any     []db.CapabilityID
}

// ResourceWithCapability is the "resource-scoped capability join" of
// spec.md §4.2: when a ResourceConstraint carries its own
// CapabilityConstraint, the capacity predicate is composed with the
// capability predicates in one query instead of cross-producing two large
// intermediate sets. The single-required-capability case collapses to a
// direct join; the multi-required case uses a grouped derived table; any
// and forbid both combine in via an outer (LEFT) join.
func ResourceWithCapability(dbi db.Interface, rcID db.ResourceClassID, amount, claimTime, releaseTime int64, cap ResolvedCapability, limit int) (ProviderSet, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	joins := ""
	wheres := []string{
		"(i.total - i.reserved) * i.allocation_ratio >= $2 + COALESCE((" +
			"SELECT SUM(ai.used) FROM allocation_items ai JOIN allocations a ON a.id = ai.allocation_id " +
			"WHERE ai.provider_id = p.id AND ai.resource_class_id = $1 AND a.claim_time < $4 AND a.release_time > $3), 0)",
	}
	args := []any{int64(rcID), amount, claimTime, releaseTime}
	nextPlaceholder := func() int { return len(args) + 1 }

	switch len(cap.Require) {
	case 0:
		// no required capabilities: nothing to join
	case 1:
		joins += fmt.Sprintf(" JOIN provider_capabilities pc_req ON pc_req.provider_id = p.id AND pc_req.capability_id = $%d", nextPlaceholder())
		args = append(args, int64(cap.Require[0]))
	default:
		ph := placeholders(len(cap.Require), nextPlaceholder()-1)
		joins += fmt.Sprintf(` JOIN (
			SELECT provider_id FROM provider_capabilities
			 WHERE capability_id IN (%s)
			 GROUP BY provider_id
			HAVING COUNT(DISTINCT capability_id) = %d
		) req ON req.provider_id = p.id`, ph, len(cap.Require))
		args = append(args, idArgs(cap.Require)...)
	}

	if len(cap.Any) > 0 {
		ph := placeholders(len(cap.Any), nextPlaceholder()-1)
		joins += fmt.Sprintf(" LEFT JOIN provider_capabilities pc_any ON pc_any.provider_id = p.id AND pc_any.capability_id IN (%s)", ph)
		args = append(args, idArgs(cap.Any)...)
		wheres = append(wheres, "pc_any.provider_id IS NOT NULL")
	}

	if len(cap.Forbid) > 0 {
		ph := placeholders(len(cap.Forbid), nextPlaceholder()-1)
		joins += fmt.Sprintf(" LEFT JOIN provider_capabilities pc_forbid ON pc_forbid.provider_id = p.id AND pc_forbid.capability_id IN (%s)", ph)
		args = append(args, idArgs(cap.Forbid)...)
		wheres = append(wheres, "pc_forbid.provider_id IS NULL")
	}

	whereClause := wheres[0]
	for _, w := range wheres[1:] {
		whereClause += " AND " + w
	}

	args = append(args, limit)
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT DISTINCT p.id, p.uuid
		  FROM providers p
		  JOIN inventories i ON i.provider_id = p.id AND i.resource_class_id = $1
		  %s
		 WHERE %s
		 ORDER BY p.id ASC
		 LIMIT $%d
	`, joins, whereClause, len(args)))

	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, query, args...)
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	return toSet(refs), nil
}
