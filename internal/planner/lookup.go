// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"github.com/lib/pq"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
)

// ResolveGroupIDs resolves provider group names to IDs. Unlike the catalog
// enums cached in core.CatalogMetadata, provider groups are topology data
// that can grow between requests, so these are looked up fresh rather than
// cached (spec.md §9 Ownership).
func ResolveGroupIDs(dbi db.Interface, names []string) (map[string]db.ProviderGroupID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := sqlext.SimplifyWhitespace(`
		SELECT id, name FROM provider_groups WHERE name = ANY($1)
	`)
	var rows []struct {
		ID   db.ProviderGroupID `db:"id"`
		Name string             `db:"name"`
	}
	_, err := dbi.Select(&rows, query, pq.Array(names))
	if err != nil {
		return nil, core.StorageError{Cause: err}
	}
	out := make(map[string]db.ProviderGroupID, len(rows))
	for _, r := range rows {
		out[r.Name] = r.ID
	}
	for _, name := range names {
		if _, ok := out[name]; !ok {
			return nil, core.UnknownCodeError{Kind: "provider group", Code: name}
		}
	}
	return out, nil
}

// ResolveProviderID resolves a provider UUID to its ID.
func ResolveProviderID(dbi db.Interface, uuid string) (db.ProviderID, error) {
	var refs []db.ProviderRef
	_, err := dbi.Select(&refs, `SELECT id, uuid FROM providers WHERE uuid = $1`, uuid)
	if err != nil {
		return 0, core.StorageError{Cause: err}
	}
	if len(refs) == 0 {
		return 0, core.UnknownCodeError{Kind: "provider", Code: uuid}
	}
	return refs[0].ID, nil
}
