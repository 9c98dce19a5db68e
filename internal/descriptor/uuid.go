// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package descriptor

import "github.com/gofrs/uuid"

// namespaceUUID roots every descriptor-derived UUID, so the same layout
// always expands to the same provider and group identities (required for
// ExpandProviders to be safely re-run against an already-registered
// deployment).
var namespaceUUID = uuid.NewV5(uuid.NamespaceDNS, "runmachine.io/placement")

func deterministicUUID(kind, name string) string {
	return uuid.NewV5(namespaceUUID, kind+":"+name).String()
}
