// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package core

// ClaimRequest is the input object described in spec.md §6.
type ClaimRequest struct {
	Consumer      Consumer
	ClaimTime     int64
	ReleaseTime   int64
	RequestGroups []RequestGroup
}

// RequestGroupOptions controls how the Allocation Builder materializes the
// providers matched for one request group (spec.md §4.4).
type RequestGroupOptions struct {
	// SingleProvider requires all resource constraints in the group to be
	// satisfied by a single provider. Defaults to true (spec.md §4.4): the
	// zero value of this struct must therefore be constructed through
	// DefaultRequestGroupOptions, not used directly.
	SingleProvider bool
	// IsolateFrom lists other group indexes whose chosen providers must be
	// disjoint from this group's chosen provider(s).
	IsolateFrom []int
}

// DefaultRequestGroupOptions returns the options that apply when a
// RequestGroup does not override them: single_provider=true, no isolation.
func DefaultRequestGroupOptions() RequestGroupOptions {
	return RequestGroupOptions{SingleProvider: true}
}

// RequestGroup is one ordered element of ClaimRequest.RequestGroups.
type RequestGroup struct {
	Options                  RequestGroupOptions
	ResourceConstraints      []ResourceConstraint
	CapabilityConstraints    []CapabilityConstraint
	ProviderGroupConstraint  *ProviderGroupConstraint
	DistanceConstraints      []DistanceConstraint
}

// ResourceConstraint requests a quantity range of one resource class,
// optionally scoped to its own capability requirements (spec.md §6).
type ResourceConstraint struct {
	ResourceClass string
	MinAmount     int64
	MaxAmount     int64
	Capability    *CapabilityConstraint
}

// CapabilityConstraint composes require/forbid/any capability codes. Any
// field may be empty (spec.md §6); within one constraint the clauses
// compose as require AND any AND NOT forbid (spec.md §4.3).
type CapabilityConstraint struct {
	Require []string
	Forbid  []string
	Any     []string
}

// IsEmpty is true if this constraint carries no codes at all.
func (c CapabilityConstraint) IsEmpty() bool {
	return len(c.Require) == 0 && len(c.Forbid) == 0 && len(c.Any) == 0
}

// IsForbidOnly is true if this constraint carries only forbidden codes,
// the case that spec.md §4.3/§9 calls out as a positive no-op (NoExclude)
// when nothing matches the forbidden set.
func (c CapabilityConstraint) IsForbidOnly() bool {
	return len(c.Require) == 0 && len(c.Any) == 0 && len(c.Forbid) > 0
}

// ProviderGroupConstraint filters candidates by provider group membership
// (spec.md §4.2 group-membership predicate).
type ProviderGroupConstraint struct {
	RequireGroups []string
	ForbidGroups  []string
	AnyGroups     []string
}

// DistanceConstraint filters candidates by their adjacency to a reference
// provider, bounded by distance ordinal position (spec.md §4.2).
type DistanceConstraint struct {
	DistanceType     string
	ReferenceUUID    string
	MinPosition      int
	MaxPosition      int
}
