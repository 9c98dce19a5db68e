// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package claim implements the Claim Coordinator of spec.md §4.5: the
// top-level entry point that validates a ClaimRequest, solves each request
// group, builds the Allocation, and persists it transactionally with a
// bounded retry on conflicting concurrent claims.
package claim

import (
	"context"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/runmachine-io/runmachine/internal/allocator"
	"github.com/runmachine-io/runmachine/internal/catalog"
	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/solver"
)

// retryBackoff is the bounded backoff schedule of spec.md §7 for
// CapacityExceeded/Conflict at persistence time: up to three retries after
// the first attempt (four attempts in all), waiting 10ms, then 40ms, then
// 160ms before each retry. A Conflict triggers at most one retry. This is
// deliberately not go-bits/retry.ExponentialBackoff, which retries
// indefinitely (see DESIGN.md) — the Coordinator must surface a terminal
// error after a bounded number of attempts, not loop forever.
var retryBackoff = []time.Duration{10 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond}

// Coordinator is the Claim Coordinator. dbi is used for solving (read-only
// predicate queries); store is used for the final persistence transaction.
type Coordinator struct {
	dbi   db.Interface
	store *catalog.Store
	meta  *core.CatalogMetadata
}

// NewCoordinator builds a Coordinator around an already-loaded metadata
// cache (spec.md §9: Load must have been called once at engine startup).
func NewCoordinator(dbi db.Interface, store *catalog.Store, meta *core.CatalogMetadata) *Coordinator {
	return &Coordinator{dbi: dbi, store: store, meta: meta}
}

// ProcessClaimRequest is spec.md §4.5's process_claim_request(ctx, req) →
// [Claim]. It validates the request, solves every request group, builds
// and persists the allocation, and returns a list containing exactly one
// Claim on success. NoPlacement (spec.md §7) is a SUCCESSFUL outcome: it
// returns a nil/empty list with a nil error, never core.NoPlacementError
// itself. Only CapacityExceeded/Conflict at persistence time are retried;
// a NoPlacement result from solving or building is final immediately.
func (c *Coordinator) ProcessClaimRequest(ctx context.Context, req core.ClaimRequest) ([]core.Claim, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var lastErr error
	retries, conflicts := 0, 0
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, core.CancelledError{Cause: err}
		}

		claims, err := c.attempt(req)
		if err == nil {
			return claims, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		retries = attempt
		if _, isConflict := err.(core.ConflictError); isConflict {
			conflicts++
			if conflicts > 1 {
				break
			}
		}
		if attempt < len(retryBackoff) {
			logg.Info("claim attempt %d failed with a retryable error, backing off %s: %s", attempt+1, retryBackoff[attempt], err.Error())
			select {
			case <-time.After(retryBackoff[attempt]):
			case <-ctx.Done():
				return nil, core.CancelledError{Cause: ctx.Err()}
			}
		}
	}
	return nil, core.RetryableError{Cause: lastErr, Retries: retries}
}

// attempt runs one solve+build+persist cycle. A nil, nil return means
// NoPlacement: the group's solver or the builder emptied its candidate set,
// which is success, not failure (spec.md §7). Any other returned error is
// either persistence-retryable (CapacityExceeded, Conflict) or terminal.
func (c *Coordinator) attempt(req core.ClaimRequest) ([]core.Claim, error) {
	claim, err := c.solveAndBuild(req, req.RequestGroups)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, nil
	}
	return c.persist(req, *claim)
}

// solveAndBuild runs the solver over every group and hands the result to
// the Allocation Builder. It returns (nil, nil) when any group's solver or
// the builder itself hits NoMatches (core.NoPlacementError) — the caller
// distinguishes that from a real error by checking for a nil error instead
// of a nil claim.
func (c *Coordinator) solveAndBuild(req core.ClaimRequest, groups []core.RequestGroup) (*core.Claim, error) {
	solutions := make([]solver.GroupSolution, len(groups))
	for i, group := range groups {
		sol, err := solver.SolveGroup(c.dbi, c.meta, group, req.ClaimTime, req.ReleaseTime, 0)
		if err != nil {
			if isNoPlacement(err) {
				return nil, nil
			}
			return nil, err
		}
		solutions[i] = sol
	}

	built, err := allocator.Build(groups, solutions)
	if err != nil {
		if isNoPlacement(err) {
			return nil, nil
		}
		return nil, err
	}
	built.Allocation.ConsumerUUID = req.Consumer.UUID
	built.Allocation.ClaimTime = req.ClaimTime
	built.Allocation.ReleaseTime = req.ReleaseTime
	return &built, nil
}

// persist stores an already-built allocation. On CapacityExceeded at the
// commit-time re-check, spec.md §4.5 step 4 permits retrying once with
// used = min_amount per item if the request's ranges allow it, before
// falling through to the Coordinator's normal bounded retry.
func (c *Coordinator) persist(req core.ClaimRequest, claim core.Claim) ([]core.Claim, error) {
	allocUUID, err := c.store.PersistAllocation(c.meta, req.Consumer, claim.Allocation)
	if err == nil {
		claim.Allocation.UUID = allocUUID
		return []core.Claim{claim}, nil
	}
	if !isCapacityExceeded(err) || !hasAmountRange(req.RequestGroups) {
		return nil, err
	}

	logg.Info("claim for consumer %s hit capacity exceeded at max_amount, retrying once at min_amount", req.Consumer.UUID)
	minClaim, buildErr := c.solveAndBuild(req, withMinAmounts(req.RequestGroups))
	if buildErr != nil {
		return nil, buildErr
	}
	if minClaim == nil {
		return nil, nil
	}
	allocUUID, err = c.store.PersistAllocation(c.meta, req.Consumer, minClaim.Allocation)
	if err != nil {
		return nil, err
	}
	minClaim.Allocation.UUID = allocUUID
	return []core.Claim{*minClaim}, nil
}

// withMinAmounts returns a copy of groups with every ResourceConstraint's
// MaxAmount lowered to MinAmount, so the solver and builder re-run the
// identical composition but reserve the lower bound of the request's range
// instead of the upper one (spec.md §4.4/§4.5's min_amount fallback).
func withMinAmounts(groups []core.RequestGroup) []core.RequestGroup {
	out := make([]core.RequestGroup, len(groups))
	for i, g := range groups {
		g.ResourceConstraints = make([]core.ResourceConstraint, len(groups[i].ResourceConstraints))
		copy(g.ResourceConstraints, groups[i].ResourceConstraints)
		for j, rc := range g.ResourceConstraints {
			rc.MaxAmount = rc.MinAmount
			g.ResourceConstraints[j] = rc
		}
		out[i] = g
	}
	return out
}

// hasAmountRange is true if any resource constraint in the request permits
// a range (min < max), the precondition for the min_amount retry.
func hasAmountRange(groups []core.RequestGroup) bool {
	for _, g := range groups {
		for _, rc := range g.ResourceConstraints {
			if rc.MinAmount < rc.MaxAmount {
				return true
			}
		}
	}
	return false
}

func isNoPlacement(err error) bool {
	_, ok := err.(core.NoPlacementError)
	return ok
}

func isCapacityExceeded(err error) bool {
	_, ok := err.(core.CapacityExceededError)
	return ok
}

func isRetryable(err error) bool {
	switch err.(type) {
	case core.CapacityExceededError, core.ConflictError:
		return true
	default:
		return false
	}
}

// validate is spec.md §4.5 step 1: structural checks performed before any
// DB work.
func validate(req core.ClaimRequest) error {
	if req.ClaimTime >= req.ReleaseTime {
		return core.ValidationError{Reason: "claim_time must be before release_time"}
	}
	if len(req.RequestGroups) == 0 {
		return core.ValidationError{Reason: "claim request must have at least one request group"}
	}
	for gi, group := range req.RequestGroups {
		if len(group.ResourceConstraints) == 0 {
			return core.ValidationError{Reason: "request group has no resource constraints"}
		}
		for _, rc := range group.ResourceConstraints {
			if rc.MinAmount < 0 || rc.MaxAmount < 0 {
				return core.ValidationError{Reason: "resource constraint amounts must be non-negative"}
			}
			if rc.MinAmount > rc.MaxAmount {
				return core.ValidationError{Reason: "resource constraint min_amount must be <= max_amount"}
			}
		}
		for _, idx := range group.Options.IsolateFrom {
			if idx < 0 || idx >= len(req.RequestGroups) || idx == gi {
				return core.ValidationError{Reason: "isolate_from references an invalid request group index"}
			}
		}
	}
	return nil
}
