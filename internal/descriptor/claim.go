// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/runmachine-io/runmachine/internal/core"
)

// capabilityConstraintYAML mirrors claim_config.py's require/forbid/any
// block.
type capabilityConstraintYAML struct {
	Require []string `yaml:"require"`
	Forbid  []string `yaml:"forbid"`
	Any     []string `yaml:"any"`
}

func (c capabilityConstraintYAML) toCore() core.CapabilityConstraint {
	return core.CapabilityConstraint{Require: c.Require, Forbid: c.Forbid, Any: c.Any}
}

// resourceRequestYAML is one entry of a request group's `resources` map,
// keyed by resource class code.
type resourceRequestYAML struct {
	Min          *int64                    `yaml:"min"`
	Max          *int64                    `yaml:"max"`
	Capabilities *capabilityConstraintYAML `yaml:"capabilities"`
}

// providerGroupConstraintYAML mirrors a request group's `provider_group` block.
type providerGroupConstraintYAML struct {
	Require []string `yaml:"require"`
	Forbid  []string `yaml:"forbid"`
	Any     []string `yaml:"any"`
}

// distanceConstraintYAML mirrors a request group's `distance` block entries.
type distanceConstraintYAML struct {
	Type          string `yaml:"type"`
	ReferenceUUID string `yaml:"reference_uuid"`
	MinPosition   int    `yaml:"min_position"`
	MaxPosition   int    `yaml:"max_position"`
}

type requestGroupYAML struct {
	SingleProvider *bool                          `yaml:"single_provider"`
	IsolateFrom    []int                          `yaml:"isolate_from"`
	Resources      map[string]resourceRequestYAML `yaml:"resources"`
	Capabilities   []capabilityConstraintYAML     `yaml:"capabilities"`
	ProviderGroup  *providerGroupConstraintYAML   `yaml:"provider_group"`
	Distance       []distanceConstraintYAML       `yaml:"distance"`
}

// ClaimDescriptor is the top-level shape of a claim YAML file
// (claim_config.py's ClaimConfig).
type ClaimDescriptor struct {
	ClaimTime     int64              `yaml:"claim_time"`
	ReleaseTime   int64              `yaml:"release_time"`
	Consumer      core.Consumer      `yaml:"-"`
	RequestGroups []requestGroupYAML `yaml:"request_groups"`
}

// LoadClaimDescriptor reads and parses a claim YAML file into a
// core.ClaimRequest ready for the Claim Coordinator. The consumer identity
// is supplied by the caller rather than the file, since it names who is
// making the request rather than what is being requested.
func LoadClaimDescriptor(path string, consumer core.Consumer) (core.ClaimRequest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return core.ClaimRequest{}, fmt.Errorf("could not read claim descriptor %s: %w", path, err)
	}
	var desc ClaimDescriptor
	if err := yaml.Unmarshal(buf, &desc); err != nil {
		return core.ClaimRequest{}, fmt.Errorf("could not parse claim descriptor %s: %w", path, err)
	}

	req := core.ClaimRequest{
		Consumer:    consumer,
		ClaimTime:   desc.ClaimTime,
		ReleaseTime: desc.ReleaseTime,
	}
	for _, g := range desc.RequestGroups {
		group, err := g.toCore()
		if err != nil {
			return core.ClaimRequest{}, fmt.Errorf("in claim descriptor %s: %w", path, err)
		}
		req.RequestGroups = append(req.RequestGroups, group)
	}
	return req, nil
}

func (g requestGroupYAML) toCore() (core.RequestGroup, error) {
	options := core.DefaultRequestGroupOptions()
	if g.SingleProvider != nil {
		options.SingleProvider = *g.SingleProvider
	}
	options.IsolateFrom = g.IsolateFrom

	var resourceConstraints []core.ResourceConstraint
	for rcName, req := range g.Resources {
		if req.Min == nil && req.Max == nil {
			return core.RequestGroup{}, fmt.Errorf("resource constraint %q needs min and/or max", rcName)
		}
		minAmount, maxAmount := resolveMinMax(req.Min, req.Max)
		var capConstraint *core.CapabilityConstraint
		if req.Capabilities != nil {
			c := req.Capabilities.toCore()
			capConstraint = &c
		}
		resourceConstraints = append(resourceConstraints, core.ResourceConstraint{
			ResourceClass: rcName,
			MinAmount:     minAmount,
			MaxAmount:     maxAmount,
			Capability:    capConstraint,
		})
	}

	var capabilityConstraints []core.CapabilityConstraint
	for _, c := range g.Capabilities {
		capabilityConstraints = append(capabilityConstraints, c.toCore())
	}

	var pgc *core.ProviderGroupConstraint
	if g.ProviderGroup != nil {
		pgc = &core.ProviderGroupConstraint{
			RequireGroups: g.ProviderGroup.Require,
			ForbidGroups:  g.ProviderGroup.Forbid,
			AnyGroups:     g.ProviderGroup.Any,
		}
	}

	var distanceConstraints []core.DistanceConstraint
	for _, d := range g.Distance {
		distanceConstraints = append(distanceConstraints, core.DistanceConstraint{
			DistanceType:  d.Type,
			ReferenceUUID: d.ReferenceUUID,
			MinPosition:   d.MinPosition,
			MaxPosition:   d.MaxPosition,
		})
	}

	return core.RequestGroup{
		Options:                 options,
		ResourceConstraints:     resourceConstraints,
		CapabilityConstraints:   capabilityConstraints,
		ProviderGroupConstraint: pgc,
		DistanceConstraints:     distanceConstraints,
	}, nil
}

// resolveMinMax fills in the missing bound from whichever of min/max was
// given, matching claim_config.py's `res_request.get('min', res_request.get('max'))`.
func resolveMinMax(min, max *int64) (int64, int64) {
	switch {
	case min != nil && max != nil:
		return *min, *max
	case min != nil:
		return *min, *min
	default:
		return *max, *max
	}
}
