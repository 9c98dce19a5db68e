// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

// Package descriptor loads the YAML deployment and claim descriptors that
// drive cmd/placement-claim. It is grounded on
// original_source/tests/poc/resource/{deployment_config,claim_config}.py:
// this implementation reproduces their site/row/rack/node layout expansion
// and distance matrix, but as static, validated decode targets instead of
// the original's free-form dict walking.
package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/runmachine-io/runmachine/internal/core"
)

// InventoryDescriptor is one resource class entry of a Profile, with the
// same defaulting rules as deployment_config.py's _load_site_profiles:
// min_unit=1, max_unit=total, step_size=1, allocation_ratio=1.0, reserved=0.
type InventoryDescriptor struct {
	Total           int64    `yaml:"total"`
	Reserved        int64    `yaml:"reserved"`
	MinUnit         int64    `yaml:"min_unit"`
	MaxUnit         int64    `yaml:"max_unit"`
	StepSize        int64    `yaml:"step_size"`
	AllocationRatio *float64 `yaml:"allocation_ratio"`
}

func (d InventoryDescriptor) withDefaults() InventoryDescriptor {
	if d.MinUnit == 0 {
		d.MinUnit = 1
	}
	if d.MaxUnit == 0 {
		d.MaxUnit = d.Total
	}
	if d.StepSize == 0 {
		d.StepSize = 1
	}
	if d.AllocationRatio == nil {
		one := 1.0
		d.AllocationRatio = &one
	}
	return d
}

// ProfileDescriptor is one named hardware profile, applied to every
// provider created for each of its listed sites.
type ProfileDescriptor struct {
	Sites        []string                       `yaml:"sites"`
	Inventory    map[string]InventoryDescriptor `yaml:"inventory"`
	Capabilities []string                       `yaml:"capabilities"`
}

// LayoutDescriptor controls how many rows/racks/nodes are generated under
// each site (deployment_config.py's `layout` block).
type LayoutDescriptor struct {
	Sites        []string `yaml:"sites"`
	RowsPerSite  int      `yaml:"rows_per_site"`
	RacksPerRow  int      `yaml:"racks_per_row"`
	NodesPerRack int      `yaml:"nodes_per_rack"`
}

// DeploymentDescriptor is the top-level shape of a deployment YAML file.
type DeploymentDescriptor struct {
	Layout   LayoutDescriptor             `yaml:"layout"`
	Profiles map[string]ProfileDescriptor `yaml:"profiles"`
}

// LoadDeploymentDescriptor reads and parses a deployment YAML file.
func LoadDeploymentDescriptor(path string) (DeploymentDescriptor, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return DeploymentDescriptor{}, fmt.Errorf("could not read deployment descriptor %s: %w", path, err)
	}
	var desc DeploymentDescriptor
	if err := yaml.Unmarshal(buf, &desc); err != nil {
		return DeploymentDescriptor{}, fmt.Errorf("could not parse deployment descriptor %s: %w", path, err)
	}
	return desc, nil
}

// siteProfile resolves which profile applies to a given site, mirroring
// _load_site_profiles's one-profile-per-site assumption.
func (d DeploymentDescriptor) siteProfile(site string) (string, ProfileDescriptor, bool) {
	for name, profile := range d.Profiles {
		for _, s := range profile.Sites {
			if s == site {
				return name, profile, true
			}
		}
	}
	return "", ProfileDescriptor{}, false
}

// ExpandProviders walks the layout (sites x rows x racks x nodes) and
// produces one core.ProviderSpec per node, with group memberships for its
// site/row/rack and the distance matrix between every pair of groups:
// "datacenter" within a site, "remote" across sites (deployment_config.py's
// _calculate_distances). UUIDs are deterministic functions of the
// hierarchical name so re-expanding the same descriptor is idempotent.
func (d DeploymentDescriptor) ExpandProviders(partitionUUID string) ([]core.ProviderSpec, error) {
	groups := d.expandGroups()
	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}

	var providers []core.ProviderSpec
	for _, site := range d.Layout.Sites {
		profileName, profile, ok := d.siteProfile(site)
		if !ok {
			return nil, fmt.Errorf("no profile declares site %q", site)
		}
		inventories := make([]core.InventoryEntry, 0, len(profile.Inventory))
		for rcName, inv := range profile.Inventory {
			inv = inv.withDefaults()
			inventories = append(inventories, core.InventoryEntry{
				ResourceClass:   rcName,
				Total:           inv.Total,
				Reserved:        inv.Reserved,
				MinUnit:         inv.MinUnit,
				MaxUnit:         inv.MaxUnit,
				StepSize:        inv.StepSize,
				AllocationRatio: *inv.AllocationRatio,
			})
		}

		for row := 0; row < d.Layout.RowsPerSite; row++ {
			rowGroup := fmt.Sprintf("%s-row%d", site, row)
			for rack := 0; rack < d.Layout.RacksPerRow; rack++ {
				rackGroup := fmt.Sprintf("%s-row%d-rack%d", site, row, rack)
				for node := 0; node < d.Layout.NodesPerRack; node++ {
					name := fmt.Sprintf("%s-row%d-rack%d-node%d", site, row, rack, node)
					own := []string{site, rowGroup, rackGroup}
					providers = append(providers, core.ProviderSpec{
						UUID:          deterministicUUID("provider", name),
						Name:          name,
						PartitionUUID: partitionUUID,
						Type:          profileName,
						Inventories:   inventories,
						Capabilities:  profile.Capabilities,
						Groups:        own,
						Distances:     distanceMatrix(own, groupNames),
					})
				}
			}
		}
	}
	return providers, nil
}

// expandGroups returns every site/row/rack group name implied by the
// layout, regardless of whether any provider belongs to it yet.
func (d DeploymentDescriptor) expandGroups() map[string]bool {
	groups := map[string]bool{}
	for _, site := range d.Layout.Sites {
		groups[site] = true
		for row := 0; row < d.Layout.RowsPerSite; row++ {
			rowGroup := fmt.Sprintf("%s-row%d", site, row)
			groups[rowGroup] = true
			for rack := 0; rack < d.Layout.RacksPerRow; rack++ {
				groups[fmt.Sprintf("%s-row%d-rack%d", site, row, rack)] = true
			}
		}
	}
	return groups
}

// distanceMatrix computes this provider's network distance to every other
// group that is not one of its own: "datacenter" if the other group shares
// this provider's site, "remote" otherwise.
func distanceMatrix(own []string, allGroups []string) map[string]map[string]string {
	site := own[0]
	out := make(map[string]map[string]string, len(allGroups))
	for _, group := range allGroups {
		if contains(own, group) {
			continue
		}
		code := "remote"
		if sameSite(site, group) {
			code = "datacenter"
		}
		out[group] = map[string]string{"network": code}
	}
	return out
}

func sameSite(site, group string) bool {
	return len(group) >= len(site) && group[:len(site)] == site &&
		(len(group) == len(site) || group[len(site)] == '-')
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
