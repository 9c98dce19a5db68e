// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/runmachine-io/runmachine/internal/catalog"
	"github.com/runmachine-io/runmachine/internal/claim"
	"github.com/runmachine-io/runmachine/internal/core"
	"github.com/runmachine-io/runmachine/internal/db"
	"github.com/runmachine-io/runmachine/internal/descriptor"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <deployment-descriptor.yaml> <claim-descriptor.yaml> [claim-descriptor.yaml...]\n", os.Args[0])
		os.Exit(1)
	}
	deploymentPath := os.Args[1]
	claimPaths := os.Args[2:]

	dbConn, err := db.Init()
	if err != nil {
		logg.Fatal(err.Error())
	}
	dbMap := db.InitORM(dbConn)
	store := catalog.NewStore(dbMap)

	deployment, err := descriptor.LoadDeploymentDescriptor(deploymentPath)
	if err != nil {
		logg.Fatal(err.Error())
	}
	if err := bootstrapCatalog(store, deployment); err != nil {
		logg.Fatal(err.Error())
	}

	meta := &core.CatalogMetadata{}
	if err := meta.Load(store); err != nil {
		logg.Fatal(err.Error())
	}
	coordinator := claim.NewCoordinator(dbMap, store, meta)

	requests := make(chan core.ClaimRequest, len(claimPaths))
	for _, path := range claimPaths {
		req, err := descriptor.LoadClaimDescriptor(path, core.Consumer{UUID: osext.MustGetenv("PLACEMENT_CONSUMER_UUID")})
		if err != nil {
			logg.Fatal(err.Error())
		}
		requests <- req
	}
	close(requests)

	registry := prometheus.NewPedanticRegistry()
	job := claimProcessingJob(coordinator, requests).Setup(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := job.Run(ctx); err != nil {
			logg.Error("claim processing job failed: %s", err.Error())
		}
		cancel()
	}()

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	listenAddress := osext.GetenvOrDefault("PLACEMENT_METRICS_LISTEN_ADDRESS", ":8080")
	server := &http.Server{Addr: listenAddress}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err.Error())
	}
}

// bootstrapCatalog seeds the fixed enums and registers every provider that
// the deployment descriptor implies. Safe to re-run: Seed is idempotent, and
// RegisterProvider reconciles an already-registered provider instead of
// duplicating it (each re-registration advances its generation).
func bootstrapCatalog(store *catalog.Store, deployment descriptor.DeploymentDescriptor) error {
	seed := catalog.EnumSeed{
		DistanceTypes: map[string][]string{
			"network": {"datacenter", "remote"},
		},
	}
	seenRC := map[string]bool{}
	seenCap := map[string]bool{}
	for _, profile := range deployment.Profiles {
		for rcName := range profile.Inventory {
			if !seenRC[rcName] {
				seenRC[rcName] = true
				seed.ResourceClasses = append(seed.ResourceClasses, rcName)
			}
		}
		for _, cap := range profile.Capabilities {
			if !seenCap[cap] {
				seenCap[cap] = true
				seed.Capabilities = append(seed.Capabilities, cap)
			}
		}
	}
	if err := store.Seed(seed); err != nil {
		return err
	}

	partitionUUID := osext.MustGetenv("PLACEMENT_PARTITION_UUID")
	providers, err := deployment.ExpandProviders(partitionUUID)
	if err != nil {
		return err
	}
	for _, spec := range providers {
		if _, err := store.RegisterProvider(spec); err != nil {
			return fmt.Errorf("could not register provider %s: %w", spec.Name, err)
		}
	}
	logg.Info("registered %d providers from %s", len(providers), "deployment descriptor")
	return nil
}

// claimProcessingJob wires the Claim Coordinator into a
// jobloop.ProducerConsumerJob (spec.md §5): each worker pulls the next
// queued ClaimRequest and processes it independently, so concurrent claims
// never share a Constraint Solver or Allocation Builder instance.
func claimProcessingJob(coordinator *claim.Coordinator, requests <-chan core.ClaimRequest) *jobloop.ProducerConsumerJob[core.ClaimRequest] {
	return &jobloop.ProducerConsumerJob[core.ClaimRequest]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "claim request processing",
			CounterOpts: prometheus.CounterOpts{
				Name: "placement_claim_requests_processed",
				Help: "Counter for processed claim requests.",
			},
		},
		DiscoverTask: func(ctx context.Context, _ prometheus.Labels) (core.ClaimRequest, error) {
			select {
			case req, ok := <-requests:
				if !ok {
					return core.ClaimRequest{}, jobloop.ErrNoRows
				}
				return req, nil
			case <-ctx.Done():
				return core.ClaimRequest{}, ctx.Err()
			}
		},
		ProcessTask: func(ctx context.Context, req core.ClaimRequest, _ prometheus.Labels) error {
			claims, err := coordinator.ProcessClaimRequest(ctx, req)
			if err != nil {
				logg.Error("claim request for consumer %s failed: %s", req.Consumer.UUID, err.Error())
				return err
			}
			if len(claims) == 0 {
				logg.Info("claim request for consumer %s found no placement", req.Consumer.UUID)
				return nil
			}
			for _, result := range claims {
				logg.Info("claim request for consumer %s succeeded: allocation %s (%d items)",
					req.Consumer.UUID, result.Allocation.UUID, len(result.Allocation.Items))
			}
			return nil
		},
	}
}
