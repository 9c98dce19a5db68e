// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package db

// sqlMigrations contains the full schema for the catalog store (spec.md §3).
// As in the teacher repo, migrations are kept as a flat up/down map rather
// than a directory of files, and early iterations are rolled up into one
// baseline migration once the schema has stabilized.
var sqlMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE allocation_items;
		DROP TABLE allocations;
		DROP TABLE consumers;
		DROP TABLE provider_distances;
		DROP TABLE distances;
		DROP TABLE distance_types;
		DROP TABLE provider_capabilities;
		DROP TABLE inventories;
		DROP TABLE capabilities;
		DROP TABLE resource_classes;
		DROP TABLE provider_group_memberships;
		DROP TABLE provider_groups;
		DROP TABLE providers;
		DROP TABLE partitions;
	`,
	"001_initial.up.sql": `
		---------- seeded, immutable topology

		CREATE TABLE partitions (
			id    BIGSERIAL  NOT NULL PRIMARY KEY,
			uuid  TEXT       NOT NULL UNIQUE,
			name  TEXT       NOT NULL
		);

		CREATE TABLE providers (
			id            BIGSERIAL  NOT NULL PRIMARY KEY,
			uuid          TEXT       NOT NULL UNIQUE,
			name          TEXT       NOT NULL,
			partition_id  BIGINT     NOT NULL REFERENCES partitions,
			type          TEXT       NOT NULL,
			generation    BIGINT     NOT NULL DEFAULT 0
		);

		CREATE TABLE provider_groups (
			id    BIGSERIAL  NOT NULL PRIMARY KEY,
			uuid  TEXT       NOT NULL UNIQUE,
			name  TEXT       NOT NULL
		);

		CREATE TABLE provider_group_memberships (
			provider_id  BIGINT  NOT NULL REFERENCES providers ON DELETE CASCADE,
			group_id     BIGINT  NOT NULL REFERENCES provider_groups ON DELETE CASCADE,
			PRIMARY KEY (provider_id, group_id)
		);

		---------- seeded enums

		CREATE TABLE resource_classes (
			id           BIGSERIAL  NOT NULL PRIMARY KEY,
			code         TEXT       NOT NULL UNIQUE,
			description  TEXT       NOT NULL DEFAULT ''
		);

		CREATE TABLE capabilities (
			id           BIGSERIAL  NOT NULL PRIMARY KEY,
			code         TEXT       NOT NULL UNIQUE,
			description  TEXT       NOT NULL DEFAULT ''
		);

		---------- provider inventory and capability postings

		CREATE TABLE inventories (
			provider_id        BIGINT    NOT NULL REFERENCES providers ON DELETE CASCADE,
			resource_class_id  BIGINT    NOT NULL REFERENCES resource_classes,
			total              BIGINT    NOT NULL,
			reserved           BIGINT    NOT NULL DEFAULT 0,
			min_unit           BIGINT    NOT NULL DEFAULT 1,
			max_unit           BIGINT    NOT NULL,
			step_size          BIGINT    NOT NULL DEFAULT 1,
			allocation_ratio   REAL      NOT NULL DEFAULT 1.0,
			PRIMARY KEY (provider_id, resource_class_id),
			CONSTRAINT inventories_reserved_le_total CHECK (reserved >= 0 AND reserved <= total),
			CONSTRAINT inventories_unit_bounds CHECK (min_unit <= max_unit AND max_unit <= total),
			CONSTRAINT inventories_step_size CHECK (step_size >= 1),
			CONSTRAINT inventories_allocation_ratio CHECK (allocation_ratio >= 1.0)
		);

		CREATE TABLE provider_capabilities (
			provider_id     BIGINT  NOT NULL REFERENCES providers ON DELETE CASCADE,
			capability_id   BIGINT  NOT NULL REFERENCES capabilities,
			PRIMARY KEY (provider_id, capability_id)
		);

		---------- adjacency / distance topology

		CREATE TABLE distance_types (
			id    BIGSERIAL  NOT NULL PRIMARY KEY,
			code  TEXT       NOT NULL UNIQUE
		);

		CREATE TABLE distances (
			id         BIGSERIAL  NOT NULL PRIMARY KEY,
			type_id    BIGINT     NOT NULL REFERENCES distance_types ON DELETE CASCADE,
			code       TEXT       NOT NULL,
			position   INT        NOT NULL,
			UNIQUE (type_id, code),
			UNIQUE (type_id, position)
		);

		CREATE TABLE provider_distances (
			provider_id  BIGINT  NOT NULL REFERENCES providers ON DELETE CASCADE,
			group_id     BIGINT  NOT NULL REFERENCES provider_groups ON DELETE CASCADE,
			distance_id  BIGINT  NOT NULL REFERENCES distances,
			PRIMARY KEY (provider_id, group_id)
		);

		---------- consumers and allocations

		CREATE TABLE consumers (
			id       BIGSERIAL  NOT NULL PRIMARY KEY,
			uuid     TEXT       NOT NULL UNIQUE,
			name     TEXT       NOT NULL DEFAULT '',
			project  TEXT       NOT NULL DEFAULT '',
			"user"   TEXT       NOT NULL DEFAULT ''
		);

		CREATE TABLE allocations (
			id            BIGSERIAL  NOT NULL PRIMARY KEY,
			consumer_id   BIGINT     NOT NULL REFERENCES consumers,
			claim_time    BIGINT     NOT NULL,
			release_time  BIGINT     NOT NULL,
			CONSTRAINT allocations_window CHECK (claim_time < release_time)
		);

		CREATE INDEX allocations_window_idx ON allocations (claim_time, release_time);

		CREATE TABLE allocation_items (
			id                 BIGSERIAL  NOT NULL PRIMARY KEY,
			allocation_id      BIGINT     NOT NULL REFERENCES allocations ON DELETE CASCADE,
			provider_id        BIGINT     NOT NULL REFERENCES providers,
			resource_class_id  BIGINT     NOT NULL REFERENCES resource_classes,
			used               BIGINT     NOT NULL,
			CONSTRAINT allocation_items_used_nonneg CHECK (used >= 0),
			FOREIGN KEY (provider_id, resource_class_id) REFERENCES inventories (provider_id, resource_class_id)
		);

		CREATE INDEX allocation_items_provider_resource_idx ON allocation_items (provider_id, resource_class_id);
	`,
}
