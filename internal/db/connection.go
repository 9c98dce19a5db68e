// SPDX-FileCopyrightText: 2026 Runmachine Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"net/url"
	"os"

	gorp "github.com/go-gorp/gorp/v3"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/sqlext"
)

// Configuration returns the easypg.Configuration object that Init() needs to
// bootstrap and migrate the schema (§4.1 load_schema).
func Configuration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// Init initializes the connection to the catalog database and applies
// pending migrations. This is the Catalog Store's load_schema() operation.
func Init() (*sql.DB, error) {
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("PLACEMENT_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("PLACEMENT_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("PLACEMENT_DB_USERNAME", "postgres"),
		Password:          os.Getenv("PLACEMENT_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("PLACEMENT_DB_CONNECTION_OPTIONS"),
		DatabaseName:      osext.GetenvOrDefault("PLACEMENT_DB_NAME", "placement"),
	})
	if err != nil {
		return nil, err
	}
	return easypg.Connect(dbURL, Configuration())
}

// InitFromURL is Init's test-harness counterpart: it connects to an
// already-known database URL instead of reading PLACEMENT_DB_* env vars.
func InitFromURL(dbURL *url.URL) (*sql.DB, error) {
	return easypg.Connect(dbURL, Configuration())
}

// InitORM wraps a database connection into a gorp.DbMap instance.
func InitORM(dbConn *sql.DB) *gorp.DbMap {
	// bound how many concurrent request-processing tasks can hold a DB
	// connection at once (§5 concurrency model)
	dbConn.SetMaxOpenConns(16)

	dbMap := &gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}
	InitGorp(dbMap)
	return dbMap
}

// Interface provides the common methods that both SQL connections and
// transactions implement. Query Planner predicates and Catalog Store writes
// are written against this interface so they work the same inside or
// outside a transaction.
type Interface interface {
	// from database/sql
	sqlext.Executor

	// from github.com/go-gorp/gorp
	Insert(args ...any) error
	Update(args ...any) (int64, error)
	Delete(args ...any) (int64, error)
	Select(i any, query string, args ...any) ([]any, error)
}
