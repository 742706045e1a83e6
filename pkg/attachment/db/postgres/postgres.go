// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides the PostgreSQL implementation of db.Store.
package postgres

import (
	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	dbsql "github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// New opens a PostgreSQL-backed store through pgx's database/sql driver.
func New(cfg db.Config) (*dbsql.Store, error) {
	return dbsql.Open("pgx", dbsql.PostgresDialect{}, cfg)
}
