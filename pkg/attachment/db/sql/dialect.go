// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql is the dialect-aware SQL implementation of db.Store shared by
// PostgreSQL and MySQL.
package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name matches the db.Driver and the migrations directory.
	Name() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	Placeholder(n int) string

	// ReplacePlaceholders rewrites $1, $2, ... into the dialect's form so
	// queries can be written once.
	ReplacePlaceholders(query string) string

	// InsertIgnorePrefix goes between INSERT and INTO.
	// MySQL: "IGNORE "
	InsertIgnorePrefix() string

	// InsertIgnoreSuffix goes after VALUES (...).
	// PostgreSQL: " ON CONFLICT (cols) DO NOTHING"
	InsertIgnoreSuffix(conflictColumns string) string

	// ReturnsID reports whether INSERT ... RETURNING id is supported. MySQL
	// uses LastInsertId instead.
	ReturnsID() bool

	// IsUniqueViolation reports whether err is a duplicate-key error.
	IsUniqueViolation(err error) bool
}

// PostgresDialect implements Dialect for PostgreSQL.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (PostgresDialect) InsertIgnorePrefix() string { return "" }

func (PostgresDialect) InsertIgnoreSuffix(conflictColumns string) string {
	return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictColumns)
}

func (PostgresDialect) ReturnsID() bool { return true }

// 23505 is unique_violation.
func (PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// MySQLDialect implements Dialect for MySQL.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Placeholder(int) string { return "?" }

// ReplacePlaceholders turns every $N into ?. Arguments are positional in
// MySQL, so each query must use its $N in ascending order exactly once.
func (MySQLDialect) ReplacePlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (MySQLDialect) InsertIgnorePrefix() string { return "IGNORE " }

func (MySQLDialect) InsertIgnoreSuffix(string) string { return "" }

func (MySQLDialect) ReturnsID() bool { return false }

// 1062 is ER_DUP_ENTRY.
func (MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
