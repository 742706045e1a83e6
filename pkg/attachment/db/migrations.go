// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations loads the migration files for driver from the embedded
// filesystem, ordered by version.
func LoadMigrations(driver Driver) ([]Migration, error) {
	dir := "migrations/" + string(driver)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// 001_create_attachments.sql -> 1, create_attachments
		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			return nil, fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrator handles database migrations
type Migrator interface {
	CurrentVersion(ctx context.Context) (int, error)
	Apply(ctx context.Context, m Migration) error
	SetVersion(ctx context.Context, version int) error
}

// RunMigrations applies all pending migrations for driver.
func RunMigrations(ctx context.Context, migrator Migrator, driver Driver) error {
	migrations, err := LoadMigrations(driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	currentVersion, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := migrator.Apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := migrator.SetVersion(ctx, m.Version); err != nil {
			return fmt.Errorf("set version %d: %w", m.Version, err)
		}
	}
	return nil
}

// SplitStatements splits a migration script on semicolons outside quotes and
// drops comment-only fragments.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	var quote rune
	inLineComment := false

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inLineComment:
			if r == '\n' {
				inLineComment = false
				current.WriteRune(r)
			}
			continue
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inLineComment = true
			continue
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
