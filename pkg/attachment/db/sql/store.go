// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// Store is a dialect-aware attachment table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewStore wraps an open *sql.DB.
func NewStore(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{db: sqlDB, dialect: dialect, now: time.Now}
}

// Open opens a database connection, applies pool settings from cfg and pings.
func Open(driverName string, dialect Dialect, cfg db.Config) (*Store, error) {
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, db.DefaultMaxOpenConns))
	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, db.DefaultMaxIdleConns))
	sqlDB.SetConnMaxLifetime(time.Duration(orDefault(cfg.ConnMaxLifetime, db.DefaultConnMaxLifetime)) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(orDefault(cfg.ConnMaxIdleTime, db.DefaultConnMaxIdleTime)) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(sqlDB, dialect), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// DB returns the underlying *sql.DB for direct access if needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query executes a query with dialect-aware placeholder conversion.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

const attachmentColumns = `id, url, storage, category, admin_id, user_id, filename, filesize,
	mimetype, imagetype, imagewidth, imageheight, imageframes, checksum, remote_url,
	uploadtime, createtime, updatetime`

// InsertQuery builds the duplicate-ignoring insert for this dialect.
func InsertQuery(d Dialect) string {
	q := "INSERT " + d.InsertIgnorePrefix() + `INTO attachments (url, storage, category, admin_id, user_id,
	filename, filesize, mimetype, imagetype, imagewidth, imageheight, imageframes, checksum,
	remote_url, uploadtime, createtime, updatetime)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)` +
		d.InsertIgnoreSuffix("url, storage")
	if d.ReturnsID() {
		q += " RETURNING id"
	}
	return q
}

func (s *Store) Create(ctx context.Context, a *types.Attachment) (bool, error) {
	if !a.Storage.Valid() {
		return false, fmt.Errorf("create attachment: invalid storage kind %d", a.Storage)
	}
	now := s.now().UTC()
	if a.CreateTime.IsZero() {
		a.CreateTime = now
	}
	if a.UpdateTime.IsZero() {
		a.UpdateTime = now
	}
	if a.UploadTime.IsZero() {
		a.UploadTime = now
	}

	args := []any{
		a.URL, a.Storage.String(), a.Category, a.AdminID, a.UserID,
		a.Filename, a.Filesize, a.Mimetype, a.ImageType,
		nullInt(a.ImageWidth), nullInt(a.ImageHeight), a.ImageFrames, a.Checksum,
		nullString(a.RemoteURL), a.UploadTime, a.CreateTime, a.UpdateTime,
	}
	query := InsertQuery(s.dialect)

	if s.dialect.ReturnsID() {
		err := s.QueryRow(ctx, query, args...).Scan(&a.ID)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, sql.ErrNoRows):
			return false, s.loadExistingID(ctx, a)
		default:
			return false, fmt.Errorf("insert attachment: %w", err)
		}
	}

	res, err := s.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert attachment: %w", err)
	}
	if n == 0 {
		return false, s.loadExistingID(ctx, a)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert attachment: %w", err)
	}
	a.ID = id
	return true, nil
}

func (s *Store) loadExistingID(ctx context.Context, a *types.Attachment) error {
	err := s.QueryRow(ctx, `SELECT id FROM attachments WHERE url = $1 AND storage = $2`,
		a.URL, a.Storage.String()).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("load existing attachment: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*types.Attachment, error) {
	row := s.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id)
	return scanAttachment(row)
}

func (s *Store) FindByURL(ctx context.Context, url string, kind types.StorageKind) (*types.Attachment, error) {
	row := s.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE url = $1 AND storage = $2`,
		url, kind.String())
	return scanAttachment(row)
}

// UpdateStorage flips the row only while it is still in from. A unique
// violation means another row already owns (url, to).
func (s *Store) UpdateStorage(ctx context.Context, id int64, from, to types.StorageKind, remoteURL *string) (bool, error) {
	res, err := s.Exec(ctx, `UPDATE attachments
		SET storage = $1, remote_url = COALESCE($2, remote_url), updatetime = $3
		WHERE id = $4 AND storage = $5`,
		to.String(), nullString(remoteURL), s.now().UTC(), id, from.String())
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("update attachment storage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update attachment storage: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Migrate applies the embedded migrations for this dialect.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return db.RunMigrations(ctx, &migrator{store: s}, db.Driver(s.dialect.Name()))
}

type migrator struct {
	store *Store
}

func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.store.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *migrator) Apply(ctx context.Context, migration db.Migration) error {
	for _, stmt := range db.SplitStatements(migration.SQL) {
		if _, err := m.store.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w", err)
		}
	}
	return nil
}

func (m *migrator) SetVersion(ctx context.Context, version int) error {
	if _, err := m.store.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row scanner) (*types.Attachment, error) {
	var (
		a             types.Attachment
		storage       string
		width, height sql.NullInt64
		remoteURL     sql.NullString
	)
	err := row.Scan(&a.ID, &a.URL, &storage, &a.Category, &a.AdminID, &a.UserID,
		&a.Filename, &a.Filesize, &a.Mimetype, &a.ImageType, &width, &height,
		&a.ImageFrames, &a.Checksum, &remoteURL, &a.UploadTime, &a.CreateTime, &a.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attachment: %w", err)
	}

	kind, err := types.ParseStorageKind(storage)
	if err != nil {
		return nil, fmt.Errorf("scan attachment %d: %w", a.ID, err)
	}
	a.Storage = kind
	if width.Valid {
		a.ImageWidth = types.IntPtr(int(width.Int64))
	}
	if height.Valid {
		a.ImageHeight = types.IntPtr(int(height.Int64))
	}
	if remoteURL.Valid {
		a.RemoteURL = types.StringPtr(remoteURL.String)
	}
	return &a, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var _ db.Store = (*Store)(nil)
