// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.Store. It backs
// single-process deployments and unit tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

type urlKey struct {
	url     string
	storage types.StorageKind
}

// DB is an in-memory attachment table.
type DB struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*types.Attachment
	byURL  map[urlKey]int64
	now    func() time.Time
}

// New creates an empty table.
func New() *DB {
	return &DB{
		rows:  make(map[int64]*types.Attachment),
		byURL: make(map[urlKey]int64),
		now:   time.Now,
	}
}

func (d *DB) Create(_ context.Context, a *types.Attachment) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := urlKey{url: a.URL, storage: a.Storage}
	if id, ok := d.byURL[key]; ok {
		a.ID = id
		return false, nil
	}

	now := d.now()
	d.nextID++
	a.ID = d.nextID
	if a.CreateTime.IsZero() {
		a.CreateTime = now
	}
	if a.UpdateTime.IsZero() {
		a.UpdateTime = now
	}
	if a.UploadTime.IsZero() {
		a.UploadTime = now
	}
	row := clone(a)
	d.rows[a.ID] = row
	d.byURL[key] = a.ID
	return true, nil
}

func (d *DB) Get(_ context.Context, id int64) (*types.Attachment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, ok := d.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(row), nil
}

func (d *DB) FindByURL(_ context.Context, url string, kind types.StorageKind) (*types.Attachment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byURL[urlKey{url: url, storage: kind}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(d.rows[id]), nil
}

func (d *DB) UpdateStorage(_ context.Context, id int64, from, to types.StorageKind, remoteURL *string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.rows[id]
	if !ok || row.Storage != from {
		return false, nil
	}
	newKey := urlKey{url: row.URL, storage: to}
	if other, taken := d.byURL[newKey]; taken && other != id {
		return false, nil
	}

	delete(d.byURL, urlKey{url: row.URL, storage: from})
	row.Storage = to
	if remoteURL != nil {
		row.RemoteURL = types.StringPtr(*remoteURL)
	}
	row.UpdateTime = d.now()
	d.byURL[newKey] = id
	return true, nil
}

func (d *DB) Delete(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, ok := d.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(d.byURL, urlKey{url: row.URL, storage: row.Storage})
	delete(d.rows, id)
	return nil
}

// Len reports the number of rows.
func (d *DB) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}

func (d *DB) Migrate(context.Context) error { return nil }

func (d *DB) Close() error { return nil }

func clone(a *types.Attachment) *types.Attachment {
	c := *a
	if a.ImageWidth != nil {
		c.ImageWidth = types.IntPtr(*a.ImageWidth)
	}
	if a.ImageHeight != nil {
		c.ImageHeight = types.IntPtr(*a.ImageHeight)
	}
	if a.RemoteURL != nil {
		c.RemoteURL = types.StringPtr(*a.RemoteURL)
	}
	return &c
}

var _ db.Store = (*DB)(nil)
