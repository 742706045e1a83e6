// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "fmt"

// StorageKind is where an attachment's bytes currently live. The set is
// closed: every switch over it handles both values.
type StorageKind uint8

const (
	StorageLocal StorageKind = iota + 1
	StorageRemote
)

func (k StorageKind) String() string {
	switch k {
	case StorageLocal:
		return "local"
	case StorageRemote:
		return "remote"
	default:
		return fmt.Sprintf("StorageKind(%d)", uint8(k))
	}
}

func (k StorageKind) Valid() bool {
	return k == StorageLocal || k == StorageRemote
}

// ParseStorageKind accepts the persisted names. Older attachment tables
// store the remote bucket as "r2".
func ParseStorageKind(s string) (StorageKind, error) {
	switch s {
	case "local", "":
		return StorageLocal, nil
	case "remote", "r2":
		return StorageRemote, nil
	default:
		return 0, fmt.Errorf("unknown storage kind %q", s)
	}
}

func (k StorageKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid storage kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *StorageKind) UnmarshalText(b []byte) error {
	parsed, err := ParseStorageKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UploadMode selects how file bytes travel to the bucket.
type UploadMode uint8

const (
	// ModeRelay streams bytes through this service ("server" in config).
	ModeRelay UploadMode = iota + 1
	// ModeDirect has the client PUT to pre-signed URLs ("client" in config).
	ModeDirect
)

func (m UploadMode) String() string {
	switch m {
	case ModeRelay:
		return "server"
	case ModeDirect:
		return "client"
	default:
		return fmt.Sprintf("UploadMode(%d)", uint8(m))
	}
}

func ParseUploadMode(s string) (UploadMode, error) {
	switch s {
	case "server", "relay":
		return ModeRelay, nil
	case "client", "direct":
		return ModeDirect, nil
	default:
		return 0, fmt.Errorf("unknown upload mode %q", s)
	}
}
