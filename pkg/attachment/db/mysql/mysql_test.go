// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mysql

import (
	"testing"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name     string
		mode     TLSMode
		contains []string
	}{
		{"plain", "", []string{"parseTime=true", "user:pass@tcp(db:3306)/uploads"}},
		{"preferred", TLSModePreferred, []string{"parseTime=true", "tls=preferred"}},
		{"required", TLSModeRequired, []string{"tls=skip-verify"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := normalizeDSN(Config{
				Config:  db.Config{DSN: "user:pass@tcp(db:3306)/uploads"},
				TLSMode: tc.mode,
			})
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, dsn, want)
			}
		})
	}
}

func TestNormalizeDSN_Errors(t *testing.T) {
	_, err := normalizeDSN(Config{Config: db.Config{DSN: "user:pass@tcp(db:3306)/uploads"}, TLSMode: "bogus"})
	assert.Error(t, err)

	_, err = normalizeDSN(Config{Config: db.Config{DSN: "user:pass@tcp(db:3306)/uploads"}, TLSMode: TLSModeVerifyCA, TLSCAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
