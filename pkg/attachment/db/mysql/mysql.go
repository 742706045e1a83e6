// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides the MySQL implementation of db.Store.
package mysql

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	dbsql "github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/sql"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"

	"github.com/go-sql-driver/mysql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	TLSModeDisabled  TLSMode = "disabled"
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired encrypts but skips certificate verification.
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA verifies the server certificate against TLSCAFile.
	TLSModeVerifyCA TLSMode = "verify-ca"
)

const customTLSName = "uploadgate"

// Config holds MySQL connection configuration
type Config struct {
	db.Config

	TLSMode   TLSMode
	TLSCAFile string
}

// New opens a MySQL-backed store. The DSN is normalized so DATETIME columns
// scan into time.Time in UTC.
func New(cfg Config) (*dbsql.Store, error) {
	dsn, err := normalizeDSN(cfg)
	if err != nil {
		return nil, err
	}
	sqlCfg := cfg.Config
	sqlCfg.DSN = dsn
	return dbsql.Open("mysql", dbsql.MySQLDialect{}, sqlCfg)
}

func normalizeDSN(cfg Config) (string, error) {
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC

	switch cfg.TLSMode {
	case "", TLSModeDisabled:
	case TLSModePreferred:
		parsed.TLSConfig = "preferred"
	case TLSModeRequired:
		parsed.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCAFile != "" {
			pool, err := utils.LoadCertPool(cfg.TLSCAFile)
			if err != nil {
				return "", err
			}
			tlsConfig.RootCAs = pool
		}
		if err := mysql.RegisterTLSConfig(customTLSName, tlsConfig); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		parsed.TLSConfig = customTLSName
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLSMode)
	}
	return parsed.FormatDSN(), nil
}
