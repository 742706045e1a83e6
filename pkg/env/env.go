// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package env names the deployment environment. It is read from the "env"
// config key (UPLOADGATE_ENV) or ENV, once, on first use; configuration must
// be loaded before the first call.
package env

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	current string
	once    sync.Once
)

// Get returns the environment name, defaulting to local.
func Get() string {
	once.Do(func() {
		current = strings.ToLower(strings.TrimSpace(viper.GetString("env")))
		if current == "" {
			current = strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))
		}
		if current == "" {
			current = Local
		}
	})
	return current
}

func IsLocal() bool {
	return Get() == Local
}

func IsProduction() bool {
	return Get() == Production
}

func IsTesting() bool {
	return Get() == Testing
}
