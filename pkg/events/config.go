// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes attachment lifecycle events (created, deleted)
// to Redis Pub/Sub and Kafka, so other services can react to uploads
// without polling the attachment table.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds event notification configuration.
type Config struct {
	// Enabled controls whether events are emitted at all.
	Enabled bool `mapstructure:"enabled"`

	// QueueSize bounds events waiting for delivery.
	QueueSize int `mapstructure:"queue_size"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// Channel is the channel prefix; events go to "{channel}:{bucket}".
	Channel string `mapstructure:"channel"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all.
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd".
	Compression string `mapstructure:"compression"`

	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// Validate checks the enabled publishers.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if !c.Redis.Enabled && !c.Kafka.Enabled {
		errs = append(errs, errors.New("events enabled but no publisher (redis or kafka) is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("events.redis.addr is required"))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("events.kafka.brokers is required"))
		}
		if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
			errs = append(errs, fmt.Errorf("events.kafka.required_acks must be -1, 0 or 1, got %d", c.Kafka.RequiredAcks))
		}
		if c.Kafka.SASLEnabled && c.Kafka.SASLUsername == "" {
			errs = append(errs, errors.New("events.kafka.sasl_username is required with SASL"))
		}
	}
	return errors.Join(errs...)
}

// Build validates c, connects the enabled publishers and returns an emitter
// for bucket. A disabled config yields a no-op emitter.
func Build(ctx context.Context, c Config, bucket string) (*Emitter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled {
		return NoopEmitter(), nil
	}

	var publishers []Publisher
	closeAll := func() {
		for _, p := range publishers {
			p.Close()
		}
	}
	if c.Redis.Enabled {
		p, err := NewRedisPublisher(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if c.Kafka.Enabled {
		p, err := NewKafkaPublisher(c.Kafka)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return NewEmitter(EmitterConfig{
		Publishers: publishers,
		Bucket:     bucket,
		QueueSize:  c.QueueSize,
	}), nil
}
