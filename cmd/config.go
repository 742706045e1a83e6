// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/memory"
	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/mysql"
	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/postgres"
	"github.com/LeeDigitalWorks/uploadgate/pkg/events"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/upload"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addStoreFlags registers the object store settings.
func addStoreFlags(f *pflag.FlagSet) {
	f.String("endpoint", "", "Object store endpoint, e.g. https://<account>.r2.cloudflarestorage.com")
	f.String("bucket", "", "Bucket uploads are written to")
	f.String("region", "auto", "Signing region (\"auto\" for R2)")
	f.String("access_key_id", "", "Access key id (env: UPLOADGATE_ACCESS_KEY_ID)")
	f.String("secret_access_key", "", "Secret access key (env: UPLOADGATE_SECRET_ACCESS_KEY)")
	f.Bool("use_credential_chain", false, "Resolve credentials through the AWS default chain")
	f.Duration("store_timeout", 30*time.Second, "Timeout for one object store request")
	f.Bool("checksum_crc64nvme", false, "Send x-amz-checksum-crc64nvme with PutObject")
}

// addUploadFlags registers the upload policy settings.
func addUploadFlags(f *pflag.FlagSet) {
	f.String("uploadmode", "client", "Upload mode: client (direct to bucket) or server (relay)")
	f.Int("expire", int(types.DefaultTokenTTL/time.Second), "Token and pre-signed URL lifetime in seconds")
	f.String("savekey", types.DefaultSaveKey, "Object key template")
	f.String("maxsize", "10mb", "Maximum upload size")
	f.String("mimetype", types.DefaultMimetypes, "Allowed extensions or MIME patterns, comma separated")
	f.Bool("multiple", false, "Allow selecting multiple files in the front end")
	f.Bool("chunking", false, "Enable chunked (multipart) uploads")
	f.String("chunksize", "10mb", "Chunk size for multipart uploads")
	f.String("cdnurl", "", "Public base URL objects are served from")
	f.String("relay_url", types.DefaultRelayURL, "Relay endpoint advertised to the front end")
	f.Bool("serverbackup", false, "Keep relayed files on local disk after upload")
	f.Bool("syncdelete", true, "Delete the object from the bucket with its attachment record")
	f.String("data_dir", "./data", "Local landing area for relayed files")
	f.String("chunk_dir", "./data/.chunks", "Assembly area for relayed chunks")
}

// addDBFlags registers the attachment database settings.
func addDBFlags(f *pflag.FlagSet) {
	f.String("db_driver", "memory", "Database driver (memory, postgres, mysql)")
	f.String("db_dsn", "", "Database connection string")
	f.Int("db_max_open_conns", db.DefaultMaxOpenConns, "Maximum open database connections")
	f.Int("db_max_idle_conns", db.DefaultMaxIdleConns, "Maximum idle database connections")
	f.String("db_tls_mode", "", "MySQL TLS mode (disabled, preferred, required, verify-ca)")
	f.String("db_tls_ca_file", "", "Path to CA certificate file for database TLS (verify-ca mode)")
}

// addEventFlags registers the attachment event publishers.
func addEventFlags(f *pflag.FlagSet) {
	f.Bool("events_enabled", false, "Publish attachment created/deleted events")
	f.Int("events_queue_size", 1024, "Events buffered for delivery before new ones are dropped")
	f.Bool("events_redis_enabled", false, "Publish events to Redis Pub/Sub")
	f.String("events_redis_addr", "localhost:6379", "Redis address for events")
	f.String("events_redis_password", "", "Redis password for events")
	f.Int("events_redis_db", 0, "Redis database number for events")
	f.String("events_redis_channel", "uploadgate:events", "Channel prefix; events go to <prefix>:<bucket>")
	f.Bool("events_kafka_enabled", false, "Publish events to Kafka")
	f.StringSlice("events_kafka_brokers", nil, "Kafka broker addresses")
	f.String("events_kafka_topic", "uploadgate-events", "Kafka topic for events")
	f.Int("events_kafka_required_acks", 1, "Kafka acks: 0=none, 1=leader, -1=all")
	f.String("events_kafka_compression", "snappy", "Kafka compression (none, gzip, snappy, lz4, zstd)")
	f.Bool("events_kafka_tls", false, "Use TLS for Kafka brokers")
	f.String("events_kafka_sasl_mechanism", "", "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512); empty disables SASL")
	f.String("events_kafka_sasl_username", "", "Kafka SASL username")
	f.String("events_kafka_sasl_password", "", "Kafka SASL password")
}

func loadEventsConfig(f *FlagLoader) events.Config {
	redisCfg := events.DefaultRedisConfig(f.String("events_redis_addr"))
	redisCfg.Enabled = f.Bool("events_redis_enabled")
	redisCfg.Password = f.String("events_redis_password")
	redisCfg.DB = f.Int("events_redis_db")
	redisCfg.Channel = f.String("events_redis_channel")

	kafkaCfg := events.DefaultKafkaConfig(f.StringSlice("events_kafka_brokers"))
	kafkaCfg.Enabled = f.Bool("events_kafka_enabled")
	kafkaCfg.Topic = f.String("events_kafka_topic")
	kafkaCfg.RequiredAcks = f.Int("events_kafka_required_acks")
	kafkaCfg.Compression = f.String("events_kafka_compression")
	kafkaCfg.TLS = f.Bool("events_kafka_tls")
	if mech := f.String("events_kafka_sasl_mechanism"); mech != "" {
		kafkaCfg.SASLEnabled = true
		kafkaCfg.SASLMechanism = mech
		kafkaCfg.SASLUsername = f.String("events_kafka_sasl_username")
		kafkaCfg.SASLPassword = f.String("events_kafka_sasl_password")
	}

	return events.Config{
		Enabled:   f.Bool("events_enabled"),
		QueueSize: f.Int("events_queue_size"),
		Redis:     redisCfg,
		Kafka:     kafkaCfg,
	}
}

func loadStoreConfig(f *FlagLoader) types.StoreConfig {
	return types.StoreConfig{
		Endpoint:           f.String("endpoint"),
		Bucket:             f.String("bucket"),
		Region:             f.String("region"),
		AccessKeyID:        f.String("access_key_id"),
		SecretAccessKey:    f.String("secret_access_key"),
		UseCredentialChain: f.Bool("use_credential_chain"),
		Timeout:            f.Duration("store_timeout"),
		ChecksumCRC64NVME:  f.Bool("checksum_crc64nvme"),
	}
}

// loadUploadConfig builds and validates the upload configuration. Warnings
// are logged; errors are returned as one ConfigurationError.
func loadUploadConfig(f *FlagLoader) (*types.UploadConfig, error) {
	mode, err := types.ParseUploadMode(f.String("uploadmode"))
	if err != nil {
		return nil, err
	}
	maxSize, err := f.Size("maxsize")
	if err != nil {
		return nil, fmt.Errorf("maxsize: %w", err)
	}
	chunkSize, err := f.Size("chunksize")
	if err != nil {
		return nil, fmt.Errorf("chunksize: %w", err)
	}

	cfg := &types.UploadConfig{
		Store:        loadStoreConfig(f),
		Mode:         mode,
		TokenTTL:     time.Duration(f.Int("expire")) * time.Second,
		SaveKey:      f.String("savekey"),
		MaxSize:      maxSize,
		Mimetypes:    types.ParseMimetypes(f.String("mimetype")),
		Multiple:     f.Bool("multiple"),
		Chunking:     f.Bool("chunking"),
		ChunkSize:    chunkSize,
		CDNURL:       f.String("cdnurl"),
		RelayURL:     f.String("relay_url"),
		ServerBackup: f.Bool("serverbackup"),
		SyncDelete:   f.Bool("syncdelete"),
		DataDir:      f.String("data_dir"),
		ChunkDir:     f.String("chunk_dir"),
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		logger.Warn().Msg(w)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDBConfig(f *FlagLoader) (db.Config, mysql.TLSMode, string, error) {
	driver, err := db.ParseDriver(f.String("db_driver"))
	if err != nil {
		return db.Config{}, "", "", err
	}
	cfg := db.DefaultConfig(driver, f.String("db_dsn"))
	if n := f.Int("db_max_open_conns"); n > 0 {
		cfg.MaxOpenConns = n
	}
	if n := f.Int("db_max_idle_conns"); n > 0 {
		cfg.MaxIdleConns = n
	}
	return cfg, mysql.TLSMode(f.String("db_tls_mode")), f.String("db_tls_ca_file"), nil
}

// initializeDatabase opens the configured attachment store, wraps it with
// metrics and applies migrations.
func initializeDatabase(ctx context.Context, f *FlagLoader) (db.Store, error) {
	cfg, tlsMode, caFile, err := loadDBConfig(f)
	if err != nil {
		return nil, err
	}

	var store db.Store
	switch cfg.Driver {
	case db.DriverMemory:
		logger.Warn().Msg("using in-memory attachment store; records are lost on restart")
		store = memory.New()
	case db.DriverPostgres:
		store, err = postgres.New(cfg)
	case db.DriverMySQL:
		store, err = mysql.New(mysql.Config{Config: cfg, TLSMode: tlsMode, TLSCAFile: caFile})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	metricsStore := db.NewMetricsStore(store)
	if err := metricsStore.Migrate(ctx); err != nil {
		metricsStore.Close()
		return nil, fmt.Errorf("migrate %s database: %w", cfg.Driver, err)
	}
	logger.Info().Str("driver", string(cfg.Driver)).Msg("attachment database ready")
	return metricsStore, nil
}

// services is everything built from configuration that commands share.
type services struct {
	cfg    *types.UploadConfig
	pool   *s3client.Pool
	store  *s3client.Client
	guard  *token.Guard
	db     db.Store
	events *events.Emitter
	coord  *upload.Coordinator
}

func (r *services) Close() {
	if r.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.events.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to drain attachment events")
		}
		cancel()
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close attachment database")
		}
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

// newStoreClient resolves credentials once and returns a pooled client plus
// a token guard keyed by the same credentials.
func newStoreClient(ctx context.Context, cfg types.StoreConfig) (*s3client.Pool, *s3client.Client, *token.Guard, error) {
	creds, err := s3client.ResolveCredentials(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	guard, err := token.NewGuard(creds.AccessKeyID, creds.SecretAccessKey)
	if err != nil {
		return nil, nil, nil, err
	}
	pool := s3client.NewPool(cfg.Timeout, 0)
	client, err := pool.GetClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return pool, client, guard, nil
}

// buildServices wires the coordinator from the command's flags and config.
func buildServices(cmd *cobra.Command) (*services, error) {
	ctx := cmd.Context()
	f := NewFlagLoader(cmd)

	cfg, err := loadUploadConfig(f)
	if err != nil {
		return nil, err
	}
	rt := &services{cfg: cfg}

	rt.pool, rt.store, rt.guard, err = newStoreClient(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	files, err := backend.NewFiles(cfg.DataDir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("data_dir: %w", err)
	}
	var chunks *backend.Files
	if cfg.Mode == types.ModeRelay && cfg.Chunking {
		if chunks, err = backend.NewFiles(cfg.ChunkDir); err != nil {
			rt.Close()
			return nil, fmt.Errorf("chunk_dir: %w", err)
		}
	}

	backends, err := backend.NewSet(backend.Deps{Config: cfg, Files: files, Store: rt.store})
	if err != nil {
		rt.Close()
		return nil, err
	}

	if rt.db, err = initializeDatabase(ctx, f); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.events, err = events.Build(ctx, loadEventsConfig(f), cfg.Store.Bucket); err != nil {
		rt.Close()
		return nil, fmt.Errorf("events: %w", err)
	}

	rt.coord, err = upload.New(upload.Config{
		Upload:   cfg,
		Store:    rt.store,
		Guard:    rt.guard,
		Backends: backends,
		DB:       rt.db,
		Files:    files,
		Chunks:   chunks,
		Events:   rt.events,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
