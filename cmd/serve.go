// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/debug"
	"github.com/LeeDigitalWorks/uploadgate/pkg/env"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeOpts holds the HTTP listener and request policy settings.
type ServeOpts struct {
	IP        string
	HTTPPort  int
	DebugPort int
	CertFile  string
	KeyFile   string

	CORSDomains []string
	Categories  []string

	PublicConfig bool
	ConfigKeys   []string

	RateLimitEnabled       bool
	RateLimitIPRPS         float64
	RateLimitIPBurst       int
	RateLimitTrustProxy    bool
	RateLimitRedisEnabled  bool
	RateLimitRedisAddr     string
	RateLimitRedisPassword string
	RateLimitRedisDB       int
	RateLimitRedisPoolSize int
	RateLimitRedisFailOpen bool

	ShutdownTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload gateway",
	Long: `Serve the upload endpoints:

  GET  /upload/config   front-end configuration; trusted callers also get an upload token
  POST /upload/params   pre-signed PUT (and part) URLs for direct uploads
  POST /upload/relay    relay uploads, chunks, merge and abort
  POST /upload/notify   record a direct upload in the attachment table`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("http_port", 8080, "HTTP port")
	f.Int("debug_port", 8081, "Debug HTTP port (metrics, pprof, readiness)")
	f.String("cert_file", "", "TLS certificate file")
	f.String("key_file", "", "TLS key file")
	f.StringSlice("cors_domains", []string{"*"}, "Origins allowed to call the API; * allows any")
	f.StringSlice("categories", nil, "Allowed attachment categories; empty accepts any")
	f.Duration("shutdown_timeout", 30*time.Second, "Time to drain in-flight requests on shutdown")
	f.Bool("public_config", false, "Issue an upload token to every /upload/config caller")
	f.StringSlice("config_keys", nil, "Keys that trusted callers present in X-Upload-Config-Key or as a bearer token to get an upload token from /upload/config")

	f.Bool("rate_limit_enabled", true, "Enable request rate limiting")
	f.Float64("rate_limit_ip_rps", 20, "Requests per second allowed per client IP")
	f.Int("rate_limit_ip_burst", 40, "Burst allowed per client IP")
	f.Bool("rate_limit_trust_proxy_headers", true, "Take the client IP from X-Forwarded-For / X-Real-IP")
	f.Bool("rate_limit_redis_enabled", false, "Enable distributed rate limiting via Redis")
	f.String("rate_limit_redis_addr", "localhost:6379", "Redis address for distributed rate limiting")
	f.String("rate_limit_redis_password", "", "Redis password")
	f.Int("rate_limit_redis_db", 0, "Redis database number")
	f.Int("rate_limit_redis_pool_size", 10, "Redis connection pool size")
	f.Bool("rate_limit_redis_fail_open", true, "Allow requests when Redis is unavailable")

	addStoreFlags(f)
	addUploadFlags(f)
	addDBFlags(f)
	addEventFlags(f)
	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		IP:                     f.String("ip"),
		HTTPPort:               f.Int("http_port"),
		DebugPort:              f.Int("debug_port"),
		CertFile:               f.String("cert_file"),
		KeyFile:                f.String("key_file"),
		CORSDomains:            f.StringSlice("cors_domains"),
		Categories:             f.StringSlice("categories"),
		ShutdownTimeout:        f.Duration("shutdown_timeout"),
		PublicConfig:           f.Bool("public_config"),
		ConfigKeys:             f.StringSlice("config_keys"),
		RateLimitEnabled:       f.Bool("rate_limit_enabled"),
		RateLimitIPRPS:         f.Float64("rate_limit_ip_rps"),
		RateLimitIPBurst:       f.Int("rate_limit_ip_burst"),
		RateLimitTrustProxy:    f.Bool("rate_limit_trust_proxy_headers"),
		RateLimitRedisEnabled:  f.Bool("rate_limit_redis_enabled"),
		RateLimitRedisAddr:     f.String("rate_limit_redis_addr"),
		RateLimitRedisPassword: f.String("rate_limit_redis_password"),
		RateLimitRedisDB:       f.Int("rate_limit_redis_db"),
		RateLimitRedisPoolSize: f.Int("rate_limit_redis_pool_size"),
		RateLimitRedisFailOpen: f.Bool("rate_limit_redis_fail_open"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	opts := loadServeOpts(cmd)
	debug.SetNotReady()

	svc, err := buildServices(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize upload gateway")
	}
	if !opts.PublicConfig && len(opts.ConfigKeys) == 0 {
		logger.Warn().Msg("neither public_config nor config_keys is set; /upload/config will never include an upload token")
	}

	var limiter *filter.RateLimitFilter
	var redisLimiter *filter.RedisRateLimiter
	if opts.RateLimitEnabled && !env.IsLocal() {
		rateLimitCfg := filter.DefaultRateLimitConfig()
		rateLimitCfg.Enabled = true
		rateLimitCfg.IPRPS = opts.RateLimitIPRPS
		rateLimitCfg.IPBurst = opts.RateLimitIPBurst
		rateLimitCfg.TrustProxyHeaders = opts.RateLimitTrustProxy

		if opts.RateLimitRedisEnabled {
			redisCfg := filter.DefaultRedisRateLimitConfig()
			redisCfg.Enabled = true
			redisCfg.Addr = opts.RateLimitRedisAddr
			redisCfg.Password = opts.RateLimitRedisPassword
			redisCfg.DB = opts.RateLimitRedisDB
			redisCfg.PoolSize = opts.RateLimitRedisPoolSize
			redisCfg.FailOpen = opts.RateLimitRedisFailOpen
			redisCfg.DefaultRPS = int64(opts.RateLimitIPRPS)
			redisCfg.DefaultBurst = int64(opts.RateLimitIPBurst)
			rateLimitCfg.Redis = redisCfg

			redisLimiter, err = filter.NewRedisRateLimiter(cmd.Context(), redisCfg)
			if err != nil {
				logger.Fatal().Err(err).Str("redis_addr", opts.RateLimitRedisAddr).Msg("failed to connect rate limit redis")
			}
			logger.Info().
				Str("redis_addr", opts.RateLimitRedisAddr).
				Bool("fail_open", opts.RateLimitRedisFailOpen).
				Msg("distributed rate limiting enabled")
		}
		limiter = filter.NewRateLimitFilter(rateLimitCfg, redisLimiter)
	}

	server, err := gateway.NewServer(gateway.Config{
		Coordinator: svc.coord,
		Upload:      svc.cfg,
		CORSDomains: opts.CORSDomains,
		Categories:  opts.Categories,
		RateLimit:   limiter,

		PublicConfig: opts.PublicConfig,
		ConfigKeys:   opts.ConfigKeys,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create gateway server")
	}

	tlsConfig, err := utils.LoadServerTLSConfig(opts.CertFile, opts.KeyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load TLS credentials")
	}

	httpServer := startHTTPServer(server, opts.IP, opts.HTTPPort, tlsConfig)
	debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort, nil)

	if svc.cfg.Mode == types.ModeRelay {
		// Relay uploads land on disk first.
		debug.SetReadyCheck(func() bool {
			return utils.TestWritableFile(svc.cfg.DataDir) == nil
		})
	}
	debug.SetReady()
	logger.Info().
		Str("mode", svc.cfg.Mode.String()).
		Str("bucket", svc.cfg.Store.Bucket).
		Int("http_port", opts.HTTPPort).
		Bool("tls", tlsConfig != nil).
		Msg("upload gateway started")

	waitForShutdown()
	debug.SetNotReady()

	ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if err := debugServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("debug server shutdown")
	}
	if limiter != nil {
		limiter.Close()
	}
	if redisLimiter != nil {
		redisLimiter.Close()
	}
	svc.Close()
	logger.Info().Msg("upload gateway stopped")
}
