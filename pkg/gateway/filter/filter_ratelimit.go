// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"

	"golang.org/x/time/rate"
)

const FilterTypeRateLimit = "RateLimitFilter"

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// IPRPS is the sustained request rate per client IP; 0 disables the
	// local limiter.
	IPRPS   float64 `mapstructure:"ip_rps"`
	IPBurst int     `mapstructure:"ip_burst"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`

	// CleanupInterval for removing idle per-IP limiters
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	Redis RedisRateLimitConfig `mapstructure:"redis"`
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		IPRPS:             20,
		IPBurst:           40,
		TrustProxyHeaders: true,
		CleanupInterval:   5 * time.Minute,
		Redis:             DefaultRedisRateLimitConfig(),
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// RateLimitFilter throttles requests per client IP. With a Redis limiter the
// budget is shared across gateway replicas; otherwise it is per process.
type RateLimitFilter struct {
	config RateLimitConfig
	redis  *RedisRateLimiter

	ipLimiters sync.Map // IP -> *ipLimiter

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateLimitFilter starts the idle-limiter cleanup loop when configured;
// call Close to stop it. redis may be nil.
func NewRateLimitFilter(config RateLimitConfig, redis *RedisRateLimiter) *RateLimitFilter {
	if config.IPBurst < 1 {
		config.IPBurst = 1
	}
	f := &RateLimitFilter{
		config: config,
		redis:  redis,
		stop:   make(chan struct{}),
	}
	if config.CleanupInterval > 0 && redis == nil {
		f.wg.Add(1)
		go f.cleanupLoop()
	}
	return f
}

func (f *RateLimitFilter) Type() string {
	return FilterTypeRateLimit
}

func (f *RateLimitFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	if d.Req.Method == http.MethodOptions {
		return Next{}, nil
	}

	ip := f.clientIP(d.Req)
	action := d.Action.String()

	if f.redis != nil {
		res, err := f.redis.Allow(d.Ctx, "ip:"+ip, 1)
		if err != nil {
			// Only reachable with fail_open disabled.
			RateLimitRequestsTotal.WithLabelValues(action, "error").Inc()
			logger.Ctx(d.Ctx).Error().Err(err).Str("ip", ip).Msg("distributed rate limit check failed")
			return End{}, ErrTooManyRequests
		}
		if !res.Allowed {
			return End{}, f.reject(action, "redis", ip, d)
		}
		RateLimitRequestsTotal.WithLabelValues(action, "allowed").Inc()
		return Next{}, nil
	}

	if f.config.IPRPS > 0 && !f.getOrCreateIPLimiter(ip).Allow() {
		return End{}, f.reject(action, "ip", ip, d)
	}
	RateLimitRequestsTotal.WithLabelValues(action, "allowed").Inc()
	return Next{}, nil
}

func (f *RateLimitFilter) reject(action, scope, ip string, d *data.Data) error {
	RateLimitRequestsTotal.WithLabelValues(action, "rejected").Inc()
	RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
	logger.Ctx(d.Ctx).Debug().Str("ip", ip).Str("scope", scope).Msg("request rate limited")
	return ErrTooManyRequests
}

func (f *RateLimitFilter) getOrCreateIPLimiter(ip string) *rate.Limiter {
	now := time.Now().Unix()
	if v, ok := f.ipLimiters.Load(ip); ok {
		l := v.(*ipLimiter)
		l.lastUsed.Store(now)
		return l.limiter
	}

	l := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(f.config.IPRPS), f.config.IPBurst)}
	l.lastUsed.Store(now)
	actual, loaded := f.ipLimiters.LoadOrStore(ip, l)
	if !loaded {
		RateLimitActiveLimiters.Inc()
	}
	return actual.(*ipLimiter).limiter
}

// Close stops the cleanup loop.
func (f *RateLimitFilter) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
}

func (f *RateLimitFilter) cleanupLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.cleanup(time.Now().Add(-f.config.CleanupInterval * 2).Unix())
		}
	}
}

func (f *RateLimitFilter) cleanup(cutoff int64) {
	f.ipLimiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).lastUsed.Load() < cutoff {
			f.ipLimiters.Delete(key)
			RateLimitActiveLimiters.Dec()
		}
		return true
	})
}

func (f *RateLimitFilter) clientIP(r *http.Request) string {
	if f.config.TrustProxyHeaders {
		return getClientIP(r)
	}
	return remoteIP(r)
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs, take first)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP (set by some proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
