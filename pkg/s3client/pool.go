// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Pool caches Clients by endpoint, region, bucket and access key so all
// uploads against one store share a transport.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
	timeout time.Duration
	maxIdle int

	httpClient *http.Client
}

// NewPool creates a new client pool with the given timeout and max idle connections.
func NewPool(timeout time.Duration, maxIdleConns int) *Pool {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if maxIdleConns == 0 {
		maxIdleConns = defaultMaxIdleConns
	}

	return &Pool{
		clients: make(map[string]*Client),
		timeout: timeout,
		maxIdle: maxIdleConns,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConns / 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// GetClient returns a client for cfg, resolving credentials on first use.
// Clients built from the credential chain keep the chain's provider and
// refresh temporary credentials as they expire.
func (p *Pool) GetClient(ctx context.Context, cfg types.StoreConfig) (*Client, error) {
	cacheKey := poolKey(cfg)

	p.mu.RLock()
	client, exists := p.clients[cacheKey]
	p.mu.RUnlock()
	if exists {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[cacheKey]; exists {
		return client, nil
	}

	provider, err := credentialsProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	creds, err := retrieveCredentials(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}
	clientCfg := Config{
		Credentials:       creds,
		HTTPClient:        p.httpClient,
		ChecksumCRC64NVME: cfg.ChecksumCRC64NVME,
	}
	if cfg.UseCredentialChain {
		clientCfg.Provider = provider
	}
	client, err = New(clientCfg)
	if err != nil {
		return nil, err
	}
	p.clients[cacheKey] = client

	logger.Debug().
		Str("endpoint", creds.Endpoint).
		Str("region", creds.Region).
		Str("bucket", creds.Bucket).
		Bool("credential_chain", cfg.UseCredentialChain).
		Msg("Created object store client")

	return client, nil
}

func poolKey(cfg types.StoreConfig) string {
	identity := "chain"
	if !cfg.UseCredentialChain {
		identity = cfg.AccessKeyID + "|" + signature.HashPayload([]byte(cfg.SecretAccessKey))[:16]
	}
	return fmt.Sprintf("%s|%s|%s|%s", cfg.Endpoint, cfg.Region, cfg.Bucket, identity)
}

// Close drops cached clients and idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clients = make(map[string]*Client)
	p.httpClient.CloseIdleConnections()

	return nil
}

// ResolveCredentials turns a StoreConfig into signing credentials. Static keys
// are used as given; with UseCredentialChain the AWS default chain (env,
// shared config, SSO, IMDS) supplies them instead, including the session token
// of temporary credentials. The result is a snapshot: long-running callers
// should use a pooled Client, which refreshes.
func ResolveCredentials(ctx context.Context, cfg types.StoreConfig) (signature.Credentials, error) {
	provider, err := credentialsProvider(ctx, cfg)
	if err != nil {
		return signature.Credentials{}, err
	}
	return retrieveCredentials(ctx, provider, cfg)
}

// credentialsProvider returns a caching provider for cfg.
func credentialsProvider(ctx context.Context, cfg types.StoreConfig) (aws.CredentialsProvider, error) {
	const op = "resolve_credentials"

	if !cfg.UseCredentialChain {
		return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""), nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errs.Configuration(op, fmt.Sprintf("load aws config: %v", err))
	}
	if awsCfg.Credentials == nil {
		return nil, errs.Configuration(op, "no credentials provider available")
	}
	if _, ok := awsCfg.Credentials.(*aws.CredentialsCache); ok {
		return awsCfg.Credentials, nil
	}
	return aws.NewCredentialsCache(awsCfg.Credentials), nil
}

func retrieveCredentials(ctx context.Context, provider aws.CredentialsProvider, cfg types.StoreConfig) (signature.Credentials, error) {
	v, err := provider.Retrieve(ctx)
	if err != nil {
		return signature.Credentials{}, errs.Configuration("resolve_credentials", fmt.Sprintf("retrieve credentials: %v", err))
	}
	creds := withAWSCredentials(signature.Credentials{
		Endpoint: cfg.Endpoint,
		Region:   cfg.Region,
		Bucket:   cfg.Bucket,
	}, v)
	if err := creds.Validate(); err != nil {
		return signature.Credentials{}, err
	}
	return creds, nil
}

// withAWSCredentials replaces the keys and session token of base with v's.
func withAWSCredentials(base signature.Credentials, v aws.Credentials) signature.Credentials {
	base.AccessKeyID = v.AccessKeyID
	base.SecretAccessKey = v.SecretAccessKey
	base.SessionToken = v.SessionToken
	return base
}
