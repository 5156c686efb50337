package conn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/lattice/search"
	"github.com/jacentio/lattice/store"
)

// Manager holds the long-lived store and search client handles. Handles are
// created on first use and dropped by Close.
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	base   store.API
	dynamo *Client
	index  search.Index
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAPI makes the Manager wrap api instead of dialing DynamoDB.
func WithAPI(api store.API) ManagerOption {
	return func(m *Manager) { m.base = api }
}

// WithSearchIndex makes the Manager use idx instead of dialing the search service.
func WithSearchIndex(idx search.Index) ManagerOption {
	return func(m *Manager) { m.index = idx }
}

// WithManagerLogger sets the logger. Default: slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager. No connection is made until first use.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() Config {
	return m.config
}

// Logger returns the Manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// DynamoDB returns the classifying, retrying DynamoDB client.
func (m *Manager) DynamoDB(ctx context.Context) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dynamo != nil {
		return m.dynamo, nil
	}
	if m.base == nil {
		api, err := dialDynamoDB(ctx, m.config.Store)
		if err != nil {
			return nil, err
		}
		m.base = api
	}
	m.dynamo = NewClient(m.base, m.config.Store, m.logger)
	m.logger.Debug("dynamodb client ready",
		"region", m.config.Store.Region,
		"endpoint", m.config.Store.Endpoint,
	)
	return m.dynamo, nil
}

// SearchIndex returns the search backend, or nil when search is disabled.
func (m *Manager) SearchIndex() (search.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index != nil {
		return m.index, nil
	}
	if !m.config.Search.Enabled {
		return nil, nil
	}
	client, err := search.NewClient(m.config.Search)
	if err != nil {
		return nil, err
	}
	m.index = search.NewES(client)
	return m.index, nil
}

// Syncer returns a search syncer bound to the configured table prefix.
func (m *Manager) Syncer() (*search.Syncer, error) {
	idx, err := m.SearchIndex()
	if err != nil {
		return nil, err
	}
	return search.NewSyncer(idx, m.config.Store.TablePrefix, m.logger), nil
}

// Store builds a Store for reg over the managed handles, with search sync
// wired in when enabled.
func (m *Manager) Store(ctx context.Context, reg *store.Registry, opts ...store.Option) (*store.Store, *search.Syncer, error) {
	api, err := m.DynamoDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	syncer, err := m.Syncer()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]store.Option{store.WithLogger(m.logger), store.WithSearch(syncer)}, opts...)
	st, err := store.New(api, reg, m.config.Store, opts...)
	if err != nil {
		return nil, nil, err
	}
	return st, syncer, nil
}

// Close drops the client handles. The next use reconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamo = nil
	m.index = nil
}

func dialDynamoDB(ctx context.Context, cfg store.Config) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		// Throttling is retried by Client.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Configure installs the process-wide Manager.
func Configure(cfg Config, opts ...ManagerOption) *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager != nil {
		defaultManager.Close()
	}
	defaultManager = NewManager(cfg, opts...)
	return defaultManager
}

// Default returns the process-wide Manager, loading configuration from the
// file named by LATTICE_CONFIG and the environment on first use.
func Default() (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager != nil {
		return defaultManager, nil
	}
	cfg, err := LoadConfig(os.Getenv(ConfigEnv))
	if err != nil {
		return nil, err
	}
	defaultManager = NewManager(cfg, WithManagerLogger(cfg.Log.Logger(os.Stderr)))
	return defaultManager, nil
}

// Reset closes and forgets the process-wide Manager. Tests call it between cases.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager != nil {
		defaultManager.Close()
		defaultManager = nil
	}
}
