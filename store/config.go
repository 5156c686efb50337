package store

import "time"

// Config holds configuration for the Store and the table lifecycle manager.
type Config struct {
	// Endpoint overrides the DynamoDB endpoint (DynamoDB Local, LocalStack).
	// Empty means the real AWS endpoint for Region.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// Region is the AWS region.
	// Default: "us-east-1"
	Region string `yaml:"region" validate:"required"`

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required_with=AccessKeyID"`

	// TablePrefix is prepended to every physical table name.
	TablePrefix string `yaml:"table_prefix"`

	// CreateTablesOnStartup ensures every registered table exists when a process starts.
	CreateTablesOnStartup bool `yaml:"create_tables_on_startup"`

	// CallTimeout bounds every individual store call.
	// Default: 10s
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxRetries is the number of retries for throttled calls before
	// the call fails with ErrUnavailable.
	// Default: 5
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=20"`

	// RetryBaseDelay is the first backoff interval for throttled calls.
	// Default: 50ms
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// ProvisionTimeout bounds waiting for a table or index to become active.
	// Default: 5m
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`

	// PageSize is the Limit sent with each Query/Scan page. Zero lets DynamoDB
	// decide (1 MB pages).
	PageSize int32 `yaml:"page_size" validate:"gte=0"`

	// CheckCollision adds attribute_not_exists(pk) to inserts so a duplicate
	// primary key fails with ErrConflict instead of overwriting.
	// Default: true
	CheckCollision bool `yaml:"check_collision"`
}

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig() Config {
	return Config{
		Region:           "us-east-1",
		CallTimeout:      10 * time.Second,
		MaxRetries:       5,
		RetryBaseDelay:   50 * time.Millisecond,
		ProvisionTimeout: 5 * time.Minute,
		CheckCollision:   true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = 5 * time.Minute
	}
	if c.PageSize < 0 {
		c.PageSize = 0
	}
}

// Normalized returns a copy of c with out-of-range values replaced by defaults.
func (c Config) Normalized() Config {
	c.validate()
	return c
}
