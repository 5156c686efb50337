package search

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// Config configures the search service connection.
type Config struct {
	// Enabled turns search sync on. When false every sync call is a no-op
	// and search falls back to scanning the table.
	Enabled bool `yaml:"enabled"`

	Host string `yaml:"host" validate:"required_if=Enabled true"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`

	// UseTLS selects https. VerifyCerts=false skips certificate verification.
	UseTLS      bool `yaml:"use_tls"`
	VerifyCerts bool `yaml:"verify_certs"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds waiting for response headers.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is passed to the client transport.
	// Default: 1
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
}

// DefaultConfig returns defaults for a local search node.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        9200,
		VerifyCerts: true,
		Timeout:     5 * time.Second,
		MaxRetries:  1,
	}
}

// Address returns the base URL of the search service.
func (c Config) Address() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	port := c.Port
	if port == 0 {
		port = 9200
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Host, strconv.Itoa(port)))
}

// NewClient creates an Elasticsearch-compatible client for c.
func NewClient(c Config) (*elasticsearch.Client, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{c.Address()},
		Username:  c.Username,
		Password:  c.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: !c.VerifyCerts},
		},
		MaxRetries: c.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return client, nil
}
