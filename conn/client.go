package conn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cenkalti/backoff/v4"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/store"
)

// Client wraps a DynamoDB API with a per-call timeout, retries for throttled
// calls and error classification. It satisfies store.API.
type Client struct {
	api        store.API
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

var _ store.API = (*Client)(nil)

// NewClient wraps api using the timeout and retry settings of cfg.
func NewClient(api store.API, cfg store.Config, logger *slog.Logger) *Client {
	cfg = cfg.Normalized()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:        api,
		timeout:    cfg.CallTimeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		logger:     logger,
	}
}

// call runs fn, retrying throttled failures with exponential backoff. Once
// retries are exhausted the error is reported as ErrUnavailable.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := Classify(op, fn(callCtx))
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrThrottled) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx), func(err error, d time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		c.logger.Debug("retrying throttled call", "op", op, "delay", d, "error", err)
	})

	if errors.Is(err, store.ErrThrottled) {
		return &store.Error{Kind: store.ErrUnavailable, Op: op, Err: err}
	}
	return err
}

func invoke[I, O any](ctx context.Context, c *Client, op string, fn func(context.Context, I, ...func(*dynamodb.Options)) (O, error), in I, optFns []func(*dynamodb.Options)) (O, error) {
	var out O
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx, in, optFns...)
		return err
	})
	return out, err
}

// GetItem reads one item.
func (c *Client) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return invoke(ctx, c, "GetItem", c.api.GetItem, in, optFns)
}

// PutItem writes one item.
func (c *Client) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return invoke(ctx, c, "PutItem", c.api.PutItem, in, optFns)
}

// UpdateItem changes attributes of one item.
func (c *Client) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return invoke(ctx, c, "UpdateItem", c.api.UpdateItem, in, optFns)
}

// DeleteItem removes one item.
func (c *Client) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return invoke(ctx, c, "DeleteItem", c.api.DeleteItem, in, optFns)
}

// BatchGetItem reads up to 100 items across tables.
func (c *Client) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return invoke(ctx, c, "BatchGetItem", c.api.BatchGetItem, in, optFns)
}

// TransactWriteItems applies writes and condition checks atomically.
func (c *Client) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return invoke(ctx, c, "TransactWriteItems", c.api.TransactWriteItems, in, optFns)
}

// Query reads one page of items sharing a key value.
func (c *Client) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return invoke(ctx, c, "Query", c.api.Query, in, optFns)
}

// Scan reads one page of a table.
func (c *Client) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return invoke(ctx, c, "Scan", c.api.Scan, in, optFns)
}

// CreateTable starts creating a table.
func (c *Client) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return invoke(ctx, c, "CreateTable", c.api.CreateTable, in, optFns)
}

// DeleteTable starts deleting a table.
func (c *Client) DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	return invoke(ctx, c, "DeleteTable", c.api.DeleteTable, in, optFns)
}

// DescribeTable reports the live state of a table.
func (c *Client) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return invoke(ctx, c, "DescribeTable", c.api.DescribeTable, in, optFns)
}

// UpdateTable changes a table's secondary indexes.
func (c *Client) UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	return invoke(ctx, c, "UpdateTable", c.api.UpdateTable, in, optFns)
}
