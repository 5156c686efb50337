// Package stream provides a DynamoDB Streams handler that keeps the search
// index and dependent records consistent with changes made outside the Store,
// such as TTL expiry or console edits.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/store"
)

// Handler processes DynamoDB stream events for registered models.
type Handler struct {
	store  *store.Store
	sink   store.SearchSink
	logger *slog.Logger
}

// NewHandler creates a new stream handler. sink may be nil to skip search sync.
func NewHandler(s *store.Store, sink store.SearchSink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		sink:   sink,
		logger: logger,
	}
}

// HandleRecords processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRecords(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	table := TableFromARN(record.EventSourceArn)
	m, ok := h.model(table)
	if !ok {
		h.logger.Debug("skipping record for unregistered table", "table", table)
		return nil
	}

	switch record.EventName {
	case "INSERT", "MODIFY":
		if h.sink == nil || !m.Search.Enabled {
			return nil
		}
		rec := m.DecodeItem(ConvertImage(record.Change.NewImage))
		if err := h.sink.Upsert(ctx, m, rec); err != nil {
			h.syncFailed(m, rec.ID(), "upsert", err)
		}
		return nil

	case "REMOVE":
		id := getStringAttr(record.Change.Keys, store.PKAttr)
		if id == "" {
			id = getStringAttr(record.Change.OldImage, store.PKAttr)
		}
		if id == "" {
			return nil
		}
		if h.sink != nil && m.Search.Enabled {
			if err := h.sink.Remove(ctx, m, id); err != nil {
				h.syncFailed(m, id, "remove", err)
			}
		}

		// Children may remain when the row was removed outside the Store.
		deleted, err := h.store.DeleteChildren(ctx, m.Name, id)
		if err != nil {
			return fmt.Errorf("cascade %s %s: %w", m.Name, id, err)
		}
		if deleted > 0 {
			h.logger.Info("cascade delete completed",
				"model", m.Name,
				"id", id,
				"childrenDeleted", deleted,
			)
		}
	}
	return nil
}

func (h *Handler) syncFailed(m *store.Model, id, op string, err error) {
	metrics.SearchSyncFailures.WithLabelValues(m.Name, op).Inc()
	h.logger.Warn("search sync failed",
		"model", m.Name,
		"id", id,
		"op", op,
		"error", err,
	)
}

// model returns the model stored in a physical table.
func (h *Handler) model(table string) (*store.Model, bool) {
	if table == "" {
		return nil, false
	}
	for _, m := range h.store.Registry().Models() {
		if h.store.Tables().Name(m) == table {
			return m, true
		}
	}
	return nil, false
}

// TableFromARN extracts the table name from a stream or table ARN such as
// "arn:aws:dynamodb:us-east-1:123456789012:table/blog_post/stream/2024-01-01T00:00:00.000".
func TableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
