package conn

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/lattice/store"
)

// Classify maps an SDK error onto the store error taxonomy. Errors that are
// already classified, and cancellations by the caller, pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *store.Error
	if errors.As(err, &classified) || errors.Is(err, context.Canceled) {
		return err
	}
	return &store.Error{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) error {
	var (
		condErr    *types.ConditionalCheckFailedException
		txErr      *types.TransactionCanceledException
		notFound   *types.ResourceNotFoundException
		inUse      *types.ResourceInUseException
		throughput *types.ProvisionedThroughputExceededException
		requests   *types.RequestLimitExceeded
		limits     *types.LimitExceededException
	)
	switch {
	case errors.As(err, &txErr):
		return cancellationKind(txErr)
	case errors.As(err, &condErr):
		return store.ErrConflict
	case errors.As(err, &notFound):
		return store.ErrTableNotFound
	case errors.As(err, &inUse):
		return store.ErrResourceInUse
	case errors.As(err, &throughput), errors.As(err, &requests), errors.As(err, &limits):
		return store.ErrThrottled
	case errors.Is(err, context.DeadlineExceeded):
		return store.ErrUnavailable
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded",
			"ProvisionedThroughputExceededException", "LimitExceededException":
			return store.ErrThrottled
		case "ValidationException", "SerializationException":
			return store.ErrValidation
		case "ConditionalCheckFailedException":
			return store.ErrConflict
		case "ResourceNotFoundException":
			return store.ErrTableNotFound
		case "ResourceInUseException":
			return store.ErrResourceInUse
		}
	}
	return store.ErrUnavailable
}

// cancellationKind classifies a cancelled transaction by its item reasons.
// Throttling on any item makes the whole transaction retryable.
func cancellationKind(txErr *types.TransactionCanceledException) error {
	kind := store.ErrConflict
	for _, reason := range txErr.CancellationReasons {
		switch aws.ToString(reason.Code) {
		case "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded":
			return store.ErrThrottled
		case "ValidationError":
			kind = store.ErrValidation
		}
	}
	return kind
}
