package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/apaas-client/pkg/auth"
	"github.com/Sternrassler/apaas-client/pkg/pagination"
	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// Common errors returned by the client.
var (
	// ErrInvalidConfig is wrapped by every Config.Validate failure.
	ErrInvalidConfig = errors.New("invalid client config")

	// ErrBatchTooLarge is returned by single-call batch operations given more
	// than pagination.MaxChunkSize elements. No request is sent.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")

	// ErrMissingID is returned when a record id is required but empty.
	ErrMissingID = errors.New("record id is required")

	// ErrMissingObject is returned when an object name is empty.
	ErrMissingObject = errors.New("object name is required")

	// ErrMissingField is returned when a field name is empty.
	ErrMissingField = errors.New("field name is required")
)

// ErrorKind classifies any error returned by the client.
type ErrorKind string

const (
	// KindAuthentication is a rejected credential exchange.
	KindAuthentication ErrorKind = "authentication"

	// KindTransport is a network or HTTP layer failure.
	KindTransport ErrorKind = "transport"

	// KindApplication is a non-zero envelope code.
	KindApplication ErrorKind = "application"

	// KindPartialBatch is a chunked operation that failed after starting.
	KindPartialBatch ErrorKind = "partial_batch"

	// KindUsage is a caller error detected before any request.
	KindUsage ErrorKind = "usage"

	// KindOther covers cancellation, a closed limiter and anything else.
	KindOther ErrorKind = "other"
)

// Kind classifies err. A partial batch failure takes precedence over the
// cause it wraps.
func Kind(err error) ErrorKind {
	var chunkErr *pagination.ChunkError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &chunkErr) && chunkErr.Index > 0:
		return KindPartialBatch
	case auth.IsAuthenticationError(err):
		return KindAuthentication
	case transport.IsApplication(err):
		return KindApplication
	case transport.IsTransport(err):
		return KindTransport
	case errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrMissingID), errors.Is(err, ErrMissingObject),
		errors.Is(err, ErrMissingField):
		return KindUsage
	default:
		return KindOther
	}
}

func checkBatch(n int) error {
	if n > pagination.MaxChunkSize {
		return fmt.Errorf("%w: %d elements, limit %d", ErrBatchTooLarge, n, pagination.MaxChunkSize)
	}
	return nil
}

func checkObject(object string) error {
	if object == "" {
		return ErrMissingObject
	}
	return nil
}
