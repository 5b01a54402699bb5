package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBlockNotAvailable is returned when the node has not produced the
// requested block at the client's commitment yet. Safe to retry.
var ErrBlockNotAvailable = errors.New("block not available yet")

// JSON-RPC error codes returned by Solana nodes.
const (
	codeBlockNotAvailable       = -32004
	codeNodeUnhealthy           = -32005
	codeSlotSkipped             = -32007
	codeLongTermStorageSlotSkip = -32009
	codeBlockStatusNotAvailable = -32014
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is returned for non-200 responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a client error is transient.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrBlockNotAvailable) {
		return true
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeBlockNotAvailable, codeNodeUnhealthy, codeBlockStatusNotAvailable:
			return true
		}
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	// Unclassified transport failures (connection reset, EOF) are treated as transient.
	return true
}

func isSkippedSlot(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == codeSlotSkipped || rpcErr.Code == codeLongTermStorageSlotSkip
}

func isBlockNotAvailable(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == codeBlockNotAvailable || rpcErr.Code == codeBlockStatusNotAvailable
}
