package llm

import (
	"context"
	"errors"
	"net"

	"google.golang.org/api/googleapi"
)

// IsTransient reports whether an embedding call failure is worth retrying.
// Rate limits, server-side errors and network timeouts are transient;
// malformed input and dimension mismatches are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return false
}
