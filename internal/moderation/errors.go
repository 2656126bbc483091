package moderation

import (
	"errors"
	"fmt"
)

// ErrExternalService matches every failure to obtain a verdict from upstream.
var ErrExternalService = errors.New("moderation: external service error")

// ExternalServiceError describes why the upstream scorer gave no verdict.
type ExternalServiceError struct {
	Op         string // "throttle", "request", "status" or "decode"
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("moderation: %s: upstream returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("moderation: %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }
