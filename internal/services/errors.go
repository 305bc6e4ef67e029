package services

import (
	"fmt"

	"github.com/thefortaiagency/aether-insight/internal/errors"
)

// Service errors
var (
	ErrNoNamespacesSpecified = errors.InvalidInput("no namespaces specified")
	ErrInvalidRemoteURL      = errors.InvalidInput("remote url must be an absolute http or https url")
	ErrInvalidBaseURL        = errors.InvalidInput("base url must be an absolute http or https url")
	ErrBaseURLNotConfigured  = errors.Validation("base url is not configured")
	ErrEmptyChunk            = errors.InvalidInput("video chunk is empty")
)

// InvalidNamespaceError is returned when a reset names a namespace that may
// not be cleared
type InvalidNamespaceError struct {
	Namespace string
}

func (e *InvalidNamespaceError) Error() string {
	return fmt.Sprintf("invalid namespace: %s", e.Namespace)
}
