package common

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a remote or local record that is absent. Callers treat
// this as a routine outcome for traffic queries and resets.
var ErrNotFound = errors.New("not found")

// AuthError indicates bad or expired panel credentials. The remote client
// retries exactly once through a re-login before surfacing it.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return "panel authentication failed"
	}
	return "panel authentication failed: " + e.Msg
}

// APIError is a non-2xx or application-level failure from a remote panel.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panel api error (status %d): %s", e.Status, e.Msg)
}

// ServiceError is a business-rule violation, such as deleting a panel that
// still has active clients.
type ServiceError struct {
	Msg string
}

func (e *ServiceError) Error() string {
	return e.Msg
}

// ConfigError indicates a malformed inbound prevented building a
// connection URI. Surfaced to callers since it signals a data-integrity
// problem in the synced inventory.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config generation failed: " + e.Msg
}

func NewServiceError(format string, a ...any) error {
	return &ServiceError{Msg: fmt.Sprintf(format, a...)}
}

func NewConfigError(format string, a ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
