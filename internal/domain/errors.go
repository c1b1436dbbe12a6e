package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic status check fails.
	ErrConflict = errors.New("concurrent modification")

	ErrTemplateNotFound  = errors.New("template not found")
	ErrSystemTemplate    = errors.New("system templates are read-only")
	ErrNoRecipients      = errors.New("notification has no recipients")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")

	ErrNotRegistered = errors.New("connection is not registered")
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrForeignTopic  = errors.New("topic belongs to another tenant")
)

// AuthReason is the typed rejection reason sent to clients in auth_error.
type AuthReason string

const (
	AuthNoToken       AuthReason = "no_token"
	AuthInvalidToken  AuthReason = "invalid_token"
	AuthInvalidTenant AuthReason = "invalid_tenant"
)

// AuthError rejects a connection attempt. It is never retried by the server.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }
