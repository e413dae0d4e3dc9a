package application

import "fmt"

// The error taxonomy reported to callers. State conflicts are raised by the
// domain layer (domain.ErrConflict); everything else is classified here.

type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

type NotFoundError struct {
	Resource string
	Id       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Id)
}

type AuthError struct {
	Reason string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

// UpstreamError wraps a chain RPC or price feed failure. The operation is
// retryable by the caller, not by this service.
type UpstreamError struct {
	Upstream string
	Err      error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Upstream, e.Err)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}
