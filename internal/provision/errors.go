package provision

import (
	"errors"
	"fmt"
)

// Conflict and lifecycle errors, rejected before any side effect.
var (
	ErrClientNotFound  = errors.New("client not found")
	ErrClientDeleted   = errors.New("client is deleted")
	ErrClientSuspended = errors.New("client is suspended; reactivate before provisioning")
	ErrAlreadyActive   = errors.New("client is already provisioned and active")
	ErrMissingFields   = errors.New("client record is missing required fields")
)

// ErrDatabaseConflict marks a tenant database already bound to a different
// client. Distinct domains can sanitize to the same database name, so reusing
// the database would share tenant data; this is fatal and needs manual
// intervention, never a retry.
var ErrDatabaseConflict = errors.New("tenant database is bound to another client")

// StepError carries the failed step so callers always see which part of the
// sequence broke, alongside the client and the underlying cause.
type StepError struct {
	ClientID string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning client %s: step %s: %v", e.ClientID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
