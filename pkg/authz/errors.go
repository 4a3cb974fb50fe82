package authz

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates corrupted permission data: a role cycle or a
// dangling parent reference. Resolution fails closed and the condition is
// surfaced through logs and metrics rather than to the calling gateway.
type ConfigurationError struct {
	RoleID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("permission configuration error for role %s: %s", e.RoleID, e.Reason)
}

// NotFoundError indicates a direct lookup of a missing role or grant
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError indicates malformed input to a mutating call
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// AuditWriteError indicates the audit append failed after retries. The
// preceding mutation is committed and stands; the caller should retry the
// audit write or alert an operator.
type AuditWriteError struct {
	Attempts int
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuditWrite reports whether err is an AuditWriteError
func IsAuditWrite(err error) bool {
	var ae *AuditWriteError
	return errors.As(err, &ae)
}
