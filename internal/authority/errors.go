package authority

import (
	"errors"
	"fmt"
)

// ValidationError is raised client-side before any authority call.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// AuthorityError is a command rejected by the authority. Message carries the
// backend-supplied text.
type AuthorityError struct {
	Op    string
	Scene string
	Err   error
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("%s failed for scene %s: %v", e.Op, e.Scene, e.Err)
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// SubscriptionError is an event-subscription setup failure. It is logged and
// never blocks loading a scene.
type SubscriptionError struct {
	Key Key
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s failed: %v", e.Key, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Reject wraps err as an AuthorityError unless it is nil or already a
// ValidationError.
func Reject(op, scene string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsAuthority(err) {
		return err
	}
	return &AuthorityError{Op: op, Scene: scene, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuthority reports whether err is (or wraps) an AuthorityError.
func IsAuthority(err error) bool {
	var a *AuthorityError
	return errors.As(err, &a)
}
