package errors

import (
	"errors"
	"fmt"
)

// Common error types for the BFF token handler and streaming proxy
var (
	// Authorization errors
	ErrMissingSession      = errors.New("missing session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrTenantScopeMismatch = errors.New("tenant scope mismatch")

	// Auth flow errors
	ErrInvalidState       = errors.New("invalid state parameter")
	ErrTokenExchange      = errors.New("token exchange failed")
	ErrOnboardingConflict = errors.New("onboarding record conflict")

	// Tenant errors
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantSuspended = errors.New("tenant suspended")

	// Proxy errors
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrClientDisconnected  = errors.New("client disconnected")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
