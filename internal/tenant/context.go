package tenant

import (
	"context"
	"errors"
	"fmt"
)

// Key for tenant ID in context
type contextKey string

const (
	tenantIDKey  contextKey = "tenantID"
	requestIDKey contextKey = "requestID"
)

// ErrTenantIDNotFound is returned when no tenant ID is found in context
var ErrTenantIDNotFound = errors.New("tenant ID not found in context")

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext extracts the tenant ID from the context
func FromContext(ctx context.Context) (string, error) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	if !ok || tenantID == "" {
		return "", ErrTenantIDNotFound
	}
	return tenantID, nil
}

// MustFromContext extracts the tenant ID from the context or panics
func MustFromContext(ctx context.Context) string {
	tenantID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return tenantID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// MustFromRequestIDContext extracts the request ID from the context or panics
func MustFromRequestIDContext(ctx context.Context) string {
	requestID, err := FromRequestIDContext(ctx)
	if err != nil {
		panic(err)
	}
	return requestID
}

// ValidateEventTenant validates that the tenant carried on an event matches
// the tenant ID from context. Empty event tenants skip the check.
func ValidateEventTenant(ctx context.Context, eventTenant string) error {
	if eventTenant == "" {
		return nil
	}

	tenantID, err := FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tenant ID: %w", err)
	}

	if eventTenant != tenantID {
		return fmt.Errorf("event tenant (%s) does not match instance tenant (%s)", eventTenant, tenantID)
	}

	return nil
}
