package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventOAuthLogin            ActivityEventType = "auth.oauth.login"
	ActivityEventTokenRefresh          ActivityEventType = "auth.token.refresh"
	ActivityEventEmailConfirmed        ActivityEventType = "auth.email.confirmed"
	ActivityEventPasswordResetRequest  ActivityEventType = "auth.password.reset.request"
	ActivityEventPasswordResetComplete ActivityEventType = "auth.password.reset.complete"
	ActivityEventRegistration          ActivityEventType = "auth.registration"
	ActivityEventLogout                ActivityEventType = "auth.logout"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NewNoopActivitySink returns a sink that drops every event, for
// callers outside this package that need a safe default.
func NewNoopActivitySink() ActivitySink {
	return noopActivitySink{}
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
