package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventBootstrapCompleted      ActivityEventType = "auth.bootstrap.completed"
	ActivityEventBootstrapTimeout        ActivityEventType = "auth.bootstrap.timeout"
	ActivityEventSignInSuccess           ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure           ActivityEventType = "auth.signin.failure"
	ActivityEventSignUpSuccess           ActivityEventType = "auth.signup.success"
	ActivityEventSignUpFailure           ActivityEventType = "auth.signup.failure"
	ActivityEventSignOut                 ActivityEventType = "auth.signout"
	ActivityEventStaleEventIgnored       ActivityEventType = "auth.event.stale"
	ActivityEventProfileCreated          ActivityEventType = "profile.created"
	ActivityEventProfileUpdated          ActivityEventType = "profile.updated"
	ActivityEventProfileResolutionFailed ActivityEventType = "profile.resolution.failed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Message    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing, telemetry or user
// notifications (toasts).
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

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity runs the sink best effort: failures are logged only.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, clock Clock, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = clock.Now()
	}

	if err := normalizeActivitySink(sink).Record(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("activity sink record error: %v", err)
	}
}
