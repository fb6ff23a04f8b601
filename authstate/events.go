package authstate

import (
	"context"

	"github.com/google/uuid"
)

// EventType names an auth lifecycle event.
type EventType string

const (
	EventSignIn         EventType = "sign_in"
	EventSignInFailed   EventType = "sign_in_failed"
	EventSignOut        EventType = "sign_out"
	EventSessionExpired EventType = "session_expired"
)

// AuthEvent describes one auth lifecycle event.
type AuthEvent struct {
	Type        EventType
	SessionID   uuid.UUID
	PrincipalID string
	Email       string
	Err         error
}

// EventRecorder receives auth lifecycle events. Implementations must not
// block the caller.
type EventRecorder interface {
	RecordAuthEvent(ctx context.Context, event AuthEvent)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(context.Context, AuthEvent) {}
