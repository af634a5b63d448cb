package auth

import (
	"context"
	"fmt"
)

// AuthBackend is the hosted auth service as seen by the client.
type AuthBackend interface {
	// GetSession returns the current session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers handler for pushed auth-state-change
	// events and returns a function removing it.
	OnAuthStateChange(handler AuthEventHandler) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error)
	SignOut(ctx context.Context) error
}

// SignUpRequest carries the credentials and the account metadata
// embedded in the new account.
type SignUpRequest struct {
	Email    string
	Password string
	Metadata map[string]any
}

// SignUpResult is the backend answer to a sign up. Session is nil when the
// backend requires e-mail confirmation first.
type SignUpResult struct {
	Account Account
	Session *Session
}

// ProfileStore is the row level access to the profiles table.
type ProfileStore interface {
	FetchProfile(ctx context.Context, id string) FetchResult
	// CreateProfile inserts p, returning ErrProfileExists when a row with the
	// same id is already present.
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*Profile, error)
	// FindProfileByName returns nil, nil when no profile uses name.
	FindProfileByName(ctx context.Context, name string) (*Profile, error)
}

// FetchOutcome tags a FetchResult.
type FetchOutcome int

const (
	FetchFound FetchOutcome = iota
	FetchNotFound
	FetchTransient
	FetchFatal
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchFound:
		return "found"
	case FetchNotFound:
		return "not_found"
	case FetchTransient:
		return "transient"
	case FetchFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FetchResult is the outcome of a profile read: Found carries Profile,
// Transient and Fatal carry Err.
type FetchResult struct {
	Outcome FetchOutcome
	Profile *Profile
	Err     error
}

// ProfileFound wraps a fetched profile.
func ProfileFound(p *Profile) FetchResult {
	if p == nil {
		return ProfileMissing()
	}
	return FetchResult{Outcome: FetchFound, Profile: p}
}

// ProfileMissing reports that no row exists.
func ProfileMissing() FetchResult {
	return FetchResult{Outcome: FetchNotFound, Err: ErrProfileNotFound}
}

// TransientFailure reports a failure worth retrying.
func TransientFailure(err error) FetchResult {
	return FetchResult{Outcome: FetchTransient, Err: err}
}

// FatalFailure reports a failure that retrying will not fix.
func FatalFailure(err error) FetchResult {
	return FetchResult{Outcome: FetchFatal, Err: err}
}
