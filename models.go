package auth

import (
	"strings"
	"time"
)

// UserRole is the marketplace role of an account
type UserRole string

const (
	// RoleStudent browses and enrolls in courses
	RoleStudent UserRole = "student"
	// RoleInstructor also authors and grades courses
	RoleInstructor UserRole = "instructor"
	// RoleAdmin manages the marketplace
	RoleAdmin UserRole = "admin"
)

// Metadata keys read from the backend account.
const (
	MetaName      = "name"
	MetaFullName  = "full_name"
	MetaRole      = "role"
	MetaAvatarURL = "avatar_url"
)

// Account is the backend auth account attached to a session.
type Account struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
}

// MetadataString returns the metadata value for key when it is a string.
func (a Account) MetadataString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	if v, ok := a.Metadata[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Session is the credential bundle issued by the backend auth service.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Account      Account   `json:"user"`
}

// AccountID returns the id of the account owning the session.
func (s *Session) AccountID() string {
	if s == nil {
		return ""
	}
	return s.Account.ID
}

// IsExpired reports whether the session expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// OlderThan reports whether s was issued before other.
func (s *Session) OlderThan(other *Session) bool {
	if s == nil || other == nil {
		return false
	}
	return s.IssuedAt.Before(other.IssuedAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Account.Metadata = cloneMetadata(s.Account.Metadata)
	if s.Account.EmailConfirmedAt != nil {
		t := *s.Account.EmailConfirmedAt
		c.Account.EmailConfirmedAt = &t
	}
	return &c
}

// Profile is the durable per-account record.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfilePatch is a partial profile update; nil fields are left untouched.
type ProfilePatch struct {
	Name *string
	Role *UserRole
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.Role == nil
}

// User is the in-memory view of the signed in account.
type User struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	Role         UserRole       `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// AddMetadata will append information to the user metadata
func (u *User) AddMetadata(key string, val any) *User {
	if u.UserMetadata == nil {
		u.UserMetadata = make(map[string]any)
	}
	u.UserMetadata[key] = val
	return u
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.UserMetadata = cloneMetadata(u.UserMetadata)
	return &c
}

// AuthEventType enumerates the auth-state-change events pushed by a backend.
type AuthEventType string

const (
	EventInitialSession AuthEventType = "INITIAL_SESSION"
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is an auth-state-change notification. Session is nil when the
// backend no longer holds a session.
type AuthEvent struct {
	Type       AuthEventType
	Session    *Session
	OccurredAt time.Time
}

// AuthEventHandler consumes auth-state-change events.
type AuthEventHandler func(AuthEvent)

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
