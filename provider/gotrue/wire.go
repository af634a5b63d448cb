package gotrue

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/goliatone/go-knowly-auth"
)

// Endpoint paths of the GoTrue compatible API, relative to the base URL.
const (
	PathToken   = "/auth/v1/token"
	PathSignUp  = "/auth/v1/signup"
	PathLogout  = "/auth/v1/logout"
	PathUser    = "/auth/v1/user"
	PathConfirm = "/auth/v1/admin/confirm"
	PathHealth  = "/health"

	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

// PasswordGrantRequest is the body of a password grant.
type PasswordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshGrantRequest is the body of a refresh token grant.
type RefreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SignUpRequest is the body of a sign up. Data becomes the account
// user_metadata.
type SignUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// ConfirmRequest is the body of the admin e-mail confirmation.
type ConfirmRequest struct {
	Email string `json:"email"`
}

// UserResponse is the account as serialized by the API.
type UserResponse struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at,omitempty"`
}

// TokenResponse is returned by grants and by sign ups that do not need
// confirmation.
type TokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user,omitempty"`
}

// ErrorResponse is the error body. Older servers send error and
// error_description instead of error_code and msg.
type ErrorResponse struct {
	Code             int    `json:"code,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	Msg              string `json:"msg,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// UserFromAccount serializes an account.
func UserFromAccount(a auth.Account) *UserResponse {
	return &UserResponse{
		ID:               a.ID,
		Aud:              "authenticated",
		Role:             "authenticated",
		Email:            a.Email,
		EmailConfirmedAt: a.EmailConfirmedAt,
		UserMetadata:     a.Metadata,
	}
}

// Account converts the wire user back into an account.
func (u *UserResponse) Account() auth.Account {
	if u == nil {
		return auth.Account{}
	}
	return auth.Account{
		ID:               u.ID,
		Email:            u.Email,
		Metadata:         u.UserMetadata,
		EmailConfirmedAt: u.EmailConfirmedAt,
	}
}

// TokenFromSession serializes a session.
func TokenFromSession(s *auth.Session, now time.Time) *TokenResponse {
	res := &TokenResponse{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		User:         UserFromAccount(s.Account),
	}
	if res.TokenType == "" {
		res.TokenType = "bearer"
	}
	if !s.ExpiresAt.IsZero() {
		res.ExpiresAt = s.ExpiresAt.Unix()
		res.ExpiresIn = int64(s.ExpiresAt.Sub(now).Seconds())
	}
	return res
}

// Session converts a token response into a session. The issue time is read
// from the access token iat claim and falls back to now.
func (t *TokenResponse) Session(now time.Time) *auth.Session {
	s := &auth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		IssuedAt:     issuedAt(t.AccessToken, now),
		Account:      t.User.Account(),
	}

	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}

	return s
}

// issuedAt reads iat without verifying the signature; the client does not
// hold the signing key and only uses it to order sessions.
func issuedAt(accessToken string, fallback time.Time) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return fallback
	}
	if claims.IssuedAt == nil {
		return fallback
	}
	return claims.IssuedAt.Time.UTC()
}
