package repository

import (
	"time"

	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-knowly-auth"
)

// ProfileModel is the Bun model for profiles.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Role      string    `bun:"role,notnull,default:'student'"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (m *ProfileModel) toProfile() *auth.Profile {
	return &auth.Profile{
		ID:        m.ID,
		Name:      m.Name,
		Role:      auth.UserRole(m.Role),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func profileModelFrom(p *auth.Profile) *ProfileModel {
	return &ProfileModel{
		ID:        p.ID,
		Name:      p.Name,
		Role:      string(p.Role),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// AccountModel is the Bun model for local auth accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID               string         `bun:"id,pk"`
	Email            string         `bun:"email,notnull,unique"`
	PasswordHash     string         `bun:"password_hash,notnull"`
	Metadata         map[string]any `bun:"metadata,type:jsonb"`
	EmailConfirmedAt *time.Time     `bun:"email_confirmed_at,nullzero"`
	LastSignInAt     *time.Time     `bun:"last_sign_in_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`
}

// ToAccount drops the credentials.
func (m *AccountModel) ToAccount() auth.Account {
	acc := auth.Account{
		ID:       m.ID,
		Email:    m.Email,
		Metadata: m.Metadata,
	}
	if m.EmailConfirmedAt != nil {
		t := *m.EmailConfirmedAt
		acc.EmailConfirmedAt = &t
	}
	return acc
}

// RefreshTokenModel is the Bun model for refresh tokens. Only the token
// hash is stored.
type RefreshTokenModel struct {
	bun.BaseModel `bun:"table:refresh_tokens"`

	TokenHash string     `bun:"token_hash,pk"`
	AccountID string     `bun:"account_id,notnull"`
	IssuedAt  time.Time  `bun:"issued_at,notnull"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at,nullzero"`
}

// IsUsable reports whether the token can still be exchanged at now.
func (m *RefreshTokenModel) IsUsable(now time.Time) bool {
	return m.RevokedAt == nil && now.Before(m.ExpiresAt)
}
