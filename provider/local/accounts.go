package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/repository"
)

// Accounts is an in-process auth service: e-mail/password accounts, JWT
// access tokens and rotating refresh tokens stored through bun.
type Accounts struct {
	repos               repository.Manager
	tokens              *TokenService
	refreshTTL          time.Duration
	bcryptCost          int
	minPasswordLength   int
	requireConfirmation bool
	useHashID           bool
	now                 func() time.Time
	logger              auth.Logger
}

// AccountsOption customizes Accounts.
type AccountsOption func(*Accounts)

// WithRequireConfirmation makes sign up return no session until the e-mail
// is confirmed, and sign in fail with ErrEmailNotConfirmed meanwhile.
func WithRequireConfirmation(required bool) AccountsOption {
	return func(a *Accounts) {
		a.requireConfirmation = required
	}
}

// WithHashIDs derives account ids from the e-mail instead of random UUIDs.
func WithHashIDs(enabled bool) AccountsOption {
	return func(a *Accounts) {
		a.useHashID = enabled
	}
}

// WithMinPasswordLength overrides the minimum password length (6).
func WithMinPasswordLength(n int) AccountsOption {
	return func(a *Accounts) {
		if n > 0 {
			a.minPasswordLength = n
		}
	}
}

// WithBcryptCost overrides the bcrypt cost.
func WithBcryptCost(cost int) AccountsOption {
	return func(a *Accounts) {
		a.bcryptCost = cost
	}
}

// WithRefreshTokenTTL overrides the refresh token lifetime (30 days).
func WithRefreshTokenTTL(ttl time.Duration) AccountsOption {
	return func(a *Accounts) {
		if ttl > 0 {
			a.refreshTTL = ttl
		}
	}
}

// WithAccountsClock injects a custom clock (useful for tests).
func WithAccountsClock(now func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAccountsLogger overrides the logger.
func WithAccountsLogger(logger auth.Logger) AccountsOption {
	return func(a *Accounts) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAccounts creates the account service.
func NewAccounts(repos repository.Manager, tokens *TokenService, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		repos:             repos,
		tokens:            tokens,
		refreshTTL:        30 * 24 * time.Hour,
		bcryptCost:        bcrypt.DefaultCost,
		minPasswordLength: 6,
		now:               time.Now,
		logger:            auth.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Tokens returns the access token service.
func (a *Accounts) Tokens() *TokenService {
	return a.tokens
}

// Register creates an account. The session is nil when confirmation is
// required.
func (a *Accounts) Register(ctx context.Context, email, password string, metadata map[string]any) (*auth.Account, *auth.Session, error) {
	email = repository.NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, nil, ErrInvalidEmail
	}
	if len(password) < a.minPasswordLength {
		return nil, nil, ErrWeakPassword
	}

	hash, err := HashPassword(password, a.bcryptCost)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := a.now().UTC()
	model := &repository.AccountModel{
		ID:           a.newID(email),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !a.requireConfirmation {
		model.EmailConfirmedAt = &now
	}

	if err := a.repos.Accounts().Register(ctx, model); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, nil, ErrUserAlreadyRegistered
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create account")
	}

	account := model.ToAccount()
	a.logger.Info("registered account %s", account.ID)

	if a.requireConfirmation {
		return &account, nil, nil
	}

	session, err := a.issueSession(ctx, a.repos.RefreshTokens(), model)
	if err != nil {
		return nil, nil, err
	}
	return &account, session, nil
}

// Authenticate checks the credentials and issues a session.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (*auth.Session, error) {
	model, err := a.repos.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not load account")
	}

	if err := ComparePasswordAndHash(password, model.PasswordHash); err != nil {
		return nil, err
	}

	if a.requireConfirmation && model.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	now := a.now().UTC()
	if err := a.repos.Accounts().TouchSignIn(ctx, model.ID, now); err != nil {
		a.logger.Warn("could not record sign in for %s: %v", model.ID, err)
	}

	return a.issueSession(ctx, a.repos.RefreshTokens(), model)
}

// Refresh exchanges a refresh token for a new session. The old token is
// revoked.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	var session *auth.Session
	err := a.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tokens := a.repos.RefreshTokens().WithTx(tx)
		hash := hashToken(refreshToken)
		now := a.now().UTC()

		stored, err := tokens.Lookup(ctx, hash)
		if err != nil {
			if errors.Is(err, repository.ErrRefreshTokenNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if !stored.IsUsable(now) {
			return ErrInvalidRefreshToken
		}

		revoked, err := tokens.Revoke(ctx, hash, now)
		if err != nil {
			return err
		}
		if !revoked {
			return ErrInvalidRefreshToken
		}

		model, err := a.repos.Accounts().WithTx(tx).GetByID(ctx, stored.AccountID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		session, err = a.issueSession(ctx, tokens, model)
		return err
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Revoke drops a refresh token. Unknown tokens are ignored.
func (a *Accounts) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	_, err := a.repos.RefreshTokens().Revoke(ctx, hashToken(refreshToken), a.now().UTC())
	return err
}

// RevokeAll drops every refresh token of the account.
func (a *Accounts) RevokeAll(ctx context.Context, accountID string) error {
	_, err := a.repos.RefreshTokens().RevokeAccount(ctx, accountID, a.now().UTC())
	return err
}

// AccountFromToken validates an access token and loads its account.
func (a *Accounts) AccountFromToken(ctx context.Context, accessToken string) (*auth.Account, error) {
	claims, err := a.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}

	model, err := a.repos.Accounts().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	account := model.ToAccount()
	return &account, nil
}

// ConfirmEmail marks the account e-mail as confirmed.
func (a *Accounts) ConfirmEmail(ctx context.Context, email string) (*auth.Account, error) {
	model, err := a.repos.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	model, err = a.repos.Accounts().ConfirmEmail(ctx, model.ID, a.now().UTC())
	if err != nil {
		return nil, err
	}

	account := model.ToAccount()
	return &account, nil
}

func (a *Accounts) issueSession(ctx context.Context, tokens *repository.RefreshTokenRepository, model *repository.AccountModel) (*auth.Session, error) {
	now := a.now().UTC()
	account := model.ToAccount()

	access, expiresAt, err := a.tokens.Generate(account, now)
	if err != nil {
		return nil, err
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}

	if err := tokens.Store(ctx, &repository.RefreshTokenModel{
		TokenHash: hashToken(refresh),
		AccountID: model.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.refreshTTL),
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store refresh token")
	}

	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		Account:      account,
	}, nil
}

func (a *Accounts) newID(email string) string {
	if a.useHashID {
		if id, err := hashid.NewUUID(email); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
