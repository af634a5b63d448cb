package local_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/provider/local"
	"github.com/goliatone/go-knowly-auth/repository"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupAccounts(t *testing.T, opts ...local.AccountsOption) (*local.Accounts, repository.Manager) {
	t.Helper()

	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, repository.Migrate(context.Background(), db))

	repos := repository.NewManager(db)
	tokens := local.NewTokenService([]byte("test-secret"), time.Hour, "knowly-test", nil, nopLogger{})

	base := []local.AccountsOption{
		local.WithBcryptCost(bcrypt.MinCost),
		local.WithAccountsLogger(nopLogger{}),
	}
	return local.NewAccounts(repos, tokens, append(base, opts...)...), repos
}

func TestRegisterAndAuthenticate(t *testing.T) {
	accounts, _ := setupAccounts(t)
	ctx := context.Background()

	account, session, err := accounts.Register(ctx, "Arta@Knowly.al", "sekret123", map[string]any{
		auth.MetaName: "Arta",
		auth.MetaRole: "instructor",
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "arta@knowly.al", account.Email)
	assert.Equal(t, "instructor", session.Account.MetadataString(auth.MetaRole))
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "bearer", session.TokenType)

	signedIn, err := accounts.Authenticate(ctx, "arta@knowly.al", "sekret123")
	require.NoError(t, err)
	assert.Equal(t, account.ID, signedIn.AccountID())

	fromToken, err := accounts.AccountFromToken(ctx, signedIn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, fromToken.ID)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	accounts, _ := setupAccounts(t)
	ctx := context.Background()

	_, _, err := accounts.Register(ctx, "a@x.com", "rightpass", nil)
	require.NoError(t, err)

	_, err = accounts.Authenticate(ctx, "a@x.com", "wrongpass")
	assert.ErrorIs(t, err, local.ErrInvalidCredentials)
	assert.Equal(t, "Email ose fjalëkalimi i pavlefshëm.", auth.FormatAuthError(err))

	_, err = accounts.Authenticate(ctx, "nobody@x.com", "rightpass")
	assert.ErrorIs(t, err, local.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	accounts, _ := setupAccounts(t)
	ctx := context.Background()

	_, _, err := accounts.Register(ctx, "not-an-email", "sekret123", nil)
	assert.ErrorIs(t, err, local.ErrInvalidEmail)

	_, _, err = accounts.Register(ctx, "a@x.com", "123", nil)
	assert.ErrorIs(t, err, local.ErrWeakPassword)
	assert.Equal(t, auth.AlbanianMessages[auth.MsgWeakPassword], auth.FormatAuthError(err))

	_, _, err = accounts.Register(ctx, "a@x.com", "sekret123", nil)
	require.NoError(t, err)

	_, _, err = accounts.Register(ctx, "A@x.com", "sekret123", nil)
	assert.ErrorIs(t, err, local.ErrUserAlreadyRegistered)
}

func TestRequireConfirmation(t *testing.T) {
	accounts, _ := setupAccounts(t, local.WithRequireConfirmation(true))
	ctx := context.Background()

	account, session, err := accounts.Register(ctx, "c@x.com", "sekret123", nil)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Nil(t, account.EmailConfirmedAt)

	_, err = accounts.Authenticate(ctx, "c@x.com", "sekret123")
	assert.ErrorIs(t, err, local.ErrEmailNotConfirmed)

	confirmed, err := accounts.ConfirmEmail(ctx, "c@x.com")
	require.NoError(t, err)
	assert.NotNil(t, confirmed.EmailConfirmedAt)

	_, err = accounts.Authenticate(ctx, "c@x.com", "sekret123")
	assert.NoError(t, err)

	_, err = accounts.ConfirmEmail(ctx, "missing@x.com")
	assert.ErrorIs(t, err, local.ErrUserNotFound)
}

func TestRefreshRotatesTokens(t *testing.T) {
	accounts, _ := setupAccounts(t)
	ctx := context.Background()

	_, session, err := accounts.Register(ctx, "r@x.com", "sekret123", nil)
	require.NoError(t, err)

	refreshed, err := accounts.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, session.AccountID(), refreshed.AccountID())

	_, err = accounts.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, local.ErrInvalidRefreshToken)

	require.NoError(t, accounts.Revoke(ctx, refreshed.RefreshToken))
	_, err = accounts.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, local.ErrInvalidRefreshToken)

	_, err = accounts.Refresh(ctx, "")
	assert.ErrorIs(t, err, local.ErrInvalidRefreshToken)
}

func TestHashIDsAreStable(t *testing.T) {
	accounts, _ := setupAccounts(t, local.WithHashIDs(true))
	other, _ := setupAccounts(t, local.WithHashIDs(true))
	ctx := context.Background()

	a, _, err := accounts.Register(ctx, "h@x.com", "sekret123", nil)
	require.NoError(t, err)
	b, _, err := other.Register(ctx, "h@x.com", "sekret123", nil)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestTokenServiceRejectsForeignSignature(t *testing.T) {
	issuer := local.NewTokenService([]byte("one"), time.Hour, "", nil, nopLogger{})
	verifier := local.NewTokenService([]byte("two"), time.Hour, "", nil, nopLogger{})

	token, _, err := issuer.Generate(auth.Account{ID: "u1"}, time.Now())
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.ErrorIs(t, err, local.ErrTokenMalformed)

	expired, _, err := issuer.Generate(auth.Account{ID: "u1"}, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = issuer.Validate(expired)
	assert.ErrorIs(t, err, local.ErrTokenExpired)
}

func TestTokenServiceAudience(t *testing.T) {
	key := []byte("audience-secret")
	issuer := local.NewTokenService(key, time.Hour, "knowly-test", []string{"knowly-app"}, nopLogger{})

	token, _, err := issuer.Generate(auth.Account{ID: "acc-1", Email: "arta@knowly.al"}, time.Now())
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)

	other := local.NewTokenService(key, time.Hour, "knowly-test", []string{"admin-app"}, nopLogger{})
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, local.ErrTokenMalformed)
}
