package local

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-knowly-auth"
)

// Client is a single-session auth.AuthBackend over Accounts. It plays the
// role of the hosted SDK in tests and local development.
type Client struct {
	auth.EventEmitter

	accounts *Accounts
	now      func() time.Time
	logger   auth.Logger

	mu      sync.Mutex
	session *auth.Session
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClientClock injects a custom clock (useful for tests).
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithClientLogger overrides the logger.
func WithClientLogger(logger auth.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInitialSession restores a previously persisted session.
func WithInitialSession(session *auth.Session) ClientOption {
	return func(c *Client) {
		c.session = session.Clone()
	}
}

// NewClient creates a client without a session.
func NewClient(accounts *Accounts, opts ...ClientOption) *Client {
	c := &Client{
		accounts: accounts,
		now:      time.Now,
		logger:   auth.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// GetSession returns the current session, refreshing it when the access
// token expired. A failed refresh drops the session.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if !current.IsExpired(c.now()) {
		return current, nil
	}

	refreshed, err := c.accounts.Refresh(ctx, current.RefreshToken)
	if err != nil {
		c.logger.Warn("session refresh for %s failed: %v", current.AccountID(), err)
		if c.replace(current, nil) {
			c.emit(auth.EventSignedOut, nil)
		}
		return nil, nil
	}

	if c.replace(current, refreshed) {
		c.emit(auth.EventTokenRefreshed, refreshed)
	}
	return refreshed.Clone(), nil
}

// RefreshSession rotates the refresh token even when the access token is
// still valid.
func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current == nil {
		return nil, auth.ErrNotAuthenticated
	}

	refreshed, err := c.accounts.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	if c.replace(current, refreshed) {
		c.emit(auth.EventTokenRefreshed, refreshed)
	}
	return refreshed.Clone(), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	session, err := c.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.set(session)
	c.emit(auth.EventSignedIn, session)
	return session.Clone(), nil
}

func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
	account, session, err := c.accounts.Register(ctx, req.Email, req.Password, req.Metadata)
	if err != nil {
		return nil, err
	}

	res := &auth.SignUpResult{Account: *account}
	if session != nil {
		c.set(session)
		c.emit(auth.EventSignedIn, session)
		res.Session = session.Clone()
	}
	return res, nil
}

// SignOut revokes the refresh token. The local session is dropped even when
// the revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.session = nil
	c.mu.Unlock()

	var err error
	if current != nil {
		err = c.accounts.Revoke(ctx, current.RefreshToken)
	}

	c.emit(auth.EventSignedOut, nil)
	return err
}

func (c *Client) set(session *auth.Session) {
	c.mu.Lock()
	c.session = session.Clone()
	c.mu.Unlock()
}

// replace swaps the session only if it is still old, so a concurrent sign
// in is not overwritten by a refresh.
func (c *Client) replace(old, next *auth.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.AccessToken != old.AccessToken {
		return false
	}
	c.session = next.Clone()
	return true
}

func (c *Client) emit(kind auth.AuthEventType, session *auth.Session) {
	c.Emit(auth.AuthEvent{
		Type:       kind,
		Session:    session.Clone(),
		OccurredAt: c.now(),
	})
}

var _ auth.AuthBackend = (*Client)(nil)
