package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-knowly-auth"
)

// Config holds the API location and client behavior.
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// RefreshMargin refreshes sessions expiring within the margin.
	RefreshMargin time.Duration

	HTTPClient *http.Client
	Storage    SessionStorage
	Now        func() time.Time
	Logger     auth.Logger
}

// Client is an auth.AuthBackend talking to a GoTrue compatible API.
type Client struct {
	auth.EventEmitter

	baseURL       string
	apiKey        string
	refreshMargin time.Duration
	httpClient    *http.Client
	storage       SessionStorage
	now           func() time.Time
	logger        auth.Logger

	// refreshMu collapses concurrent refreshes of the stored session.
	refreshMu sync.Mutex
}

// New creates a new client.
func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	storage := cfg.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = auth.DefaultLogger()
	}

	margin := cfg.RefreshMargin
	if margin < 0 {
		margin = 0
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		apiKey:        cfg.APIKey,
		refreshMargin: margin,
		httpClient:    client,
		storage:       storage,
		now:           now,
		logger:        logger,
	}
}

// GetSession returns the stored session, refreshing it when it expires
// within the refresh margin. A rejected refresh drops the session; server
// and network failures are returned so callers can retry.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	current, err := c.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	if !current.IsExpired(c.now().Add(c.refreshMargin)) {
		return current, nil
	}

	refreshed, err := c.refresh(ctx, current)
	if err != nil {
		if IsRejected(err) {
			c.logger.Warn("stored session for %s could not be refreshed: %v", current.AccountID(), err)
			if cerr := c.storage.Clear(ctx); cerr != nil {
				c.logger.Error("clear session storage: %v", cerr)
			}
			c.emit(auth.EventSignedOut, nil)
			return nil, nil
		}
		return nil, err
	}

	return refreshed, nil
}

// RefreshSession forces a refresh grant for the stored session.
func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	current, err := c.storage.Load(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, auth.ErrNotAuthenticated
	}
	return c.refresh(ctx, current)
}

func (c *Client) refresh(ctx context.Context, current *auth.Session) (*auth.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// another caller may have refreshed while we waited
	if latest, err := c.storage.Load(ctx); err == nil && latest != nil && latest.AccessToken != current.AccessToken {
		return latest, nil
	}

	var res TokenResponse
	err := c.do(ctx, "refresh", http.MethodPost, PathToken, url.Values{"grant_type": {GrantRefreshToken}},
		RefreshGrantRequest{RefreshToken: current.RefreshToken}, "", &res)
	if err != nil {
		return nil, err
	}

	session := res.Session(c.now())
	if err := c.storage.Save(ctx, session); err != nil {
		return nil, err
	}

	c.emit(auth.EventTokenRefreshed, session)
	return session.Clone(), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	var res TokenResponse
	err := c.do(ctx, "sign in", http.MethodPost, PathToken, url.Values{"grant_type": {GrantPassword}},
		PasswordGrantRequest{Email: email, Password: password}, "", &res)
	if err != nil {
		return nil, err
	}

	session := res.Session(c.now())
	if err := c.storage.Save(ctx, session); err != nil {
		c.logger.Error("persist session for %s: %v", session.AccountID(), err)
	}

	c.emit(auth.EventSignedIn, session)
	return session.Clone(), nil
}

// SignUp returns a session only when the server does not require e-mail
// confirmation.
func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
	var raw json.RawMessage
	err := c.do(ctx, "sign up", http.MethodPost, PathSignUp, nil,
		SignUpRequest{Email: req.Email, Password: req.Password, Data: req.Metadata}, "", &raw)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(raw, &token); err == nil && token.AccessToken != "" {
		session := token.Session(c.now())
		if err := c.storage.Save(ctx, session); err != nil {
			c.logger.Error("persist session for %s: %v", session.AccountID(), err)
		}
		c.emit(auth.EventSignedIn, session)
		return &auth.SignUpResult{Account: session.Account, Session: session.Clone()}, nil
	}

	var user UserResponse
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode sign up response: %w", err)
	}
	return &auth.SignUpResult{Account: user.Account()}, nil
}

// SignOut clears the stored session before calling the API, so a failed
// logout never leaves credentials behind.
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.storage.Load(ctx)
	if err != nil {
		c.logger.Warn("load session before sign out: %v", err)
	}

	if cerr := c.storage.Clear(ctx); cerr != nil {
		c.logger.Error("clear session storage: %v", cerr)
	}

	c.emit(auth.EventSignedOut, nil)

	if current == nil {
		return nil
	}
	return c.do(ctx, "sign out", http.MethodPost, PathLogout, nil, nil, current.AccessToken, nil)
}

// GetUser fetches the account of accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*auth.Account, error) {
	var res UserResponse
	if err := c.do(ctx, "get user", http.MethodGet, PathUser, nil, nil, accessToken, &res); err != nil {
		return nil, err
	}
	account := res.Account()
	return &account, nil
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var res HealthResponse
	if err := c.do(ctx, "health", http.MethodGet, PathHealth, nil, nil, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	switch {
	case bearer != "":
		req.Header.Set("Authorization", "Bearer "+bearer)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody ErrorResponse
		_ = json.Unmarshal(raw, &errBody)
		return apiError(op, resp.StatusCode, errBody)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) emit(kind auth.AuthEventType, session *auth.Session) {
	c.Emit(auth.AuthEvent{
		Type:       kind,
		Session:    session.Clone(),
		OccurredAt: c.now(),
	})
}

var _ auth.AuthBackend = (*Client)(nil)
