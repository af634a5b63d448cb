package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-knowly-auth"
)

var baseTime = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// fakeBackend is an auth.AuthBackend driven by per-test hooks.
type fakeBackend struct {
	auth.EventEmitter

	getSession func(ctx context.Context) (*auth.Session, error)
	signIn     func(ctx context.Context, email, password string) (*auth.Session, error)
	signUp     func(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error)
	signOut    func(ctx context.Context) error

	mu                sync.Mutex
	subscriptions     int
	getCalls          int
	subscribedAtFirst bool
	signInCalls       int
	signUpRequests    []auth.SignUpRequest
	signOutCalls      int
}

func (b *fakeBackend) OnAuthStateChange(handler auth.AuthEventHandler) func() {
	b.mu.Lock()
	b.subscriptions++
	b.mu.Unlock()
	return b.EventEmitter.OnAuthStateChange(handler)
}

func (b *fakeBackend) GetSession(ctx context.Context) (*auth.Session, error) {
	b.mu.Lock()
	if b.getCalls == 0 {
		b.subscribedAtFirst = b.subscriptions > 0
	}
	b.getCalls++
	hook := b.getSession
	b.mu.Unlock()

	if hook == nil {
		return nil, nil
	}
	return hook(ctx)
}

func (b *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	b.mu.Lock()
	b.signInCalls++
	hook := b.signIn
	b.mu.Unlock()

	if hook == nil {
		return nil, nil
	}
	return hook(ctx, email, password)
}

func (b *fakeBackend) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
	b.mu.Lock()
	b.signUpRequests = append(b.signUpRequests, req)
	hook := b.signUp
	b.mu.Unlock()

	if hook == nil {
		return &auth.SignUpResult{Account: auth.Account{ID: "new-account", Email: req.Email, Metadata: req.Metadata}}, nil
	}
	return hook(ctx, req)
}

func (b *fakeBackend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	b.signOutCalls++
	hook := b.signOut
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(ctx)
}

func (b *fakeBackend) GetCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getCalls
}

func (b *fakeBackend) SignUpRequests() []auth.SignUpRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]auth.SignUpRequest(nil), b.signUpRequests...)
}

// memoryProfiles is a concurrency safe in-memory auth.ProfileStore.
type memoryProfiles struct {
	mu      sync.Mutex
	rows    map[string]auth.Profile
	fetches int
	creates int

	// fetchResult overrides FetchProfile when it returns non nil
	fetchResult func(id string, attempt int) *auth.FetchResult
	// beforeFetch runs before every read, outside the lock
	beforeFetch func(id string)
	createErr   error
	updateErr   error
	findErr     error
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{rows: map[string]auth.Profile{}}
}

func (m *memoryProfiles) FetchProfile(ctx context.Context, id string) auth.FetchResult {
	if m.beforeFetch != nil {
		m.beforeFetch(id)
	}

	m.mu.Lock()
	m.fetches++
	attempt := m.fetches
	override := m.fetchResult
	m.mu.Unlock()

	if override != nil {
		if res := override(id, attempt); res != nil {
			return *res
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return auth.ProfileMissing()
	}
	return auth.ProfileFound(&row)
}

func (m *memoryProfiles) CreateProfile(ctx context.Context, p *auth.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.rows[p.ID]; ok {
		return auth.ErrProfileExists
	}
	m.rows[p.ID] = *p
	m.creates++
	return nil
}

func (m *memoryProfiles) UpdateProfile(ctx context.Context, id string, patch auth.ProfilePatch) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.Role != nil {
		row.Role = *patch.Role
	}
	row.UpdatedAt = row.UpdatedAt.Add(time.Second)
	m.rows[id] = row
	return &row, nil
}

func (m *memoryProfiles) FindProfileByName(ctx context.Context, name string) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, row := range m.rows {
		if strings.EqualFold(row.Name, name) {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memoryProfiles) put(p auth.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p
}

func (m *memoryProfiles) get(id string) (auth.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row, ok
}

func (m *memoryProfiles) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

func (m *memoryProfiles) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// MockProfileStore implements auth.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FetchProfile(ctx context.Context, id string) auth.FetchResult {
	args := m.Called(ctx, id)
	return args.Get(0).(auth.FetchResult)
}

func (m *MockProfileStore) CreateProfile(ctx context.Context, p *auth.Profile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockProfileStore) UpdateProfile(ctx context.Context, id string, patch auth.ProfilePatch) (*auth.Profile, error) {
	args := m.Called(ctx, id, patch)
	if p := args.Get(0); p != nil {
		return p.(*auth.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfileStore) FindProfileByName(ctx context.Context, name string) (*auth.Profile, error) {
	args := m.Called(ctx, name)
	if p := args.Get(0); p != nil {
		return p.(*auth.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeClock records sleeps and returns immediately.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type activityRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(ctx context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) find(eventType auth.ActivityEventType) (auth.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == eventType {
			return e, true
		}
	}
	return auth.ActivityEvent{}, false
}

func (r *activityRecorder) has(eventType auth.ActivityEventType) bool {
	_, ok := r.find(eventType)
	return ok
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func testSettings() auth.Settings {
	return auth.Settings{
		BootstrapTimeout: 200 * time.Millisecond,
		BootstrapRetries: 3,
		BootstrapBackoff: time.Second,
		SafetyTimeout:    5 * time.Second,
		ProfileRetries:   3,
		ProfileBackoff:   time.Second,
		RootPath:         "/",
	}
}

type harness struct {
	backend  *fakeBackend
	profiles *memoryProfiles
	clock    *fakeClock
	activity *activityRecorder
	nav      *navRecorder
	orch     *auth.Orchestrator
}

func newHarness(t *testing.T, settings auth.Settings, opts ...auth.Option) *harness {
	t.Helper()

	h := &harness{
		backend:  &fakeBackend{},
		profiles: newMemoryProfiles(),
		clock:    newFakeClock(),
		activity: &activityRecorder{},
		nav:      &navRecorder{},
	}

	base := []auth.Option{
		auth.WithConfig(settings),
		auth.WithClock(h.clock),
		auth.WithLogger(nopLogger{}),
		auth.WithActivitySink(h.activity),
		auth.WithNavigator(h.nav),
	}
	h.orch = auth.NewOrchestrator(h.backend, h.profiles, append(base, opts...)...)
	t.Cleanup(func() { _ = h.orch.Close() })

	return h
}

// start runs the bootstrap and waits for it to settle.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.Start(context.Background()))
	h.waitInitialized(t)
}

func (h *harness) waitInitialized(t *testing.T) {
	t.Helper()
	select {
	case <-h.orch.Initialized():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not initialize")
	}
}

func (h *harness) state() auth.AuthState {
	return h.orch.Store().State()
}

func newSession(id, email string, issuedAt time.Time, meta map[string]any) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + id + "-" + issuedAt.Format("150405"),
		RefreshToken: "refresh-" + id,
		TokenType:    "bearer",
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(time.Hour),
		Account: auth.Account{
			ID:       id,
			Email:    email,
			Metadata: meta,
		},
	}
}
