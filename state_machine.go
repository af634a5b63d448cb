package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeOrchestratorClosed = "AUTH_ORCHESTRATOR_CLOSED"
)

// ErrOrchestratorClosed is returned by actions issued after Close.
var ErrOrchestratorClosed = goerrors.New("auth orchestrator is closed", goerrors.CategoryInternal).
	WithTextCode(textCodeOrchestratorClosed).
	WithCode(goerrors.CodeInternal)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseChecking        Phase = "checking"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

var phaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseUninitialized: {
		PhaseChecking:        {},
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
	},
	PhaseChecking: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
	},
	PhaseAuthenticated: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
	},
	PhaseUnauthenticated: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
	},
}

// CanTransition reports whether the orchestrator may move from one phase to
// another.
func CanTransition(from, to Phase) bool {
	allowed, ok := phaseTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the orchestrator timings.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish auth events.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *Orchestrator) {
		o.activitySink = normalizeActivitySink(sink)
	}
}

// WithNavigator sets the navigator used after sign out.
func WithNavigator(nav Navigator) Option {
	return func(o *Orchestrator) {
		if nav != nil {
			o.navigator = nav
		}
	}
}

// WithSessionStore shares an existing store with the orchestrator.
func WithSessionStore(store *SessionStore) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithErrorFormatter overrides the messages surfaced by rejected actions.
func WithErrorFormatter(f *ErrorFormatter) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.formatter = f
		}
	}
}

// WithProfileResolver replaces the resolver built from the config.
func WithProfileResolver(r *ProfileResolver) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.resolver = r
		}
	}
}

// Orchestrator drives the auth state machine. It is the only writer of its
// SessionStore.
type Orchestrator struct {
	backend      AuthBackend
	profiles     ProfileStore
	resolver     *ProfileResolver
	store        *SessionStore
	cfg          Config
	clock        Clock
	logger       Logger
	activitySink ActivitySink
	navigator    Navigator
	formatter    *ErrorFormatter

	mu               sync.Mutex
	phase            Phase
	epoch            uint64
	started          bool
	closed           bool
	bootstrapStopped bool
	cancel          context.CancelFunc
	bootstrapCancel context.CancelFunc
	unsubscribe     func()
	received        uint64
	clearedSeq      uint64
	committedSeq    uint64

	// commitMu serializes the check and write of every state commit.
	commitMu sync.Mutex

	queue       *eventQueue
	wg          sync.WaitGroup
	initialized chan struct{}
	initOnce    sync.Once
}

// NewOrchestrator wires the state machine. Start must be called to subscribe
// to the backend and run the bootstrap.
func NewOrchestrator(backend AuthBackend, profiles ProfileStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:      backend,
		profiles:     profiles,
		cfg:          DefaultSettings(),
		clock:        SystemClock,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		navigator:    noopNavigator{},
		formatter:    defaultFormatter,
		phase:        PhaseUninitialized,
		queue:        newEventQueue(),
		initialized:  make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.store == nil {
		o.store = NewSessionStore()
	}

	if o.resolver == nil {
		o.resolver = NewProfileResolver(profiles,
			WithResolverRetries(o.cfg.GetProfileRetries()),
			WithResolverBackoff(LinearBackoff(o.cfg.GetProfileBackoff())),
			WithResolverClock(o.clock),
			WithResolverLogger(o.logger),
			WithResolverActivitySink(o.activitySink),
		)
	}

	return o
}

// Store returns the session store the orchestrator writes to.
func (o *Orchestrator) Store() *SessionStore {
	return o.store
}

// Phase returns the current state machine phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Initialized is closed once AuthInitialized becomes true.
func (o *Orchestrator) Initialized() <-chan struct{} {
	return o.initialized
}

// Start subscribes to backend events and then runs the bootstrap in the
// background. Events pushed while the bootstrap runs are queued and handled
// in order once it completes. Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOrchestratorClosed
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	bootCtx, bootCancel := context.WithCancel(runCtx)
	o.cancel = cancel
	o.bootstrapCancel = bootCancel
	o.mu.Unlock()

	// subscription must precede the bootstrap read
	unsubscribe := o.backend.OnAuthStateChange(o.receive)

	o.mu.Lock()
	o.unsubscribe = unsubscribe
	o.mu.Unlock()

	o.setPhase(PhaseChecking)
	o.store.SetIsLoading(true)

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		defer bootCancel()
		o.bootstrap(bootCtx)
		o.loop(runCtx)
	}()

	go func() {
		defer o.wg.Done()
		o.watchSafetyTimeout(runCtx)
	}()

	return nil
}

// Close cancels pending work and waits for the orchestrator goroutines.
// Results arriving after Close are discarded.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.epoch++
	cancel := o.cancel
	unsubscribe := o.unsubscribe
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	o.wg.Wait()
	return nil
}

func (o *Orchestrator) receive(event AuthEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.clock.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.received++
	o.queue.push(queuedEvent{AuthEvent: event, seq: o.received})
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.queue.ready():
			for _, ev := range o.queue.drain() {
				if ctx.Err() != nil {
					return
				}
				o.handleEvent(ctx, ev)
			}
		}
	}
}

func (o *Orchestrator) watchSafetyTimeout(ctx context.Context) {
	timeout := o.cfg.GetSafetyTimeout()
	if timeout <= 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.initialized:
	case <-ctx.Done():
	case <-timer.C:
		o.forceInitialized(ctx)
	}
}

// forceInitialized ends a stuck bootstrap: its result is discarded and the
// state becomes initialized and unauthenticated. Actions in flight and queued
// events are not affected.
func (o *Orchestrator) forceInitialized(ctx context.Context) {
	o.commitMu.Lock()
	if o.isInitialized() {
		o.commitMu.Unlock()
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.commitMu.Unlock()
		return
	}
	o.bootstrapStopped = true
	bootCancel := o.bootstrapCancel
	o.mu.Unlock()

	o.clearState()
	o.commitMu.Unlock()

	if bootCancel != nil {
		bootCancel()
	}

	o.logger.Warn("auth bootstrap did not finish within %s, continuing unauthenticated", o.cfg.GetSafetyTimeout())
	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventBootstrapTimeout,
		Message:   "auth bootstrap safety timeout",
		Metadata: map[string]any{
			"timeout": o.cfg.GetSafetyTimeout().String(),
		},
	})
}

func (o *Orchestrator) bootstrap(ctx context.Context) {
	epoch, seq := o.marks()
	mark := commitMark{epoch: epoch, seq: seq, bootstrap: true}

	var session *Session
	policy := retryPolicy{
		retries: o.cfg.GetBootstrapRetries(),
		backoff: ExponentialBackoff(o.cfg.GetBootstrapBackoff()),
		clock:   o.clock,
	}

	err := policy.run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		s, err := o.fetchSession(ctx)
		if err != nil {
			o.logger.Warn("session check attempt %d failed: %v", attempt+1, err)
			return true, err
		}
		session = s
		return false, nil
	})

	if ctx.Err() != nil {
		o.logger.Debug("auth bootstrap cancelled")
		return
	}

	if err != nil {
		o.logger.Error("session check failed, continuing unauthenticated: %v", err)
		o.commitUnauthenticated(mark)
		o.bootstrapCompleted(ctx, "", err)
		return
	}

	if session == nil || session.AccountID() == "" {
		o.logger.Debug("no session found during bootstrap")
		o.commitUnauthenticated(mark)
		o.bootstrapCompleted(ctx, "", nil)
		return
	}

	profile, err := o.resolver.Resolve(ctx, session.Account)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.resolutionFailed(ctx, session.AccountID(), err)
		o.commitUnauthenticated(mark)
		o.bootstrapCompleted(ctx, session.AccountID(), err)
		return
	}

	o.commitAuthenticated(mark, session, BuildUser(session.Account, profile))
	o.bootstrapCompleted(ctx, session.AccountID(), nil)
}

// fetchSession races GetSession against the bootstrap timeout.
func (o *Orchestrator) fetchSession(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GetBootstrapTimeout())
	defer cancel()

	type result struct {
		session *Session
		err     error
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("session check panicked: %v", r)}
			}
		}()
		s, err := o.backend.GetSession(ctx)
		ch <- result{session: s, err: err}
	}()

	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrBootstrapTimeout
		}
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) bootstrapCompleted(ctx context.Context, userID string, err error) {
	state := o.store.State()
	meta := map[string]any{
		"authenticated": state.IsAuthenticated(),
	}
	if err != nil {
		meta["error"] = err.Error()
	}

	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventBootstrapCompleted,
		UserID:    userID,
		Metadata:  meta,
	})
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev queuedEvent) {
	if o.isStale(ev) {
		o.logger.Debug("ignoring stale %s event for %q", ev.Type, ev.Session.AccountID())
		recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
			EventType: ActivityEventStaleEventIgnored,
			UserID:    ev.Session.AccountID(),
			Metadata: map[string]any{
				"event": string(ev.Type),
			},
		})
		return
	}

	epoch, _ := o.marks()
	mark := commitMark{epoch: epoch, seq: ev.seq}

	if ev.Session == nil || ev.Session.AccountID() == "" {
		o.logger.Debug("%s event without session", ev.Type)
		o.commitUnauthenticated(mark)
		return
	}

	profile, err := o.resolver.Resolve(ctx, ev.Session.Account)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.resolutionFailed(ctx, ev.Session.AccountID(), err)
		o.commitUnauthenticated(mark)
		return
	}

	o.commitAuthenticated(mark, ev.Session, BuildUser(ev.Session.Account, profile))
}

// isStale reports events superseded by a local sign out, by a newer stored
// session or, for session-less events, by a session committed after the
// event was received.
func (o *Orchestrator) isStale(ev queuedEvent) bool {
	o.mu.Lock()
	clearedSeq, committedSeq := o.clearedSeq, o.committedSeq
	o.mu.Unlock()

	if ev.seq <= clearedSeq {
		return true
	}

	current := o.store.State().Session
	if current == nil {
		return false
	}

	if ev.Session != nil {
		return ev.Session.OlderThan(current)
	}

	return ev.seq <= committedSeq
}

func (o *Orchestrator) resolutionFailed(ctx context.Context, userID string, err error) {
	o.logger.Error("profile resolution for %s failed: %v", userID, err)
	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventProfileResolutionFailed,
		UserID:    userID,
		Message:   o.formatter.Format(err),
		Metadata: map[string]any{
			"error": err.Error(),
		},
	})
}

// marks returns the current epoch and the receipt sequence of the last
// pushed event.
func (o *Orchestrator) marks() (epoch, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch, o.received
}

// invalidate supersedes every in-flight operation and marks all events
// received so far as stale.
func (o *Orchestrator) invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch++
	o.clearedSeq = o.received
}

// commitMark identifies the operation behind a commit: the epoch it started
// in, the last event received before it and whether it is the bootstrap.
type commitMark struct {
	epoch     uint64
	seq       uint64
	bootstrap bool
}

func (o *Orchestrator) superseded(mark commitMark) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if mark.bootstrap && o.bootstrapStopped {
		return true
	}
	return o.closed || o.epoch != mark.epoch
}

// commitAuthenticated stores user and session unless the operation was
// superseded or a newer session is already stored.
func (o *Orchestrator) commitAuthenticated(mark commitMark, session *Session, user *User) bool {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	if o.superseded(mark) {
		o.logger.Debug("discarding superseded session for %s", session.AccountID())
		return false
	}

	current := o.store.State()
	if current.Session != nil && session.OlderThan(current.Session) {
		o.logger.Debug("discarding session for %s older than the stored one", session.AccountID())
		return false
	}

	o.store.Update(func(st *AuthState) {
		st.User = user
		st.Session = session.Clone()
		st.IsLoading = false
		st.AuthInitialized = true
	})

	o.mu.Lock()
	if mark.seq > o.committedSeq {
		o.committedSeq = mark.seq
	}
	o.mu.Unlock()

	o.setPhase(PhaseAuthenticated)
	o.markInitialized()
	return true
}

// commitUnauthenticated clears user and session unless the operation was
// superseded or a session was committed after the mark. The loading flags are
// settled either way.
func (o *Orchestrator) commitUnauthenticated(mark commitMark) bool {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	if o.superseded(mark) {
		return false
	}

	o.mu.Lock()
	committedSeq := o.committedSeq
	o.mu.Unlock()

	current := o.store.State()
	if current.Session != nil && mark.seq <= committedSeq {
		if current.IsLoading || !current.AuthInitialized {
			o.store.Update(func(st *AuthState) {
				st.IsLoading = false
				st.AuthInitialized = true
			})
		}
		o.markInitialized()
		return false
	}

	o.store.Update(func(st *AuthState) {
		st.User = nil
		st.Session = nil
		st.IsLoading = false
		st.AuthInitialized = true
	})

	o.setPhase(PhaseUnauthenticated)
	o.markInitialized()
	return true
}

// commitCleared clears the state unconditionally.
func (o *Orchestrator) commitCleared() {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	o.clearState()
}

// clearState must be called with commitMu held.
func (o *Orchestrator) clearState() {
	o.store.Update(func(st *AuthState) {
		st.User = nil
		st.Session = nil
		st.IsLoading = false
		st.AuthInitialized = true
	})

	o.setPhase(PhaseUnauthenticated)
	o.markInitialized()
}

func (o *Orchestrator) setPhase(to Phase) {
	o.mu.Lock()
	from := o.phase
	o.phase = to
	o.mu.Unlock()

	if from == to {
		return
	}

	if !CanTransition(from, to) {
		o.logger.Warn("unexpected auth phase change %s -> %s", from, to)
		return
	}

	o.logger.Debug("auth phase %s -> %s", from, to)
}

func (o *Orchestrator) markInitialized() {
	o.initOnce.Do(func() {
		close(o.initialized)
	})
}

func (o *Orchestrator) isInitialized() bool {
	select {
	case <-o.initialized:
		return true
	default:
		return false
	}
}
