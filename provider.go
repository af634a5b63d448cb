package auth

import (
	"context"
)

// Provider is the façade the application talks to. It exposes the auth
// state and the user initiated actions; consumers never reach the
// orchestrator directly.
type Provider struct {
	orchestrator *Orchestrator
}

// New builds a Provider around a fresh orchestrator. Call Start to run the
// bootstrap.
func New(backend AuthBackend, profiles ProfileStore, opts ...Option) *Provider {
	return &Provider{orchestrator: NewOrchestrator(backend, profiles, opts...)}
}

// NewProvider wraps an existing orchestrator.
func NewProvider(o *Orchestrator) *Provider {
	return &Provider{orchestrator: o}
}

// Start subscribes to the backend and runs the bootstrap in the background.
func (p *Provider) Start(ctx context.Context) error {
	return p.orchestrator.Start(ctx)
}

// Close stops the orchestrator. Results arriving afterwards are dropped.
func (p *Provider) Close() error {
	return p.orchestrator.Close()
}

// State returns a snapshot of the auth state.
func (p *Provider) State() AuthState {
	return p.orchestrator.Store().State()
}

func (p *Provider) User() *User {
	return p.State().User
}

func (p *Provider) Session() *Session {
	return p.State().Session
}

func (p *Provider) IsLoading() bool {
	return p.State().IsLoading
}

func (p *Provider) AuthInitialized() bool {
	return p.State().AuthInitialized
}

func (p *Provider) IsAuthenticated() bool {
	return p.State().IsAuthenticated()
}

// Phase returns the orchestrator phase.
func (p *Provider) Phase() Phase {
	return p.orchestrator.Phase()
}

// Subscribe registers listener for every committed state.
func (p *Provider) Subscribe(listener StateListener) (unsubscribe func()) {
	return p.orchestrator.Store().Subscribe(listener)
}

// WaitInitialized blocks until the first auth check settled or ctx is done.
func (p *Provider) WaitInitialized(ctx context.Context) error {
	select {
	case <-p.orchestrator.Initialized():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn returns *AuthRejectedError with the message to show on failure.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	return p.orchestrator.SignIn(ctx, email, password)
}

// SignUp registers a new account. role is optional and defaults to student.
func (p *Provider) SignUp(ctx context.Context, email, password, name string, role ...UserRole) error {
	payload := SignUpPayload{
		Email:    email,
		Password: password,
		Name:     name,
	}
	if len(role) > 0 {
		payload.Role = role[0]
	}
	return p.orchestrator.SignUp(ctx, payload)
}

// SignOut never fails: the local state is cleared regardless of the backend.
func (p *Provider) SignOut(ctx context.Context) {
	p.orchestrator.SignOut(ctx)
}

// UpdateUser returns ErrNotAuthenticated when nobody is signed in.
func (p *Provider) UpdateUser(ctx context.Context, patch ProfilePatch) error {
	return p.orchestrator.UpdateUser(ctx, patch)
}

// Login is an alias of SignIn.
func (p *Provider) Login(ctx context.Context, email, password string) error {
	return p.SignIn(ctx, email, password)
}

// Signup is an alias of SignUp.
func (p *Provider) Signup(ctx context.Context, email, password, name string, role ...UserRole) error {
	return p.SignUp(ctx, email, password, name, role...)
}

// Logout is an alias of SignOut.
func (p *Provider) Logout(ctx context.Context) {
	p.SignOut(ctx)
}
