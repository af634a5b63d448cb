package auth

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// SignIn authenticates with the backend and, on success, resolves the
// profile and commits the state before returning. Failures are returned as
// *AuthRejectedError carrying the formatted message; they are not retried.
func (o *Orchestrator) SignIn(ctx context.Context, email, password string) error {
	if o.isClosed() {
		return ErrOrchestratorClosed
	}

	epoch, _ := o.marks()

	session, err := o.backend.SignInWithPassword(ctx, email, password)
	if err == nil && (session == nil || session.AccountID() == "") {
		err = ErrNoSession
	}
	if err != nil {
		return o.reject(ctx, ActivityEventSignInFailure, email, err)
	}

	profile, err := o.resolver.Resolve(ctx, session.Account)
	if err != nil {
		o.resolutionFailed(ctx, session.AccountID(), err)
		if !o.superseded(commitMark{epoch: epoch}) {
			o.commitCleared()
		}
		return o.reject(ctx, ActivityEventSignInFailure, email, err)
	}

	_, seq := o.marks()
	if !o.commitAuthenticated(commitMark{epoch: epoch, seq: seq}, session, BuildUser(session.Account, profile)) {
		if o.isClosed() {
			return ErrOrchestratorClosed
		}
		if o.store.State().IsAuthenticated() {
			o.logger.Debug("sign in for %s kept the newer stored session", session.AccountID())
			return nil
		}
		o.logger.Debug("sign in for %s superseded by sign out", session.AccountID())
		return o.reject(ctx, ActivityEventSignInFailure, email, ErrSignInSuperseded)
	}

	o.logger.Info("signed in %s", session.AccountID())
	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventSignInSuccess,
		UserID:    session.AccountID(),
		Metadata: map[string]any{
			"email": email,
		},
	})

	return nil
}

// SignUp validates the input locally, rejects display names already in use,
// registers the account with name and role metadata and provisions its
// profile. The state is only authenticated when the backend returned a live
// session, otherwise the account waits for e-mail confirmation.
func (o *Orchestrator) SignUp(ctx context.Context, payload SignUpPayload) error {
	if o.isClosed() {
		return ErrOrchestratorClosed
	}

	payload = payload.Normalize()
	if err := payload.Validate(); err != nil {
		return o.reject(ctx, ActivityEventSignUpFailure, payload.Email, joinKind(ErrInvalidSignUp, err))
	}

	existing, err := o.profiles.FindProfileByName(ctx, payload.Name)
	switch {
	case err != nil:
		o.logger.Warn("display name check for %q failed, continuing: %v", payload.Name, err)
	case existing != nil:
		return o.reject(ctx, ActivityEventSignUpFailure, payload.Email, ErrDisplayNameTaken)
	}

	epoch, _ := o.marks()
	role := payload.RoleOrDefault()

	res, err := o.backend.SignUp(ctx, SignUpRequest{
		Email:    payload.Email,
		Password: payload.Password,
		Metadata: map[string]any{
			MetaName:     payload.Name,
			MetaFullName: payload.Name,
			MetaRole:     string(role),
		},
	})
	if err == nil && (res == nil || res.Account.ID == "") {
		err = fmt.Errorf("backend returned no account for %s", payload.Email)
	}
	if err != nil {
		return o.reject(ctx, ActivityEventSignUpFailure, payload.Email, err)
	}

	account := res.Account
	if res.Session != nil && res.Session.AccountID() != "" {
		account = res.Session.Account
	}

	profile, err := o.resolver.EnsureProfile(ctx, account)
	if err != nil {
		o.resolutionFailed(ctx, account.ID, err)
		return o.reject(ctx, ActivityEventSignUpFailure, payload.Email, err)
	}

	confirmed := res.Session != nil && res.Session.AccountID() != ""
	if confirmed {
		_, seq := o.marks()
		o.commitAuthenticated(commitMark{epoch: epoch, seq: seq}, res.Session, BuildUser(account, profile))
	}

	o.logger.Info("signed up %s as %s", account.ID, role)
	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventSignUpSuccess,
		UserID:    account.ID,
		Metadata: map[string]any{
			"email":                 payload.Email,
			"role":                  string(role),
			"confirmation_required": !confirmed,
		},
	})

	return nil
}

// SignOut signs out of the backend and always clears the local state, even
// when the backend call fails or panics, then navigates to the root path.
func (o *Orchestrator) SignOut(ctx context.Context) {
	if o.isClosed() {
		o.logger.Debug("sign out after close ignored")
		return
	}

	userID := o.store.State().User.idOrEmpty()

	o.invalidate()

	if err := o.backendSignOut(ctx); err != nil {
		o.logger.Error("backend sign out failed, clearing local state anyway: %v", err)
	}

	o.commitCleared()

	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventSignOut,
		UserID:    userID,
	})

	o.navigator.Navigate(o.cfg.GetRootPath())
}

func (o *Orchestrator) backendSignOut(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend sign out panicked: %v", r)
		}
	}()
	return o.backend.SignOut(ctx)
}

// UpdateUser applies patch to the durable profile and merges the result into
// the current user.
func (o *Orchestrator) UpdateUser(ctx context.Context, patch ProfilePatch) error {
	if o.isClosed() {
		return ErrOrchestratorClosed
	}

	current := o.store.State().User
	if current == nil {
		return ErrNotAuthenticated
	}

	if patch.Role != nil && !patch.Role.IsValid() {
		return joinKind(ErrProfileUpdateFailed, goerrors.New(
			fmt.Sprintf("invalid role %q", *patch.Role), goerrors.CategoryValidation,
		).WithCode(goerrors.CodeBadRequest))
	}

	if patch.IsEmpty() {
		return nil
	}

	profile, err := o.profiles.UpdateProfile(ctx, current.ID, patch)
	if err != nil {
		o.logger.Error("profile update for %s failed: %v", current.ID, err)
		return joinKind(ErrProfileUpdateFailed, err)
	}

	o.commitMu.Lock()
	o.store.Update(func(st *AuthState) {
		if st.User == nil || st.User.ID != current.ID {
			return
		}
		mergeProfile(st.User, patch, profile)
	})
	o.commitMu.Unlock()

	changed := map[string]any{}
	if patch.Name != nil {
		changed[MetaName] = *patch.Name
	}
	if patch.Role != nil {
		changed[MetaRole] = string(*patch.Role)
	}

	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		UserID:    current.ID,
		Metadata:  changed,
	})

	return nil
}

// mergeProfile folds an updated profile into user. The patched values are
// also written to the metadata so metadata readers see the change.
func mergeProfile(user *User, patch ProfilePatch, profile *Profile) {
	if patch.Name != nil {
		user.AddMetadata(MetaName, *patch.Name)
		user.Name = *patch.Name
	}
	if patch.Role != nil {
		user.AddMetadata(MetaRole, string(*patch.Role))
	}

	if profile == nil {
		if patch.Role != nil {
			user.Role = *patch.Role
		}
		return
	}

	if profile.Name != "" {
		user.Name = profile.Name
	}

	metaRole, _ := user.UserMetadata[MetaRole].(string)
	user.Role = ResolveRole(metaRole, profile.Role)
}

func (o *Orchestrator) reject(ctx context.Context, eventType ActivityEventType, email string, err error) error {
	msg := o.formatter.Format(err)
	o.logger.Warn("%s for %s: %v", eventType, email, err)

	recordActivity(ctx, o.activitySink, o.logger, o.clock, ActivityEvent{
		EventType: eventType,
		Message:   msg,
		Metadata: map[string]any{
			"email": email,
			"error": err.Error(),
		},
	})

	return &AuthRejectedError{Message: msg, Cause: err}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (u *User) idOrEmpty() string {
	if u == nil {
		return ""
	}
	return u.ID
}
