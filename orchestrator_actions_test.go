package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-knowly-auth"
)

func signedInHarness(t *testing.T, meta map[string]any) *harness {
	t.Helper()
	h := newHarness(t, testSettings())
	session := newSession("acc-1", "arta@knowly.al", baseTime, meta)
	h.backend.getSession = func(ctx context.Context) (*auth.Session, error) {
		return session, nil
	}
	h.start(t)
	require.True(t, h.state().IsAuthenticated())
	return h
}

func TestSignInCommitsBeforeReturning(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)

	session := newSession("acc-1", "arta@knowly.al", baseTime, map[string]any{auth.MetaRole: "instructor"})
	h.backend.signIn = func(ctx context.Context, email, password string) (*auth.Session, error) {
		assert.Equal(t, "arta@knowly.al", email)
		assert.Equal(t, "sekret", password)
		return session, nil
	}

	require.NoError(t, h.orch.SignIn(context.Background(), "arta@knowly.al", "sekret"))

	state := h.state()
	require.True(t, state.IsAuthenticated())
	assert.Equal(t, auth.RoleInstructor, state.User.Role)
	assert.Equal(t, auth.PhaseAuthenticated, h.orch.Phase())
	assert.True(t, h.activity.has(auth.ActivityEventSignInSuccess))
}

func TestSignInInvalidCredentials(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)

	backendErr := errors.New(auth.MsgInvalidCredentials)
	h.backend.signIn = func(ctx context.Context, email, password string) (*auth.Session, error) {
		return nil, backendErr
	}

	err := h.orch.SignIn(context.Background(), "arta@knowly.al", "wrong")
	require.Error(t, err)

	var rejected *auth.AuthRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Email ose fjalëkalimi i pavlefshëm.", err.Error())
	assert.ErrorIs(t, err, auth.ErrAuthRejected)
	assert.ErrorIs(t, err, backendErr)
	assert.True(t, auth.IsAuthRejected(err))

	state := h.state()
	assert.False(t, state.IsAuthenticated())
	assert.True(t, state.AuthInitialized)
	assert.False(t, state.IsLoading)

	failure, ok := h.activity.find(auth.ActivityEventSignInFailure)
	require.True(t, ok)
	assert.Equal(t, "Email ose fjalëkalimi i pavlefshëm.", failure.Message)
	assert.Equal(t, "arta@knowly.al", failure.Metadata["email"])
}

func TestSignInWithoutSession(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)

	err := h.orch.SignIn(context.Background(), "arta@knowly.al", "sekret")
	assert.ErrorIs(t, err, auth.ErrNoSession)
	assert.ErrorIs(t, err, auth.ErrAuthRejected)
	assert.Equal(t, "Seanca nuk mund të krijohej. Ju lutemi provoni përsëri.", err.Error())
}

func TestSignInProfileFailureClearsState(t *testing.T) {
	h := signedInHarness(t, nil)

	h.profiles.fetchResult = func(id string, attempt int) *auth.FetchResult {
		if id != "acc-2" {
			return nil
		}
		res := auth.FatalFailure(errors.New("permission denied"))
		return &res
	}
	h.backend.signIn = func(ctx context.Context, email, password string) (*auth.Session, error) {
		return newSession("acc-2", "besa@knowly.al", baseTime.Add(1), nil), nil
	}

	err := h.orch.SignIn(context.Background(), "besa@knowly.al", "sekret")
	assert.ErrorIs(t, err, auth.ErrProfileFetchFailed)
	assert.Equal(t, "Profili nuk mund të ngarkohej. Ju lutemi provoni përsëri.", err.Error())

	assert.False(t, h.state().IsAuthenticated())
	assert.True(t, h.activity.has(auth.ActivityEventProfileResolutionFailed))
}

func TestSignUpWithSession(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)

	h.backend.signUp = func(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
		session := newSession("acc-new", req.Email, baseTime, req.Metadata)
		return &auth.SignUpResult{Account: session.Account, Session: session}, nil
	}

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    " teuta@knowly.al ",
		Password: "sekret123",
		Name:     " Teuta ",
		Role:     auth.RoleInstructor,
	})
	require.NoError(t, err)

	requests := h.backend.SignUpRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "teuta@knowly.al", requests[0].Email)
	assert.Equal(t, map[string]any{
		auth.MetaName:     "Teuta",
		auth.MetaFullName: "Teuta",
		auth.MetaRole:     "instructor",
	}, requests[0].Metadata)

	state := h.state()
	require.True(t, state.IsAuthenticated())
	assert.Equal(t, "Teuta", state.User.Name)
	assert.Equal(t, auth.RoleInstructor, state.User.Role)

	row, ok := h.profiles.get("acc-new")
	require.True(t, ok)
	assert.Equal(t, auth.RoleInstructor, row.Role)
	assert.Equal(t, "Teuta", row.Name)

	success, ok := h.activity.find(auth.ActivityEventSignUpSuccess)
	require.True(t, ok)
	assert.Equal(t, false, success.Metadata["confirmation_required"])
}

func TestSignUpRequiringConfirmation(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    "genta@knowly.al",
		Password: "sekret123",
		Name:     "Genta",
	})
	require.NoError(t, err)

	assert.False(t, h.state().IsAuthenticated())

	row, ok := h.profiles.get("new-account")
	require.True(t, ok)
	assert.Equal(t, auth.RoleStudent, row.Role)

	success, ok := h.activity.find(auth.ActivityEventSignUpSuccess)
	require.True(t, ok)
	assert.Equal(t, true, success.Metadata["confirmation_required"])
	assert.Equal(t, "student", success.Metadata["role"])
}

func TestSignUpValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload auth.SignUpPayload
	}{
		{"missing name", auth.SignUpPayload{Email: "a@knowly.al", Password: "sekret123"}},
		{"blank name", auth.SignUpPayload{Email: "a@knowly.al", Password: "sekret123", Name: "   "}},
		{"bad email", auth.SignUpPayload{Email: "a-at-knowly", Password: "sekret123", Name: "A"}},
		{"missing password", auth.SignUpPayload{Email: "a@knowly.al", Name: "A"}},
		{"unknown role", auth.SignUpPayload{Email: "a@knowly.al", Password: "sekret123", Name: "A", Role: "tutor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testSettings())
			h.start(t)

			err := h.orch.SignUp(context.Background(), tt.payload)
			assert.ErrorIs(t, err, auth.ErrInvalidSignUp)
			assert.ErrorIs(t, err, auth.ErrAuthRejected)
			assert.Equal(t, "Ju lutemi plotësoni të gjitha fushat e kërkuara.", err.Error())
			assert.Empty(t, h.backend.SignUpRequests())
			assert.True(t, h.activity.has(auth.ActivityEventSignUpFailure))
		})
	}
}

func TestSignUpDisplayNameTaken(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)
	h.profiles.put(auth.Profile{ID: "acc-0", Name: "Teuta", Role: auth.RoleStudent})

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    "teuta2@knowly.al",
		Password: "sekret123",
		Name:     "teuta",
	})

	assert.ErrorIs(t, err, auth.ErrDisplayNameTaken)
	assert.Equal(t, "Ky emër përdoruesi është i zënë tashmë.", err.Error())
	assert.Empty(t, h.backend.SignUpRequests())
}

func TestSignUpContinuesWhenNameCheckFails(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)
	h.profiles.findErr = errors.New("read replica unavailable")

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    "teuta@knowly.al",
		Password: "sekret123",
		Name:     "Teuta",
	})
	require.NoError(t, err)
	assert.Len(t, h.backend.SignUpRequests(), 1)
}

func TestSignUpBackendRejects(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)
	h.backend.signUp = func(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
		return nil, errors.New(auth.MsgUserAlreadyRegistered)
	}

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    "teuta@knowly.al",
		Password: "sekret123",
		Name:     "Teuta",
	})
	assert.Equal(t, "Ky email është i regjistruar tashmë.", err.Error())
	assert.Zero(t, h.profiles.Creates())
}

func TestSignUpWithoutAccount(t *testing.T) {
	h := newHarness(t, testSettings())
	h.start(t)
	h.backend.signUp = func(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
		return &auth.SignUpResult{}, nil
	}

	err := h.orch.SignUp(context.Background(), auth.SignUpPayload{
		Email:    "teuta@knowly.al",
		Password: "sekret123",
		Name:     "Teuta",
	})
	require.Error(t, err)
	assert.True(t, auth.IsAuthRejected(err))
}

func TestSignOutNavigatesToRoot(t *testing.T) {
	h := signedInHarness(t, nil)

	h.orch.SignOut(context.Background())

	state := h.state()
	assert.Nil(t, state.User)
	assert.Nil(t, state.Session)
	assert.False(t, state.IsLoading)
	assert.True(t, state.AuthInitialized)
	assert.Equal(t, auth.PhaseUnauthenticated, h.orch.Phase())
	assert.Equal(t, []string{"/"}, h.nav.Paths())

	signedOut, ok := h.activity.find(auth.ActivityEventSignOut)
	require.True(t, ok)
	assert.Equal(t, "acc-1", signedOut.UserID)
}

func TestSignOutClearsStateWhenBackendFails(t *testing.T) {
	tests := []struct {
		name    string
		signOut func(ctx context.Context) error
	}{
		{"error", func(ctx context.Context) error { return errors.New("network unreachable") }},
		{"panic", func(ctx context.Context) error { panic("client torn down") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := signedInHarness(t, nil)
			h.backend.signOut = tt.signOut

			assert.NotPanics(t, func() {
				h.orch.SignOut(context.Background())
			})

			assert.False(t, h.state().IsAuthenticated())
			assert.Equal(t, []string{"/"}, h.nav.Paths())
		})
	}
}

func TestSignOutUsesConfiguredRootPath(t *testing.T) {
	settings := testSettings()
	settings.RootPath = "/miresevini"
	h := newHarness(t, settings)
	h.start(t)

	h.orch.SignOut(context.Background())
	assert.Equal(t, []string{"/miresevini"}, h.nav.Paths())
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a user", func(t *testing.T) {
		h := newHarness(t, testSettings())
		h.start(t)

		name := "Arta"
		assert.ErrorIs(t, h.orch.UpdateUser(ctx, auth.ProfilePatch{Name: &name}), auth.ErrNotAuthenticated)
	})

	t.Run("name", func(t *testing.T) {
		h := signedInHarness(t, nil)

		name := "Arta Krasniqi"
		require.NoError(t, h.orch.UpdateUser(ctx, auth.ProfilePatch{Name: &name}))

		user := h.state().User
		assert.Equal(t, "Arta Krasniqi", user.Name)
		assert.Equal(t, "Arta Krasniqi", user.UserMetadata[auth.MetaName])

		row, _ := h.profiles.get("acc-1")
		assert.Equal(t, "Arta Krasniqi", row.Name)

		updated, ok := h.activity.find(auth.ActivityEventProfileUpdated)
		require.True(t, ok)
		assert.Equal(t, "Arta Krasniqi", updated.Metadata[auth.MetaName])
	})

	t.Run("role", func(t *testing.T) {
		h := signedInHarness(t, map[string]any{auth.MetaRole: "student"})

		role := auth.RoleInstructor
		require.NoError(t, h.orch.UpdateUser(ctx, auth.ProfilePatch{Role: &role}))

		user := h.state().User
		assert.Equal(t, auth.RoleInstructor, user.Role)
		assert.Equal(t, "instructor", user.UserMetadata[auth.MetaRole])
	})

	t.Run("invalid role", func(t *testing.T) {
		h := signedInHarness(t, nil)

		role := auth.UserRole("owner")
		err := h.orch.UpdateUser(ctx, auth.ProfilePatch{Role: &role})
		assert.ErrorIs(t, err, auth.ErrProfileUpdateFailed)
		assert.Equal(t, auth.RoleStudent, h.state().User.Role)
	})

	t.Run("empty patch", func(t *testing.T) {
		h := signedInHarness(t, nil)
		assert.NoError(t, h.orch.UpdateUser(ctx, auth.ProfilePatch{}))
		assert.False(t, h.activity.has(auth.ActivityEventProfileUpdated))
	})

	t.Run("store failure", func(t *testing.T) {
		h := signedInHarness(t, nil)
		h.profiles.updateErr = errors.New("deadlock detected")

		name := "Arta K."
		err := h.orch.UpdateUser(ctx, auth.ProfilePatch{Name: &name})
		assert.ErrorIs(t, err, auth.ErrProfileUpdateFailed)
		assert.ErrorIs(t, err, h.profiles.updateErr)
		assert.Equal(t, "arta", h.state().User.Name)
	})
}
