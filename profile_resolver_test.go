package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-knowly-auth"
)

func TestBackoffFuncs(t *testing.T) {
	linear := auth.LinearBackoff(time.Second)
	assert.Equal(t, time.Second, linear(1))
	assert.Equal(t, 2*time.Second, linear(2))
	assert.Equal(t, 3*time.Second, linear(3))
	assert.Equal(t, time.Second, linear(0))

	exp := auth.ExponentialBackoff(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, exp(1))
	assert.Equal(t, time.Second, exp(2))
	assert.Equal(t, 2*time.Second, exp(3))
	assert.Equal(t, exp(16), exp(40))
}

func newTestResolver(store auth.ProfileStore, clock *fakeClock, sink auth.ActivitySink) *auth.ProfileResolver {
	return auth.NewProfileResolver(store,
		auth.WithResolverClock(clock),
		auth.WithResolverLogger(nopLogger{}),
		auth.WithResolverActivitySink(sink),
	)
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	network := errors.New("connection reset by peer")

	store := new(MockProfileStore)
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.TransientFailure(network))

	_, err := newTestResolver(store, clock, nil).Resolve(ctx, auth.Account{ID: "acc-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrProfileFetchFailed)
	assert.ErrorIs(t, err, network)
	store.AssertNumberOfCalls(t, "FetchProfile", 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestResolveRecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	profile := &auth.Profile{ID: "acc-1", Name: "Arta", Role: auth.RoleInstructor}

	store := new(MockProfileStore)
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.TransientFailure(errors.New("timeout"))).Once()
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.ProfileFound(profile)).Once()

	got, err := newTestResolver(store, clock, nil).Resolve(ctx, auth.Account{ID: "acc-1"})

	require.NoError(t, err)
	assert.Equal(t, profile, got)
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
	store.AssertExpectations(t)
}

func TestResolveFatalFailureDoesNotRetry(t *testing.T) {
	clock := newFakeClock()
	denied := errors.New("permission denied for table profiles")

	store := new(MockProfileStore)
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.FatalFailure(denied))

	_, err := newTestResolver(store, clock, nil).Resolve(context.Background(), auth.Account{ID: "acc-1"})

	assert.ErrorIs(t, err, auth.ErrProfileFetchFailed)
	assert.ErrorIs(t, err, denied)
	store.AssertNumberOfCalls(t, "FetchProfile", 1)
	assert.Empty(t, clock.Sleeps())
}

func TestResolveCreatesMissingProfile(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	activity := &activityRecorder{}
	store := newMemoryProfiles()

	account := auth.Account{ID: "acc-new", Email: "besa@knowly.al", Metadata: map[string]any{auth.MetaName: "Besa"}}

	got, err := newTestResolver(store, clock, activity).Resolve(ctx, account)
	require.NoError(t, err)

	assert.Equal(t, "acc-new", got.ID)
	assert.Equal(t, "Besa", got.Name)
	assert.Equal(t, auth.RoleStudent, got.Role)
	assert.Equal(t, baseTime, got.CreatedAt)
	assert.Equal(t, 1, store.Creates())

	created, ok := activity.find(auth.ActivityEventProfileCreated)
	require.True(t, ok)
	assert.Equal(t, "acc-new", created.UserID)
	assert.Equal(t, "student", created.Metadata["role"])
}

func TestResolveSeedsRoleFromMetadata(t *testing.T) {
	store := newMemoryProfiles()
	account := auth.Account{ID: "acc-2", Email: "dren@knowly.al", Metadata: map[string]any{auth.MetaRole: "Instructor"}}

	got, err := newTestResolver(store, newFakeClock(), nil).Resolve(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleInstructor, got.Role)
	assert.Equal(t, "dren", got.Name)
}

func TestResolveCreateConflictReadsExistingRow(t *testing.T) {
	ctx := context.Background()
	existing := &auth.Profile{ID: "acc-1", Name: "Arta", Role: auth.RoleAdmin}

	store := new(MockProfileStore)
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.ProfileMissing()).Twice()
	store.On("CreateProfile", mock.Anything, mock.AnythingOfType("*auth.Profile")).Return(auth.ErrProfileExists).Once()
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.ProfileFound(existing)).Once()

	got, err := newTestResolver(store, newFakeClock(), nil).Resolve(ctx, auth.Account{ID: "acc-1"})

	require.NoError(t, err)
	assert.Equal(t, existing, got)
	store.AssertExpectations(t)
}

func TestResolveCreationFailure(t *testing.T) {
	store := newMemoryProfiles()
	store.createErr = errors.New("disk full")

	_, err := newTestResolver(store, newFakeClock(), nil).Resolve(context.Background(), auth.Account{ID: "acc-1"})

	assert.ErrorIs(t, err, auth.ErrProfileCreationFailed)
	assert.ErrorIs(t, err, store.createErr)
	assert.NotErrorIs(t, err, auth.ErrProfileFetchFailed)
}

func TestResolveRefetchFailureAfterCreate(t *testing.T) {
	store := new(MockProfileStore)
	store.On("FetchProfile", mock.Anything, "acc-1").Return(auth.ProfileMissing())
	store.On("CreateProfile", mock.Anything, mock.Anything).Return(nil)

	_, err := newTestResolver(store, newFakeClock(), nil).Resolve(context.Background(), auth.Account{ID: "acc-1"})

	assert.ErrorIs(t, err, auth.ErrProfileFetchFailed)
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
}

func TestResolveEmptyAccountID(t *testing.T) {
	resolver := newTestResolver(newMemoryProfiles(), newFakeClock(), nil)

	_, err := resolver.Resolve(context.Background(), auth.Account{})
	assert.ErrorIs(t, err, auth.ErrProfileFetchFailed)

	_, err = resolver.EnsureProfile(context.Background(), auth.Account{})
	assert.ErrorIs(t, err, auth.ErrProfileCreationFailed)
}

func TestResolveStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()

	store := newMemoryProfiles()
	store.fetchResult = func(id string, attempt int) *auth.FetchResult {
		cancel()
		res := auth.TransientFailure(errors.New("timeout"))
		return &res
	}

	_, err := newTestResolver(store, clock, nil).Resolve(ctx, auth.Account{ID: "acc-1"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.Fetches())
	assert.Empty(t, clock.Sleeps())
}

func TestResolveConcurrentCallersCreateOneProfile(t *testing.T) {
	store := newMemoryProfiles()
	resolver := newTestResolver(store, newFakeClock(), nil)
	account := auth.Account{ID: "acc-race", Email: "genta@knowly.al"}

	const callers = 16
	profiles := make([]*auth.Profile, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = resolver.Resolve(context.Background(), account)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "acc-race", profiles[i].ID)
		assert.Equal(t, "genta", profiles[i].Name)
	}
	assert.Equal(t, 1, store.Creates())
}

func TestEnsureProfileReturnsExistingRow(t *testing.T) {
	store := newMemoryProfiles()
	store.put(auth.Profile{ID: "acc-1", Name: "Arta", Role: auth.RoleAdmin})

	got, err := newTestResolver(store, newFakeClock(), nil).EnsureProfile(context.Background(), auth.Account{ID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, got.Role)
	assert.Equal(t, 0, store.Creates())
}

func TestSeedProfile(t *testing.T) {
	seed := auth.SeedProfile(auth.Account{ID: "a", Email: "e@knowly.al", Metadata: map[string]any{auth.MetaRole: "owner"}}, baseTime)
	assert.Equal(t, auth.RoleStudent, seed.Role)
	assert.Equal(t, "e", seed.Name)
	assert.Equal(t, baseTime, seed.UpdatedAt)
}

func TestFetchOutcomeString(t *testing.T) {
	assert.NotEqual(t, auth.FetchFound.String(), auth.FetchNotFound.String())
	assert.Equal(t, auth.FetchNotFound, auth.ProfileFound(nil).Outcome)
	assert.Equal(t, auth.FetchFound, auth.ProfileFound(&auth.Profile{ID: "a"}).Outcome)
	assert.ErrorIs(t, auth.ProfileMissing().Err, auth.ErrProfileNotFound)
}
