package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProfileResolver fetches the durable profile of an account, creating it
// on first use.
type ProfileResolver struct {
	store        ProfileStore
	retries      int
	backoff      BackoffFunc
	clock        Clock
	logger       Logger
	activitySink ActivitySink
}

// ResolverOption customizes a ProfileResolver.
type ResolverOption func(*ProfileResolver)

// WithResolverRetries sets how many times a transient fetch failure is
// retried.
func WithResolverRetries(retries int) ResolverOption {
	return func(r *ProfileResolver) {
		if retries >= 0 {
			r.retries = retries
		}
	}
}

// WithResolverBackoff overrides the delay between fetch attempts.
func WithResolverBackoff(backoff BackoffFunc) ResolverOption {
	return func(r *ProfileResolver) {
		if backoff != nil {
			r.backoff = backoff
		}
	}
}

// WithResolverClock injects a custom clock (useful for tests).
func WithResolverClock(clock Clock) ResolverOption {
	return func(r *ProfileResolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithResolverLogger overrides the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *ProfileResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverActivitySink sets the sink receiving profile.created events.
func WithResolverActivitySink(sink ActivitySink) ResolverOption {
	return func(r *ProfileResolver) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// NewProfileResolver retries transient failures 3 times waiting 1s, 2s
// and 3s unless configured otherwise.
func NewProfileResolver(store ProfileStore, opts ...ResolverOption) *ProfileResolver {
	r := &ProfileResolver{
		store:        store,
		retries:      3,
		backoff:      LinearBackoff(time.Second),
		clock:        SystemClock,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve returns the profile for account. It fails with
// ErrProfileFetchFailed when the store keeps failing and with
// ErrProfileCreationFailed when a missing profile cannot be created.
func (r *ProfileResolver) Resolve(ctx context.Context, account Account) (*Profile, error) {
	if account.ID == "" {
		return nil, joinKind(ErrProfileFetchFailed, errors.New("account id is empty"))
	}

	var profile *Profile
	policy := retryPolicy{retries: r.retries, backoff: r.backoff, clock: r.clock}

	err := policy.run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		res := r.store.FetchProfile(ctx, account.ID)

		switch res.Outcome {
		case FetchFound:
			if res.Profile == nil {
				return false, errors.New("store reported a found profile without a row")
			}
			profile = res.Profile
			return false, nil

		case FetchNotFound:
			created, err := r.create(ctx, account)
			if err != nil {
				return false, err
			}
			profile = created
			return false, nil

		case FetchTransient:
			r.logger.Warn("profile fetch attempt %d for %s failed: %v", attempt+1, account.ID, res.Err)
			return true, storeCause(res.Err)

		case FetchFatal:
			r.logger.Error("profile fetch for %s failed: %v", account.ID, res.Err)
			return false, storeCause(res.Err)

		default:
			return false, fmt.Errorf("unknown profile fetch outcome %s", res.Outcome)
		}
	})

	if err != nil {
		if errors.Is(err, ErrProfileCreationFailed) || errors.Is(err, ErrProfileFetchFailed) {
			return nil, err
		}
		return nil, joinKind(ErrProfileFetchFailed, err)
	}

	return profile, nil
}

// EnsureProfile runs the lazy creation path: it returns the existing row or
// inserts one seeded from the account metadata.
func (r *ProfileResolver) EnsureProfile(ctx context.Context, account Account) (*Profile, error) {
	if account.ID == "" {
		return nil, joinKind(ErrProfileCreationFailed, errors.New("account id is empty"))
	}
	return r.create(ctx, account)
}

func (r *ProfileResolver) create(ctx context.Context, account Account) (*Profile, error) {
	// a concurrent resolver may have created the row since our first read
	if existing := r.store.FetchProfile(ctx, account.ID); existing.Outcome == FetchFound && existing.Profile != nil {
		return existing.Profile, nil
	}

	seed := SeedProfile(account, r.clock.Now())

	err := r.store.CreateProfile(ctx, seed)
	switch {
	case err == nil:
		r.logger.Info("created profile for %s with role %s", account.ID, seed.Role)
		recordActivity(ctx, r.activitySink, r.logger, r.clock, ActivityEvent{
			EventType: ActivityEventProfileCreated,
			UserID:    account.ID,
			Metadata: map[string]any{
				"name": seed.Name,
				"role": string(seed.Role),
			},
		})
	case errors.Is(err, ErrProfileExists):
		r.logger.Debug("profile for %s was created concurrently", account.ID)
	default:
		return nil, joinKind(ErrProfileCreationFailed, err)
	}

	res := r.store.FetchProfile(ctx, account.ID)
	if res.Outcome != FetchFound || res.Profile == nil {
		cause := res.Err
		if cause == nil {
			cause = ErrProfileNotFound
		}
		return nil, joinKind(ErrProfileFetchFailed, cause)
	}

	return res.Profile, nil
}

// SeedProfile builds the row inserted for an account without a profile.
// The role defaults to student when the metadata role is missing or invalid.
func SeedProfile(account Account, now time.Time) *Profile {
	role, ok := ParseRole(account.MetadataString(MetaRole))
	if !ok {
		role = RoleStudent
	}

	return &Profile{
		ID:        account.ID,
		Name:      displayNameFromAccount(account),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func storeCause(err error) error {
	if err == nil {
		return errors.New("profile store failed without an error")
	}
	return err
}
