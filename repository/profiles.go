package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-knowly-auth"
)

// ProfileRepository implements auth.ProfileStore on top of a
// repository.Repository for the profiles table.
type ProfileRepository struct {
	repository.Repository[*ProfileModel]
	db  bun.IDB
	now func() time.Time
}

var _ auth.ProfileStore = (*ProfileRepository)(nil)

func newProfileModels(db *bun.DB) repository.Repository[*ProfileModel] {
	return repository.NewRepository[*ProfileModel](db, repository.ModelHandlers[*ProfileModel]{
		NewRecord: func() *ProfileModel { return &ProfileModel{} },
		GetID: func(m *ProfileModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return parseID(m.ID)
		},
		SetID: func(m *ProfileModel, id uuid.UUID) {
			if m != nil && m.ID == "" {
				m.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

// NewProfileRepository creates a new repository.
func NewProfileRepository(db *bun.DB) *ProfileRepository {
	return &ProfileRepository{
		Repository: newProfileModels(db),
		db:         db,
		now:        time.Now,
	}
}

// WithTx returns a copy bound to tx.
func (r *ProfileRepository) WithTx(tx bun.Tx) *ProfileRepository {
	return &ProfileRepository{Repository: r.Repository, db: tx, now: r.now}
}

// FetchProfile implements auth.ProfileStore.
func (r *ProfileRepository) FetchProfile(ctx context.Context, id string) auth.FetchResult {
	model, err := r.Repository.GetByIdentifierTx(ctx, r.db, id)
	if err != nil {
		return classifyFetchError(err)
	}
	return auth.ProfileFound(model.toProfile())
}

// CreateProfile implements auth.ProfileStore. An existing row with the same
// id is reported as auth.ErrProfileExists.
func (r *ProfileRepository) CreateProfile(ctx context.Context, p *auth.Profile) error {
	if p == nil || p.ID == "" {
		return errors.New("profile id is required")
	}

	model := profileModelFrom(p)
	now := r.now()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}
	if model.Role == "" {
		model.Role = string(auth.RoleStudent)
	}

	if _, err := r.Repository.CreateTx(ctx, r.db, model); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrProfileExists
		}
		return err
	}

	return nil
}

// UpdateProfile implements auth.ProfileStore. Fields left nil in patch are
// kept.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, id string, patch auth.ProfilePatch) (*auth.Profile, error) {
	if existing := r.FetchProfile(ctx, id); existing.Outcome != auth.FetchFound {
		return nil, existing.Err
	}

	record := &ProfileModel{ID: id, UpdatedAt: r.now()}
	if patch.Name != nil {
		record.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Role != nil {
		record.Role = string(*patch.Role)
	}

	_, err := r.Repository.UpdateTx(ctx, r.db, record,
		repository.UpdateByID(id),
		repository.UpdateSkipZeroValues(),
	)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, err
	}

	fetched := r.FetchProfile(ctx, id)
	if fetched.Outcome != auth.FetchFound {
		return nil, fetched.Err
	}
	return fetched.Profile, nil
}

// FindProfileByName implements auth.ProfileStore. The match ignores case.
func (r *ProfileRepository) FindProfileByName(ctx context.Context, name string) (*auth.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	record := &ProfileModel{}
	err := r.db.NewSelect().
		Model(record).
		Apply(nameEquals(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return record.toProfile(), nil
}

// nameEquals matches display names ignoring case.
func nameEquals(name string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("lower(?TableAlias.name) = lower(?)", name)
	}
}
