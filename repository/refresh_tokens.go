package repository

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshTokenRepository stores hashed refresh tokens keyed by hash.
type RefreshTokenRepository struct {
	repository.Repository[*RefreshTokenModel]
	db bun.IDB
}

func newRefreshTokenModels(db *bun.DB) repository.Repository[*RefreshTokenModel] {
	return repository.NewRepository[*RefreshTokenModel](db, repository.ModelHandlers[*RefreshTokenModel]{
		NewRecord: func() *RefreshTokenModel { return &RefreshTokenModel{} },
		GetID: func(m *RefreshTokenModel) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(m *RefreshTokenModel, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})
}

// NewRefreshTokenRepository creates a new repository.
func NewRefreshTokenRepository(db *bun.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		Repository: newRefreshTokenModels(db),
		db:         db,
	}
}

// WithTx returns a copy bound to tx.
func (r *RefreshTokenRepository) WithTx(tx bun.Tx) *RefreshTokenRepository {
	return &RefreshTokenRepository{Repository: r.Repository, db: tx}
}

// Store persists a newly issued token.
func (r *RefreshTokenRepository) Store(ctx context.Context, token *RefreshTokenModel) error {
	_, err := r.Repository.CreateTx(ctx, r.db, token)
	return err
}

// Lookup returns ErrRefreshTokenNotFound for unknown hashes.
func (r *RefreshTokenRepository) Lookup(ctx context.Context, hash string) (*RefreshTokenModel, error) {
	model, err := r.Repository.GetByIdentifierTx(ctx, r.db, hash)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return model, nil
}

// Revoke marks a single token revoked. It reports whether a live token was
// revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*RefreshTokenModel)(nil)).
		Set("revoked_at = ?", at).
		Where("token_hash = ?", hash).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RevokeAccount revokes every live token of the account.
func (r *RefreshTokenRepository) RevokeAccount(ctx context.Context, accountID string, at time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*RefreshTokenModel)(nil)).
		Set("revoked_at = ?", at).
		Where("account_id = ?", accountID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
