package repository

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountRepository stores local auth accounts. Accounts are identified by
// their normalized e-mail.
type AccountRepository struct {
	repository.Repository[*AccountModel]
	db bun.IDB
}

func newAccountModels(db *bun.DB) repository.Repository[*AccountModel] {
	return repository.NewRepository[*AccountModel](db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel { return &AccountModel{} },
		GetID: func(m *AccountModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return parseID(m.ID)
		},
		SetID: func(m *AccountModel, id uuid.UUID) {
			if m != nil && m.ID == "" {
				m.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

// NewAccountRepository creates a new repository.
func NewAccountRepository(db *bun.DB) *AccountRepository {
	return &AccountRepository{
		Repository: newAccountModels(db),
		db:         db,
	}
}

// WithTx returns a copy bound to tx.
func (r *AccountRepository) WithTx(tx bun.Tx) *AccountRepository {
	return &AccountRepository{Repository: r.Repository, db: tx}
}

// Register inserts the account, returning ErrEmailTaken when the e-mail is
// in use.
func (r *AccountRepository) Register(ctx context.Context, account *AccountModel) error {
	account.Email = NormalizeEmail(account.Email)
	if account.Metadata == nil {
		account.Metadata = map[string]any{}
	}

	if _, err := r.Repository.CreateTx(ctx, r.db, account); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetByID returns ErrAccountNotFound when no row matches.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*AccountModel, error) {
	model := new(AccountModel)
	err := r.db.NewSelect().
		Model(model).
		Apply(accountIDEquals(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return model, nil
}

// GetByEmail returns ErrAccountNotFound when no row matches.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*AccountModel, error) {
	model, err := r.Repository.GetByIdentifierTx(ctx, r.db, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return model, nil
}

// ConfirmEmail stamps email_confirmed_at when it is not set yet. The first
// confirmation time is kept.
func (r *AccountRepository) ConfirmEmail(ctx context.Context, id string, at time.Time) (*AccountModel, error) {
	model, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.EmailConfirmedAt != nil {
		return model, nil
	}

	confirmed := at
	if err := r.update(ctx, &AccountModel{ID: id, EmailConfirmedAt: &confirmed, UpdatedAt: at}); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// TouchSignIn records a successful sign in.
func (r *AccountRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, &AccountModel{ID: id, LastSignInAt: &at})
}

func (r *AccountRepository) update(ctx context.Context, record *AccountModel) error {
	_, err := r.Repository.UpdateTx(ctx, r.db, record,
		repository.UpdateByID(record.ID),
		repository.UpdateSkipZeroValues(),
	)
	if err != nil && isNotFound(err) {
		return ErrAccountNotFound
	}
	return err
}

func accountIDEquals(id string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	}
}

// NormalizeEmail lowercases and trims an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
