package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes all repositories sharing one database handle.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Profiles() *ProfileRepository
	Accounts() *AccountRepository
	RefreshTokens() *RefreshTokenRepository
}

type mngr struct {
	db            *bun.DB
	profiles      *ProfileRepository
	accounts      *AccountRepository
	refreshTokens *RefreshTokenRepository
}

func NewManager(db *bun.DB) Manager {
	return &mngr{
		db:            db,
		profiles:      NewProfileRepository(db),
		accounts:      NewAccountRepository(db),
		refreshTokens: NewRefreshTokenRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Profiles() *ProfileRepository {
	return m.profiles
}

func (m mngr) Accounts() *AccountRepository {
	return m.accounts
}

func (m mngr) RefreshTokens() *RefreshTokenRepository {
	return m.refreshTokens
}
