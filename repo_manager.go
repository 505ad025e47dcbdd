package accounts

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	PasswordResets() PasswordResets
}

// PasswordResets is the store for password reset requests
type PasswordResets interface {
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*PasswordReset, error)
	CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error)
	MarkResetTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) error
}

type passwordResets struct {
	repo repository.Repository[*PasswordReset]
	now  Clock
}

// NewPasswordResetsRepository returns a PasswordResets store backed by db
func NewPasswordResetsRepository(db *bun.DB) PasswordResets {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return &passwordResets{
		repo: repository.NewRepository(db, handlers),
		now:  defaultClock,
	}
}

func (p *passwordResets) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*PasswordReset, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id})
	}

	record := &PasswordReset{}
	if err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", rid).Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id})
		}
		return nil, err
	}

	return record, nil
}

func (p *passwordResets) CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error) {
	if reset.ID == uuid.Nil {
		reset.ID = uuid.New()
	}
	now := p.now()
	if reset.CreatedAt == nil {
		reset.CreatedAt = &now
	}
	if reset.UpdatedAt == nil {
		reset.UpdatedAt = &now
	}
	return p.repo.CreateTx(ctx, tx, reset)
}

func (p *passwordResets) MarkResetTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) error {
	res, err := tx.NewUpdate().
		Model(reset).
		Column("status", "reseted_at", "updated_at").
		WherePK().
		Where("status = ?", ResetRequestedStatus).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": reset.ID.String()})
	}

	return nil
}

type mngr struct {
	db             *bun.DB
	users          Users
	passwordResets PasswordResets
}

// NewRepositoryManager wires the stores for db
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		users:          NewUsersRepository(db),
		passwordResets: NewPasswordResetsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
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

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) PasswordResets() PasswordResets {
	return m.passwordResets
}
