package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

var migrationDialects = map[string]string{
	DialectSQLite:   "sqlite3",
	DialectPostgres: "pgx",
}

// gooseUpContext is a seam for tests
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations for dialect to db
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	gooseDialect, ok := migrationDialects[dialect]
	if !ok {
		return errors.New(fmt.Sprintf("unsupported migration dialect %q", dialect), errors.CategoryBadInput).
			WithMetadata(map[string]any{"dialect": dialect})
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to set migration dialect")
	}

	if err := gooseUpContext(ctx, db, path.Join("data/sql/migrations", dialect)); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}

	return nil
}
