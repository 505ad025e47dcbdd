package accounts

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubGooseUp(t *testing.T, err error) *[]string {
	t.Helper()

	var dirs []string
	original := gooseUpContext
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		dirs = append(dirs, dir)
		return err
	}
	t.Cleanup(func() { gooseUpContext = original })

	return &dirs
}

func TestMigrateUsesDialectDirectory(t *testing.T) {
	dirs := stubGooseUp(t, nil)

	require.NoError(t, Migrate(context.Background(), nil, DialectPostgres))
	require.NoError(t, Migrate(context.Background(), nil, DialectSQLite))

	assert.Equal(t, []string{
		"data/sql/migrations/postgres",
		"data/sql/migrations/sqlite",
	}, *dirs)
}

func TestMigrateRejectsUnknownDialect(t *testing.T) {
	dirs := stubGooseUp(t, nil)

	err := Migrate(context.Background(), nil, "mysql")
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, errors.CategoryBadInput, richErr.Category)
	assert.Equal(t, "mysql", richErr.Metadata["dialect"])
	assert.Empty(t, *dirs)
}

func TestMigrateWrapsGooseFailure(t *testing.T) {
	stubGooseUp(t, stderrors.New("syntax error"))

	err := Migrate(context.Background(), nil, DialectSQLite)
	require.Error(t, err)
	assert.ErrorContains(t, err, "syntax error")
}
