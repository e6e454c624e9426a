package watchlists

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE watchlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, name)
		);
		CREATE TABLE watchlist_stocks (
			watchlist_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (watchlist_id, symbol)
		);
	`)
	require.NoError(t, err)

	return db
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())

	created, err := repo.Create(1, "Tech")
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := repo.Get(1, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Tech", got.Name)
	assert.Empty(t, got.Symbols)
}

func TestRepository_AddAndRemoveSymbols(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())

	wl, err := repo.Create(1, "Tech")
	require.NoError(t, err)

	require.NoError(t, repo.AddSymbol(1, wl.ID, "INFY"))
	require.NoError(t, repo.AddSymbol(1, wl.ID, "TCS"))
	// Duplicate add is a no-op
	require.NoError(t, repo.AddSymbol(1, wl.ID, "INFY"))

	got, err := repo.Get(1, wl.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"INFY", "TCS"}, got.Symbols)

	require.NoError(t, repo.RemoveSymbol(1, wl.ID, "INFY"))
	got, err = repo.Get(1, wl.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"TCS"}, got.Symbols)
}

func TestRepository_OwnershipScoped(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())

	wl, err := repo.Create(1, "Tech")
	require.NoError(t, err)

	// Another user cannot see or modify it
	got, err := repo.Get(2, wl.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, repo.AddSymbol(2, wl.ID, "INFY"))
	assert.Error(t, repo.Delete(2, wl.ID))
}

func TestRepository_Delete(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())

	wl, err := repo.Create(1, "Tech")
	require.NoError(t, err)
	require.NoError(t, repo.AddSymbol(1, wl.ID, "INFY"))

	require.NoError(t, repo.Delete(1, wl.ID))

	got, err := repo.Get(1, wl.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	lists, err := repo.ListByUser(1)
	require.NoError(t, err)
	assert.Empty(t, lists)
}
