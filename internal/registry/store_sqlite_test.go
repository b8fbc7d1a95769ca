package registry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"options_ledger/internal/option"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	opt := newOpt("alice")
	require.NoError(t, store.CommitOption(ctx, opt, "alice"))

	opt.Buyer = "bob"
	opt.State = option.StateBought
	require.NoError(t, store.CommitOption(ctx, opt, "bob"))

	second := newOpt("alice")
	second.ID = 1
	require.NoError(t, store.CommitOption(ctx, second, "alice"))

	opts, err := store.LoadOptions(ctx)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "bob", opts[0].Buyer)
	assert.Equal(t, option.StateBought, opts[0].State)
	assert.True(t, opts[0].PremiumDue.Equal(opt.PremiumDue))

	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, positions["alice"])
	assert.Equal(t, []uint64{0}, positions["bob"])

	assert.NoError(t, store.Ping(ctx))
}

func TestSQLiteStore_DetectsCorruption(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.CommitOption(ctx, newOpt("alice"), "alice"))

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`UPDATE options SET data = replace(data, '"2000"', '"1"') WHERE id = 0`)
	require.NoError(t, err)

	_, err = store.LoadOptions(ctx)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestSQLiteStore_CommitWithoutPosition(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	opt := newOpt("alice")
	opt.ID = 5
	require.NoError(t, store.CommitOption(ctx, opt, ""))

	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSQLiteStore_CanceledContextRollsBack(t *testing.T) {
	store, _ := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.CommitOption(ctx, newOpt("alice"), "alice"))

	opts, err := store.LoadOptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opts)
}
