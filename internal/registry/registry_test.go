package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"options_ledger/internal/option"
	apperrors "options_ledger/pkg/errors"
	"options_ledger/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newOpt(writer string) *option.Option {
	return option.New(writer, option.Terms{
		Type:       option.TypeCall,
		Amount:     decimal.NewFromInt(1),
		Strike:     decimal.NewFromInt(2000),
		PremiumDue: decimal.NewFromInt(50),
		Expiration: t0.Add(7 * 24 * time.Hour),
	}, t0)
}

func TestRegistry_CreateAllocatesSequentialIDs(t *testing.T) {
	r := New(nil, logging.NewNop())
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		id, err := r.Create(ctx, newOpt("alice"))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Equal(t, []uint64{0, 1, 2}, r.Positions("alice"))
	assert.Equal(t, 3, r.Count())
	assert.True(t, r.Exists(2))
	assert.False(t, r.Exists(3))
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := New(nil, logging.NewNop())
	_, err := r.Get(0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := New(nil, logging.NewNop())
	id, err := r.Create(context.Background(), newOpt("alice"))
	require.NoError(t, err)

	got, err := r.Get(id)
	require.NoError(t, err)
	got.Buyer = "mallory"
	got.State = option.StateBought

	again, err := r.Get(id)
	require.NoError(t, err)
	assert.Empty(t, again.Buyer)
	assert.Equal(t, option.StateOpen, again.State)
}

func TestRegistry_CreateRejectsEmptyWriter(t *testing.T) {
	r := New(nil, logging.NewNop())
	_, err := r.Create(context.Background(), newOpt(""))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CommitAppendsPosition(t *testing.T) {
	r := New(nil, logging.NewNop())
	ctx := context.Background()
	id, err := r.Create(ctx, newOpt("alice"))
	require.NoError(t, err)

	opt, _ := r.Get(id)
	opt.Buyer = "bob"
	opt.State = option.StateBought
	require.NoError(t, r.Commit(ctx, opt, "bob"))

	assert.Equal(t, []uint64{id}, r.Positions("bob"))
	stored, _ := r.Get(id)
	assert.Equal(t, "bob", stored.Buyer)
	assert.Equal(t, int64(1), r.StateCounts()["BOUGHT"])
}

func TestRegistry_CommitUnknownID(t *testing.T) {
	r := New(nil, logging.NewNop())
	opt := newOpt("alice")
	opt.ID = 9
	assert.ErrorIs(t, r.Commit(context.Background(), opt, ""), apperrors.ErrNotFound)
}

func TestRegistry_StoreFailureLeavesMemoryUntouched(t *testing.T) {
	store := NewMemoryStore()
	r := New(store, logging.NewNop())
	ctx := context.Background()

	id, err := r.Create(ctx, newOpt("alice"))
	require.NoError(t, err)

	store.FailNext = errors.New("disk full")
	opt, _ := r.Get(id)
	opt.Buyer = "bob"
	opt.State = option.StateBought
	require.Error(t, r.Commit(ctx, opt, "bob"))

	stored, _ := r.Get(id)
	assert.Equal(t, option.StateOpen, stored.State)
	assert.Empty(t, r.Positions("bob"))

	store.FailNext = errors.New("disk full")
	_, err = r.Create(ctx, newOpt("carol"))
	require.Error(t, err)
	assert.Equal(t, 1, r.Count(), "failed create must not consume an id")
}

func TestRegistry_RestoreFromSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	r := New(store, logging.NewNop())

	id0, err := r.Create(ctx, newOpt("alice"))
	require.NoError(t, err)
	_, err = r.Create(ctx, newOpt("carol"))
	require.NoError(t, err)

	opt, _ := r.Get(id0)
	opt.Buyer = "bob"
	opt.State = option.StateBought
	require.NoError(t, r.Commit(ctx, opt, "bob"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	restored := New(reopened, logging.NewNop())
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, 2, restored.Count())
	got, err := restored.Get(id0)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Buyer)
	assert.Equal(t, option.StateBought, got.State)
	assert.True(t, got.Strike.Equal(decimal.NewFromInt(2000)))
	assert.True(t, got.Expiration.Equal(t0.Add(7*24*time.Hour)))
	assert.Equal(t, []uint64{0}, restored.Positions("bob"))
	assert.Equal(t, []uint64{1}, restored.Positions("carol"))

	id2, err := restored.Create(ctx, newOpt("alice"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2, "ids continue after restore")
	assert.Equal(t, []uint64{0, 2}, restored.Positions("alice"))
}
