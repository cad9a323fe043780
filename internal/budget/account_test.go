package budget

import (
	"context"
	"testing"

	"github.com/articler/docindex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountStores(t *testing.T) map[string]AccountStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), storage.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlite, err := NewSQLiteAccountStore(context.Background(), db, DefaultBalances())
	require.NoError(t, err)

	return map[string]AccountStore{
		"memory": NewMemoryAccountStore(DefaultBalances()),
		"sqlite": sqlite,
	}
}

func TestAccountStore_Lifecycle(t *testing.T) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "alice")
			assert.ErrorIs(t, err, ErrAccountNotFound)

			a, err := store.Create(ctx, "alice", TierTrial)
			require.NoError(t, err)
			assert.Equal(t, TierTrial, a.Tier)
			assert.Equal(t, int64(1000), a.Balance)

			_, err = store.Create(ctx, "alice", TierPaid)
			assert.ErrorIs(t, err, ErrAccountExists)

			a, err = store.Debit(ctx, "alice", 250)
			require.NoError(t, err)
			assert.Equal(t, int64(750), a.Balance)

			a, err = store.SetTier(ctx, "alice", TierPaid)
			require.NoError(t, err)
			assert.Equal(t, TierPaid, a.Tier)
			assert.Equal(t, int64(100000), a.Balance)

			a, err = store.Debit(ctx, "alice", 200000)
			require.NoError(t, err)
			assert.Zero(t, a.Balance)

			got, err := store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, TierPaid, got.Tier)
			assert.Zero(t, got.Balance)
			require.NoError(t, store.Close())
		})
	}
}

func TestAccountStore_Tiers(t *testing.T) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			free, err := store.Create(ctx, "free-user", TierFree)
			require.NoError(t, err)
			assert.Zero(t, free.Balance)

			super, err := store.Create(ctx, "super-user", TierSuper)
			require.NoError(t, err)
			assert.Equal(t, Unlimited, super.Balance)

			super, err = store.Debit(ctx, "super-user", 10)
			require.NoError(t, err)
			assert.Equal(t, Unlimited, super.Balance)

			down, err := store.SetTier(ctx, "super-user", TierTrial)
			require.NoError(t, err)
			assert.Equal(t, int64(1000), down.Balance)

			_, err = store.Create(ctx, "", TierFree)
			assert.ErrorIs(t, err, ErrInvalidOperation)
			_, err = store.Create(ctx, "x", TierUnknown)
			assert.ErrorIs(t, err, ErrInvalidOperation)
			_, err = store.SetTier(ctx, "free-user", TierUnknown)
			assert.ErrorIs(t, err, ErrInvalidOperation)
			_, err = store.SetTier(ctx, "ghost", TierPaid)
			assert.ErrorIs(t, err, ErrAccountNotFound)
			_, err = store.Debit(ctx, "ghost", 1)
			assert.ErrorIs(t, err, ErrAccountNotFound)
		})
	}
}

func TestBalances_Initial(t *testing.T) {
	b := Balances{Free: 5, Trial: 50, Paid: 500}
	assert.Equal(t, int64(5), b.Initial(TierFree))
	assert.Equal(t, int64(50), b.Initial(TierTrial))
	assert.Equal(t, int64(500), b.Initial(TierPaid))
	assert.Equal(t, Unlimited, b.Initial(TierSuper))
	assert.Zero(t, b.Initial(TierUnknown))
}
