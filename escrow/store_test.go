package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	acc := &Account{ID: "a1", ContractID: "c1", Status: StatusPending, TotalAmount: dec("10")}
	require.NoError(t, store.Insert(ctx, acc))

	acc.ContractID = "mutated"
	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "c1", got.ContractID, "stored copy must not alias the caller's value")

	require.ErrorIs(t, store.Insert(ctx, &Account{ID: "a1", ContractID: "c9"}), ErrConflict)
	require.ErrorIs(t, store.Insert(ctx, &Account{ID: "a2", ContractID: "c1"}), ErrConflict)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Account{ID: "a1", ContractID: "c1", Status: StatusPending}))

	updated, err := store.Update(ctx, "a1", func(a *Account) error {
		a.Status = StatusFunded
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.Version)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "a1", func(a *Account) error {
		a.Status = StatusFrozen
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StatusFunded, got.Status, "failed mutation must not be written")
	require.Equal(t, int64(1), got.Version)

	_, err = store.Update(ctx, "missing", func(*Account) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReleasesContractOnTerminalStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Account{ID: "a1", ContractID: "c1", Status: StatusFunded}))
	_, err := store.Update(ctx, "a1", func(a *Account) error {
		a.Status = StatusRefunded
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, &Account{ID: "a2", ContractID: "c1", Status: StatusPending}))
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Insert(ctx, &Account{ID: "a"}), context.Canceled)
	_, err := store.Get(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
}
