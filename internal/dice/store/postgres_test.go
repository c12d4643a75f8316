package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/shared/db"
)

// Roda só com um Postgres real: DICE_TEST_POSTGRES_DSN=postgres://...
func newPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("DICE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DICE_TEST_POSTGRES_DSN not set")
	}
	conn, err := db.ConnectPostgres(context.Background(), dsn)
	require.NoError(t, err)
	p := NewPostgres(conn)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.Migrate(context.Background()))
	return p
}

func TestPostgresTx(t *testing.T) {
	ctx := context.Background()
	p := newPostgres(t)

	tx, err := p.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback() // nada fica no banco

	first, err := tx.Identity().Next(ctx)
	require.NoError(t, err)
	second, err := tx.Identity().Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	bal, err := tx.Balances().Add(ctx, "pgtest", dice.NewAsset(1000, usd), "issue")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Amount)
	bal, err = tx.Balances().Get(ctx, "pgtest", usd)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Amount)

	_, ok, err := tx.Pool().Get(ctx, dice.Symbol{Code: "ZZTEST", Precision: 3})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Pool().Put(ctx, dice.PoolLock{Symbol: usd, Locked: dice.NewAsset(250, usd)}))
	l, ok, err := tx.Pool().Get(ctx, usd)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250), l.Locked.Amount)

	b := dice.Bet{
		ID:           second,
		Player:       "pgtest",
		Amount:       dice.NewAsset(100, usd),
		RollUnder:    50,
		SeedHash:     dice.Sha256("a"),
		UserSeedHash: dice.Sha256("b"),
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, tx.Bets().Insert(ctx, b))
	got, ok, err := tx.Bets().Get(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.SeedHash, got.SeedHash)
	assert.Equal(t, b.Amount, got.Amount)

	list, err := tx.Bets().ListByPlayer(ctx, "pgtest")
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, tx.Outbox().Enqueue(ctx, Message{Topic: "t", Key: "k", Payload: []byte(`{"a":1}`)}))

	require.NoError(t, tx.Bets().Delete(ctx, b.ID))
	assert.ErrorIs(t, tx.Bets().Delete(ctx, b.ID), dice.ErrNotFound)
}

func TestPostgresInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	p := newPostgres(t)

	tx, err := p.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Balances().Add(ctx, "pgtest-empty", dice.NewAsset(-1, usd), "withdraw")
	assert.ErrorIs(t, err, dice.ErrInsufficientFunds)
}

func TestPostgresPoolLockSerializes(t *testing.T) {
	ctx := context.Background()
	p := newPostgres(t)
	sym := dice.Symbol{Code: "ZZLOCK", Precision: 2}

	first, err := p.Begin(ctx)
	require.NoError(t, err)
	defer first.Rollback()
	require.NoError(t, first.Pool().Lock(ctx, sym))
	require.NoError(t, first.Pool().Lock(ctx, sym)) // reentrante

	acquired := make(chan error, 1)
	go func() {
		second, err := p.Begin(ctx)
		if err != nil {
			acquired <- err
			return
		}
		defer second.Rollback()
		acquired <- second.Pool().Lock(ctx, sym)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second transaction got the symbol lock while the first held it (err=%v)", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, first.Rollback())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("symbol lock not released after rollback")
	}
}
