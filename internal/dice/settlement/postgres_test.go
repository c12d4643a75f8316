package settlement

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/auth"
	"github.com/radieske/dice-settlement/internal/dice/store"
	"github.com/radieske/dice-settlement/internal/shared/db"
)

// Roda só com um Postgres real: DICE_TEST_POSTGRES_DSN=postgres://...
func newPostgresService(t *testing.T) (*Service, *store.Postgres) {
	t.Helper()
	dsn := os.Getenv("DICE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DICE_TEST_POSTGRES_DSN not set")
	}
	conn, err := db.ConnectPostgres(context.Background(), dsn)
	require.NoError(t, err)
	st := store.NewPostgres(conn)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	cfg := testConfig()
	cfg.TopicReceipt, cfg.TopicResult, cfg.TopicTransfer = "", "", ""
	svc := NewService(zap.NewNop(), st, auth.NewScopeAuthenticator("dice"), cfg, nil, Hooks{})
	return svc, st
}

// símbolo novo a cada execução: o banco de teste é compartilhado
func freshSymbol() dice.Symbol {
	n := time.Now().UnixNano()
	code := []byte("Z")
	for i := 0; i < 6; i++ {
		code = append(code, byte('A'+n%26))
		n /= 26
	}
	return dice.Symbol{Code: string(code), Precision: 2}
}

// Um pagamento ainda não confirmado tira saldo do banco; o place que chega
// nesse meio tempo precisa validar contra o saldo depois do pagamento.
func TestPostgresPlaceWaitsForPayoutInFlight(t *testing.T) {
	ctx := context.Background()
	svc, st := newPostgresService(t)
	sym := freshSymbol()
	player := "pg" + sym.Code

	require.NoError(t, store.WithTx(ctx, st, func(tx store.Tx) error {
		if _, err := tx.Balances().Add(ctx, "dicebank", dice.NewAsset(30000, sym), "fund"); err != nil {
			return err
		}
		_, err := tx.Balances().Add(ctx, player, dice.NewAsset(100000, sym), "fund")
		return err
	}))

	// mesmo caminho do resolve vencedor: trava o símbolo e paga
	payout, err := st.Begin(ctx)
	require.NoError(t, err)
	defer payout.Rollback()
	require.NoError(t, payout.Pool().Lock(ctx, sym))
	_, err = payout.Balances().Add(ctx, "dicebank", dice.NewAsset(-15000, sym), "winner")
	require.NoError(t, err)

	placed := make(chan error, 1)
	go func() {
		seed := dice.Sha256("pg seed")
		// aposta de 100.00 com prêmio de 200.00: cabe em 300.00, não em 150.00
		_, err := svc.Place(as(player), placeReq(player, fmt.Sprintf("100.00 %s", sym.Code), 50, seed))
		placed <- err
	}()

	select {
	case err := <-placed:
		t.Fatalf("place finished while a payout held the symbol (err=%v)", err)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, payout.Commit())
	select {
	case err := <-placed:
		assert.ErrorIs(t, err, dice.ErrInsufficientPool)
	case <-time.After(5 * time.Second):
		t.Fatal("place did not finish after payout commit")
	}

	state, err := svc.Pool(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), state.Balance.Amount)
	assert.True(t, state.Locked.IsZero())
}
