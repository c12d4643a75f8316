package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/auth"
	"github.com/radieske/dice-settlement/internal/dice/roll"
	"github.com/radieske/dice-settlement/internal/dice/store"
	"github.com/radieske/dice-settlement/internal/dice/wager"
	"github.com/radieske/dice-settlement/pkg/contracts/events"
)

var (
	usd       = dice.Symbol{Code: "USD", Precision: 2}
	userSeed  = dice.Sha256("user seed")
	fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	svc       *Service
	st        *store.Memory
	committed int
	rejected  []string
}

func testConfig() Config {
	return Config{
		BankAccount:      "dicebank",
		HouseAccount:     "dice",
		TokenAccount:     "ion.token",
		NativeCode:       "ION",
		IssuerCommission: wager.Rate{Num: 0, Den: 1},
		SystemCommission: wager.Rate{Num: 1, Den: 1},
		VerifySeed:       true,
		TopicReceipt:     "receipt",
		TopicResult:      "result",
		TopicTransfer:    "transfer",
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{st: store.NewMemory()}
	h.svc = NewService(zap.NewNop(), h.st, auth.NewScopeAuthenticator("dice"), cfg,
		func() time.Time { return fixedTime },
		Hooks{
			OnCommitted: func() { h.committed++ },
			OnRejected:  func(op string, err error) { h.rejected = append(h.rejected, op) },
		})
	return h
}

func (h *harness) fund(t *testing.T, account, qty string) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), h.st, func(tx store.Tx) error {
		_, err := tx.Balances().Add(context.Background(), account, dice.MustParseAsset(qty), "fund")
		return err
	}))
}

func (h *harness) balance(t *testing.T, account string) int64 {
	t.Helper()
	bal, err := h.svc.Balance(context.Background(), account, usd)
	require.NoError(t, err)
	return bal.Amount
}

func (h *harness) pool(t *testing.T) PoolState {
	t.Helper()
	st, err := h.svc.Pool(context.Background(), usd)
	require.NoError(t, err)
	return st
}

func as(account string) context.Context {
	return auth.WithCaller(context.Background(), auth.Caller{Account: account, Scopes: []string{auth.ScopeActive, "dice"}})
}

// seedFor procura uma semente cujo resultado satisfaça ok
func seedFor(t *testing.T, ok func(uint8) bool) (dice.Checksum256, uint8) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		s := dice.Sha256(fmt.Sprint("seed-", i))
		if r := roll.Roll(s, userSeed); ok(r) {
			return s, r
		}
	}
	t.Fatal("no seed found")
	return dice.Checksum256{}, 0
}

func placeReq(player, qty string, r uint8, seed dice.Checksum256) PlaceRequest {
	return PlaceRequest{
		Player:       player,
		Quantity:     qty,
		RollUnder:    r,
		SeedHash:     roll.Commit(seed),
		UserSeedHash: userSeed,
	}
}

func TestPlaceAndResolveWin(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")

	seed, rolled := seedFor(t, func(r uint8) bool { return r >= 2 && r <= 95 })
	rollUnder := rolled + 1

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "10.00 USD", rollUnder, seed))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bet.ID)
	assert.Equal(t, fixedTime, bet.CreatedAt)
	assert.Equal(t, int64(1000), h.pool(t).Locked.Amount)
	assert.Equal(t, int64(9000), h.balance(t, "alice"))

	res, err := h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	require.NoError(t, err)
	assert.Equal(t, rolled, res.RandomRoll)
	assert.True(t, res.Won())

	payout, err := wager.Payout(rollUnder, dice.NewAsset(1000, usd))
	require.NoError(t, err)
	commission := wager.Commission(payout)
	assert.Equal(t, payout, res.Payout)

	assert.Equal(t, 9000+payout.Amount-commission.Amount, h.balance(t, "alice"))
	assert.Equal(t, commission.Amount, h.balance(t, "dice"))
	assert.Equal(t, 100000+1000-payout.Amount, h.balance(t, "dicebank"))

	p := h.pool(t)
	assert.True(t, p.Locked.IsZero())

	_, err = h.svc.Bet(context.Background(), bet.ID)
	assert.ErrorIs(t, err, dice.ErrNotFound)

	entries, err := h.st.Ledger(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "winner - bet id:1, player: alice", entries[len(entries)-1].Memo)
	entries, err = h.st.Ledger(context.Background(), "dice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "commission - bet id:1, player: alice", entries[0].Memo)
}

func TestPlaceAndResolveLoss(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")

	seed, rolled := seedFor(t, func(r uint8) bool { return r >= 2 })
	rollUnder := rolled
	if rollUnder > dice.MaxRollUnder {
		rollUnder = dice.MaxRollUnder
	}

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "10.00 USD", rollUnder, seed))
	require.NoError(t, err)

	res, err := h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	require.NoError(t, err)
	assert.False(t, res.Won())
	assert.True(t, res.Payout.IsZero())
	assert.Equal(t, usd, res.Payout.Symbol)

	assert.Equal(t, int64(9000), h.balance(t, "alice"))
	assert.Equal(t, int64(101000), h.balance(t, "dicebank"))
	assert.True(t, h.pool(t).Locked.IsZero())
}

func TestResolveTwiceNotFound(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.00 USD", 50, seed))
	require.NoError(t, err)

	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	require.NoError(t, err)
	before := h.pool(t)

	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	assert.ErrorIs(t, err, dice.ErrNotFound)
	assert.Equal(t, before, h.pool(t))
}

func TestResolveUnknownLeavesPoolUnchanged(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	_, err := h.svc.Place(as("alice"), placeReq("alice", "5.00 USD", 50, seed))
	require.NoError(t, err)
	before := h.pool(t)
	committed := h.committed

	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: 42, Seed: seed})
	require.ErrorIs(t, err, dice.ErrNotFound)
	assert.Contains(t, err.Error(), "bet id: 42")
	assert.Equal(t, before, h.pool(t))
	assert.Equal(t, committed, h.committed)
	assert.Equal(t, []string{"resolve"}, h.rejected)
}

func TestLocksAreConservative(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "10000.00 USD")
	h.fund(t, "alice", "1000.00 USD")

	var ids []uint64
	seeds := map[uint64]dice.Checksum256{}
	for i := 0; i < 20; i++ {
		seed := dice.Sha256(fmt.Sprint("conservative-", i))
		bet, err := h.svc.Place(as("alice"), placeReq("alice", "3.00 USD", uint8(2+i*4), seed))
		require.NoError(t, err)
		ids = append(ids, bet.ID)
		seeds[bet.ID] = seed
	}
	assert.Equal(t, int64(20*300), h.pool(t).Locked.Amount)

	for _, id := range ids {
		_, err := h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: id, Seed: seeds[id]})
		require.NoError(t, err)
	}
	assert.True(t, h.pool(t).Locked.IsZero())

	open, err := h.svc.BetsByPlayer(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPlaceInsufficientPool(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "199.99 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	_, err := h.svc.Place(as("alice"), placeReq("alice", "100.00 USD", 50, seed))
	require.ErrorIs(t, err, dice.ErrInsufficientPool)
	assert.Equal(t, int64(10000), h.balance(t, "alice"))
	assert.Equal(t, int64(19999), h.balance(t, "dicebank"))

	h.fund(t, "dicebank", "0.01 USD")
	_, err = h.svc.Place(as("alice"), placeReq("alice", "100.00 USD", 50, seed))
	require.NoError(t, err)
}

func TestPlaceValidatesAgainstLockedBalance(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "100.00 USD")
	h.fund(t, "alice", "1000.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	// 98*90.00/95 = 92.84 <= 100.00; depois: banco 190.00, bloqueado 90.00
	_, err := h.svc.Place(as("alice"), placeReq("alice", "90.00 USD", 98-1, seed))
	require.ErrorIs(t, err, dice.ErrRange)
	_, err = h.svc.Place(as("alice"), placeReq("alice", "90.00 USD", 96, seed))
	require.NoError(t, err)

	p := h.pool(t)
	assert.Equal(t, int64(19000), p.Balance.Amount)
	assert.Equal(t, int64(9000), p.Locked.Amount)
	assert.Equal(t, int64(10000), p.Available.Amount)

	// 98*100.00/95 = 103.15 > disponível 100.00
	_, err = h.svc.Place(as("alice"), placeReq("alice", "100.00 USD", 96, seed))
	assert.ErrorIs(t, err, dice.ErrInsufficientPool)
}

func TestPlaceRejectsBadInput(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	tests := []struct {
		name string
		ctx  context.Context
		req  PlaceRequest
		err  error
	}{
		{"range low", as("alice"), placeReq("alice", "1.00 USD", 1, seed), dice.ErrRange},
		{"range high", as("alice"), placeReq("alice", "1.00 USD", 97, seed), dice.ErrRange},
		{"negative", as("alice"), placeReq("alice", "-1.00 USD", 50, seed), dice.ErrInvalidAsset},
		{"malformed", as("alice"), placeReq("alice", "1.00", 50, seed), dice.ErrInvalidAsset},
		{"native", as("alice"), placeReq("alice", "1.0000 ION", 50, seed), dice.ErrInvalidAsset},
		{"funds", as("alice"), placeReq("alice", "100.01 USD", 96, seed), dice.ErrInsufficientFunds},
		{"anonymous", context.Background(), placeReq("alice", "1.00 USD", 50, seed), dice.ErrUnauthorized},
		{"other account", as("bob"), placeReq("alice", "1.00 USD", 50, seed), dice.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Place(tt.ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Equal(t, int64(10000), h.balance(t, "alice"))
	assert.True(t, h.pool(t).Locked.IsZero())
	assert.Equal(t, 0, h.committed)
}

func TestPlaceNativeAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowNative = true
	cfg.IssuerCommission = wager.Rate{Num: 50, Den: 1}
	h := newHarness(t, cfg)
	ion := dice.Symbol{Code: "ION", Precision: 4}
	h.fund(t, "dicebank", "1000.0000 ION")
	h.fund(t, "alice", "10.0000 ION")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.0000 ION", 50, seed))
	require.NoError(t, err)
	// sem comissão de depósito para o ativo nativo
	assert.Equal(t, dice.NewAsset(10000, ion), bet.Amount)
}

func TestPlaceDepositCommission(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "200.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	// emissor: 0%
	bet, err := h.svc.Place(as("alice"), placeReq("alice", "100.00 USD", 50, seed))
	require.NoError(t, err)
	assert.Equal(t, "100.00 USD", bet.Amount.String())

	// sistema: 1%
	req := placeReq("alice", "100.00 USD", 50, seed)
	req.PaySysCms = true
	bet, err = h.svc.Place(as("alice"), req)
	require.NoError(t, err)
	assert.Equal(t, "99.00 USD", bet.Amount.String())

	assert.Equal(t, int64(0), h.balance(t, "alice"))
	assert.Equal(t, int64(100), h.balance(t, "usd"))
	assert.Equal(t, int64(100000+10000+9900), h.balance(t, "dicebank"))
	assert.Equal(t, int64(19900), h.pool(t).Locked.Amount)
}

func TestResolveSeedMismatch(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.00 USD", 50, seed))
	require.NoError(t, err)
	before := h.pool(t)

	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: dice.Sha256("wrong")})
	require.ErrorIs(t, err, dice.ErrSeedMismatch)
	assert.Contains(t, err.Error(), fmt.Sprintf("bet id: %d", bet.ID))
	assert.Equal(t, before, h.pool(t))

	_, err = h.svc.Bet(context.Background(), bet.ID)
	assert.NoError(t, err)
}

func TestResolveWithoutSeedVerification(t *testing.T) {
	cfg := testConfig()
	cfg.VerifySeed = false
	h := newHarness(t, cfg)
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.00 USD", 50, seed))
	require.NoError(t, err)

	other := dice.Sha256("unrelated")
	res, err := h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: other})
	require.NoError(t, err)
	assert.Equal(t, roll.Roll(other, userSeed), res.RandomRoll)
}

func TestResolveUnauthorized(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.svc.Resolve(as("alice"), ResolveRequest{Account: "dice", BetID: 1})
	assert.ErrorIs(t, err, dice.ErrUnauthorized)

	ctx := auth.WithCaller(context.Background(), auth.Caller{Account: "dice", Scopes: []string{auth.ScopeActive}})
	_, err = h.svc.Resolve(ctx, ResolveRequest{Account: "dice", BetID: 1})
	assert.ErrorIs(t, err, dice.ErrUnauthorized)
}

func TestResolvePoolShortfallIsInternal(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, rolled := seedFor(t, func(r uint8) bool { return r >= 2 && r <= 95 })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "10.00 USD", rolled+1, seed))
	require.NoError(t, err)

	// o banco perde saldo por fora do livro do pool
	require.NoError(t, store.WithTx(context.Background(), h.st, func(tx store.Tx) error {
		bal, err := tx.Balances().Get(context.Background(), "dicebank", usd)
		if err != nil {
			return err
		}
		_, err = tx.Balances().Add(context.Background(), "dicebank", dice.NewAsset(-bal.Amount, usd), "drain")
		return err
	}))

	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	require.ErrorIs(t, err, dice.ErrPoolOverdraw)
	assert.True(t, dice.IsInternal(err))

	_, err = h.svc.Bet(context.Background(), bet.ID)
	assert.NoError(t, err)
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "100000.00 USD")
	h.fund(t, "alice", "1000.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = map[uint64]bool{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.00 USD", 50, seed))
			assert.NoError(t, err)
			mu.Lock()
			ids[bet.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 16)

	list, err := h.svc.BetsByPlayer(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 16)
	for i := 1; i < len(list); i++ {
		assert.Greater(t, list[i].ID, list[i-1].ID)
	}
}

func TestOutboxEvents(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund(t, "dicebank", "1000.00 USD")
	h.fund(t, "alice", "100.00 USD")
	seed, _ := seedFor(t, func(uint8) bool { return true })

	bet, err := h.svc.Place(as("alice"), placeReq("alice", "1.00 USD", 50, seed))
	require.NoError(t, err)
	_, err = h.svc.Resolve(as("dice"), ResolveRequest{Account: "dice", BetID: bet.ID, Seed: seed})
	require.NoError(t, err)

	byTopic := map[string][][]byte{}
	require.NoError(t, store.WithTx(context.Background(), h.st, func(tx store.Tx) error {
		msgs, err := tx.Outbox().Pending(context.Background(), 0)
		for _, m := range msgs {
			byTopic[m.Topic] = append(byTopic[m.Topic], m.Payload)
		}
		return err
	}))

	require.Len(t, byTopic["receipt"], 1)
	var receipt events.BetReceipt
	require.NoError(t, json.Unmarshal(byTopic["receipt"][0], &receipt))
	assert.Equal(t, bet.ID, receipt.BetID)
	assert.Equal(t, "1.00 USD", receipt.Amount)
	assert.Equal(t, roll.Commit(seed).Hex(), receipt.SeedHash)

	require.Len(t, byTopic["result"], 1)
	var result events.BetResult
	require.NoError(t, json.Unmarshal(byTopic["result"][0], &result))
	assert.Equal(t, seed.Hex(), result.Seed)
	assert.Equal(t, roll.Roll(seed, userSeed), result.RandomRoll)

	assert.NotEmpty(t, byTopic["transfer"])
	assert.Equal(t, 2, h.committed)
}

func TestIssue(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.svc.Issue(as("alice"), "alice", "100.00 USD")
	assert.ErrorIs(t, err, dice.ErrUnauthorized)

	bal, err := h.svc.Issue(as("usd"), "alice", "100.00 USD")
	require.NoError(t, err)
	assert.Equal(t, "100.00 USD", bal.String())

	_, err = h.svc.Issue(as("ion.token"), "alice", "1.0000 ION")
	require.NoError(t, err)

	_, err = h.svc.Issue(as("usd"), "alice", "0.00 USD")
	assert.ErrorIs(t, err, dice.ErrInvalidAsset)
}
