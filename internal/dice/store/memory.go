package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/dice-settlement/internal/dice"
)

var errTxDone = errors.New("transaction already finished")

// Memory guarda tudo em mapas. Uma transação por vez: Begin segura o store
// até Commit/Rollback, e as escritas vão numa cópia dos mapas. O ledger só
// cresce, então não é copiado: o rollback corta de volta ao tamanho inicial.
type Memory struct {
	sem   chan struct{}
	state *memState
	now   func() time.Time
}

type memState struct {
	bets      map[uint64]dice.Bet
	pools     map[dice.Symbol]dice.PoolLock
	currentID uint64
	balances  map[balanceKey]dice.Asset
	ledger    []LedgerEntry
	outbox    []Message // só pendentes; MarkSent remove
}

type balanceKey struct {
	account string
	symbol  dice.Symbol
}

func NewMemory() *Memory {
	m := &Memory{
		sem: make(chan struct{}, 1),
		state: &memState{
			bets:     map[uint64]dice.Bet{},
			pools:    map[dice.Symbol]dice.PoolLock{},
			balances: map[balanceKey]dice.Asset{},
		},
		now: time.Now,
	}
	return m
}

func (s *memState) clone() *memState {
	c := &memState{
		bets:      make(map[uint64]dice.Bet, len(s.bets)),
		pools:     make(map[dice.Symbol]dice.PoolLock, len(s.pools)),
		currentID: s.currentID,
		balances:  make(map[balanceKey]dice.Asset, len(s.balances)),
		ledger:    s.ledger,
		outbox:    s.outbox,
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{m: m, st: m.state.clone()}, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Ledger retorna as movimentações de uma conta já confirmadas
func (m *Memory) Ledger(ctx context.Context, account string) ([]LedgerEntry, error) {
	tx, err := m.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out []LedgerEntry
	for _, e := range tx.(*memTx).st.ledger {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return out, nil
}

type memTx struct {
	m    *Memory
	st   *memState
	done bool
}

func (t *memTx) Bets() BetRepo          { return memBets{t} }
func (t *memTx) Pool() PoolRepo         { return memPool{t} }
func (t *memTx) Identity() IdentityRepo { return memIdentity{t} }
func (t *memTx) Balances() BalanceRepo  { return memBalances{t} }
func (t *memTx) Outbox() OutboxRepo     { return memOutbox{t} }

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.m.state = t.st
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	// zera o que a transação anexou além do estado confirmado
	committed := len(t.m.state.ledger)
	clear(t.st.ledger[committed:])
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	<-t.m.sem
}

func (t *memTx) check() error {
	if t.done {
		return errTxDone
	}
	return nil
}

type memBets struct{ t *memTx }

func (r memBets) Get(_ context.Context, id uint64) (dice.Bet, bool, error) {
	if err := r.t.check(); err != nil {
		return dice.Bet{}, false, err
	}
	b, ok := r.t.st.bets[id]
	return b, ok, nil
}

func (r memBets) Insert(_ context.Context, b dice.Bet) error {
	if err := r.t.check(); err != nil {
		return err
	}
	if _, ok := r.t.st.bets[b.ID]; ok {
		return &dice.Error{Kind: dice.ErrDuplicateID, BetID: b.ID}
	}
	r.t.st.bets[b.ID] = b
	return nil
}

func (r memBets) Delete(_ context.Context, id uint64) error {
	if err := r.t.check(); err != nil {
		return err
	}
	if _, ok := r.t.st.bets[id]; !ok {
		return &dice.Error{Kind: dice.ErrNotFound, BetID: id}
	}
	delete(r.t.st.bets, id)
	return nil
}

func (r memBets) ListByPlayer(_ context.Context, player string) ([]dice.Bet, error) {
	if err := r.t.check(); err != nil {
		return nil, err
	}
	var out []dice.Bet
	for _, b := range r.t.st.bets {
		if b.Player == player {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPool struct{ t *memTx }

// Lock: o semáforo do Begin já serializa tudo
func (r memPool) Lock(context.Context, dice.Symbol) error { return r.t.check() }

func (r memPool) Get(_ context.Context, sym dice.Symbol) (dice.PoolLock, bool, error) {
	if err := r.t.check(); err != nil {
		return dice.PoolLock{}, false, err
	}
	l, ok := r.t.st.pools[sym]
	return l, ok, nil
}

func (r memPool) Put(_ context.Context, l dice.PoolLock) error {
	if err := r.t.check(); err != nil {
		return err
	}
	r.t.st.pools[l.Symbol] = l
	return nil
}

type memIdentity struct{ t *memTx }

func (r memIdentity) Next(context.Context) (uint64, error) {
	if err := r.t.check(); err != nil {
		return 0, err
	}
	r.t.st.currentID++
	return r.t.st.currentID, nil
}

type memBalances struct{ t *memTx }

func (r memBalances) Get(_ context.Context, account string, sym dice.Symbol) (dice.Asset, error) {
	if err := r.t.check(); err != nil {
		return dice.Asset{}, err
	}
	if a, ok := r.t.st.balances[balanceKey{account, sym}]; ok {
		return a, nil
	}
	return dice.NewAsset(0, sym), nil
}

func (r memBalances) Add(ctx context.Context, account string, delta dice.Asset, memo string) (dice.Asset, error) {
	cur, err := r.Get(ctx, account, delta.Symbol)
	if err != nil {
		return dice.Asset{}, err
	}
	next, err := cur.Add(delta)
	if err != nil {
		return dice.Asset{}, err
	}
	if next.Amount < 0 {
		return dice.Asset{}, dice.Errorf(dice.ErrInsufficientFunds, 0, delta.Symbol.Code, "account %s has %s, needs %d", account, cur, -delta.Amount)
	}
	r.t.st.balances[balanceKey{account, delta.Symbol}] = next
	r.t.st.ledger = append(r.t.st.ledger, LedgerEntry{
		ID:        uuid.NewString(),
		Account:   account,
		Amount:    delta,
		Memo:      memo,
		CreatedAt: r.t.m.now(),
	})
	return next, nil
}

type memOutbox struct{ t *memTx }

func (r memOutbox) Enqueue(_ context.Context, m Message) error {
	if err := r.t.check(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.t.m.now()
	}
	r.t.st.outbox = append(r.t.st.outbox, m)
	return nil
}

func (r memOutbox) Pending(_ context.Context, limit int) ([]Message, error) {
	if err := r.t.check(); err != nil {
		return nil, err
	}
	msgs := r.t.st.outbox
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]Message(nil), msgs...), nil
}

func (r memOutbox) MarkSent(_ context.Context, id string) error {
	if err := r.t.check(); err != nil {
		return err
	}
	// nova fatia: a confirmada continua intacta se houver rollback
	out := make([]Message, 0, len(r.t.st.outbox))
	for _, m := range r.t.st.outbox {
		if m.ID != id {
			out = append(out, m)
		}
	}
	r.t.st.outbox = out
	return nil
}
