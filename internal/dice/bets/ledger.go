package bets

import (
	"context"
	"fmt"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/store"
)

// Ledger registra as apostas abertas, indexadas por ID monotônico
type Ledger struct {
	bets  store.BetRepo
	ident store.IdentityRepo
}

func New(bets store.BetRepo, ident store.IdentityRepo) *Ledger {
	return &Ledger{bets: bets, ident: ident}
}

// NextID incrementa e retorna o contador persistido
func (l *Ledger) NextID(ctx context.Context) (uint64, error) {
	id, err := l.ident.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("identity counter unavailable: %w", err)
	}
	return id, nil
}

// Place grava a aposta; ErrDuplicateID se o ID já existir
func (l *Ledger) Place(ctx context.Context, b dice.Bet) error {
	if _, ok, err := l.bets.Get(ctx, b.ID); err != nil {
		return err
	} else if ok {
		return &dice.Error{Kind: dice.ErrDuplicateID, BetID: b.ID, Symbol: b.Amount.Symbol.Code}
	}
	return l.bets.Insert(ctx, b)
}

// Find busca a aposta; ErrNotFound se não existir
func (l *Ledger) Find(ctx context.Context, id uint64) (dice.Bet, error) {
	b, ok, err := l.bets.Get(ctx, id)
	if err != nil {
		return dice.Bet{}, err
	}
	if !ok {
		return dice.Bet{}, &dice.Error{Kind: dice.ErrNotFound, BetID: id}
	}
	return b, nil
}

// Remove apaga a aposta; ErrNotFound se não existir
func (l *Ledger) Remove(ctx context.Context, id uint64) error {
	if _, err := l.Find(ctx, id); err != nil {
		return err
	}
	return l.bets.Delete(ctx, id)
}

// ByPlayer lista as apostas abertas de um jogador
func (l *Ledger) ByPlayer(ctx context.Context, player string) ([]dice.Bet, error) {
	return l.bets.ListByPlayer(ctx, player)
}
