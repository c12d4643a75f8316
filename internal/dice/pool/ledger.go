package pool

import (
	"context"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/store"
)

// Ledger controla quanto do saldo do pool está bloqueado por apostas abertas
type Ledger struct {
	repo store.PoolRepo
}

// New cria o ledger sobre o repositório da transação corrente
func New(repo store.PoolRepo) *Ledger { return &Ledger{repo: repo} }

// Hold trava o símbolo até o fim da transação. Precisa vir antes de
// qualquer leitura ou movimentação do saldo do banco nesse símbolo.
func (l *Ledger) Hold(ctx context.Context, sym dice.Symbol) error {
	return l.repo.Lock(ctx, sym)
}

// Locked retorna o total bloqueado do símbolo (zero se nunca houve aposta)
func (l *Ledger) Locked(ctx context.Context, sym dice.Symbol) (dice.Asset, error) {
	entry, ok, err := l.repo.Get(ctx, sym)
	if err != nil {
		return dice.Asset{}, err
	}
	if !ok {
		return dice.NewAsset(0, sym), nil
	}
	return entry.Locked, nil
}

// Lock soma amount ao bloqueio do símbolo, criando a entrada se preciso
func (l *Ledger) Lock(ctx context.Context, amount dice.Asset) error {
	entry, ok, err := l.repo.Get(ctx, amount.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		entry = dice.PoolLock{Symbol: amount.Symbol, Locked: dice.NewAsset(0, amount.Symbol)}
	}
	locked, err := entry.Locked.Add(amount)
	if err != nil {
		return err
	}
	if locked.Amount < 0 {
		return dice.Errorf(dice.ErrOverdraw, 0, amount.Symbol.Code, "lock of %s leaves %s", amount, locked)
	}
	entry.Locked = locked
	return l.repo.Put(ctx, entry)
}

// Unlock devolve amount; falha com ErrOverdraw se não houver entrada
// ou se o bloqueio ficar negativo
func (l *Ledger) Unlock(ctx context.Context, amount dice.Asset) error {
	entry, ok, err := l.repo.Get(ctx, amount.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return dice.Errorf(dice.ErrOverdraw, 0, amount.Symbol.Code, "no pool entry")
	}
	locked, err := entry.Locked.Sub(amount)
	if err != nil {
		return err
	}
	if locked.Amount < 0 {
		return dice.Errorf(dice.ErrOverdraw, 0, amount.Symbol.Code, "locked %s, unlock %s", entry.Locked, amount)
	}
	entry.Locked = locked
	return l.repo.Put(ctx, entry)
}

// Available retorna total - bloqueado; negativo é inconsistência (ErrPoolOverdraw)
func (l *Ledger) Available(ctx context.Context, sym dice.Symbol, total dice.Asset) (dice.Asset, error) {
	locked, err := l.Locked(ctx, sym)
	if err != nil {
		return dice.Asset{}, err
	}
	available, err := total.Sub(locked)
	if err != nil {
		return dice.Asset{}, err
	}
	if available.Amount < 0 {
		return dice.Asset{}, dice.Errorf(dice.ErrPoolOverdraw, 0, sym.Code, "pool %s, locked %s", total, locked)
	}
	return available, nil
}
