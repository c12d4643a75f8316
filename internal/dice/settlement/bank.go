package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/store"
	"github.com/radieske/dice-settlement/pkg/contracts/events"
)

// Bank executa transferências de tokens dentro da transação do orquestrador.
// Ativo nativo passa pela conta do token; os demais pelo emissor do símbolo.
type Bank struct {
	TokenAccount string
	NativeCode   string
	Topic        string
	Now          func() time.Time
}

// Contract retorna a conta responsável pela transferência do símbolo
func (b *Bank) Contract(sym dice.Symbol) string {
	if sym.Code == b.NativeCode {
		return b.TokenAccount
	}
	return sym.Issuer()
}

// Transfer debita from, credita to e agenda a notificação na outbox.
// Se a operação abortar, nada disso é confirmado.
func (b *Bank) Transfer(ctx context.Context, tx store.Tx, from, to string, qty dice.Asset, memo string) error {
	if qty.Amount < 0 {
		return dice.Errorf(dice.ErrInvalidAsset, 0, qty.Symbol.Code, "negative transfer %s", qty)
	}
	if qty.IsZero() || from == to {
		return nil
	}
	if _, err := tx.Balances().Add(ctx, from, dice.NewAsset(-qty.Amount, qty.Symbol), memo); err != nil {
		return err
	}
	if _, err := tx.Balances().Add(ctx, to, qty, memo); err != nil {
		return err
	}
	return b.notify(ctx, tx, from, to, qty, memo)
}

// Issue credita uma conta a partir do emissor (sem débito)
func (b *Bank) Issue(ctx context.Context, tx store.Tx, to string, qty dice.Asset, memo string) (dice.Asset, error) {
	if qty.Amount <= 0 {
		return dice.Asset{}, dice.Errorf(dice.ErrInvalidAsset, 0, qty.Symbol.Code, "issue quantity must be positive")
	}
	bal, err := tx.Balances().Add(ctx, to, qty, memo)
	if err != nil {
		return dice.Asset{}, err
	}
	return bal, b.notify(ctx, tx, b.Contract(qty.Symbol), to, qty, memo)
}

func (b *Bank) notify(ctx context.Context, tx store.Tx, from, to string, qty dice.Asset, memo string) error {
	if b.Topic == "" {
		return nil
	}
	payload, err := json.Marshal(events.TokenTransfer{
		From:     from,
		To:       to,
		Quantity: qty.String(),
		Contract: b.Contract(qty.Symbol),
		Memo:     memo,
		Ts:       b.now(),
	})
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, store.Message{Topic: b.Topic, Key: from, Payload: payload})
}

func (b *Bank) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// poolShortfall converte falta de saldo no banco em violação de invariante
func poolShortfall(err error, sym dice.Symbol) error {
	if errors.Is(err, dice.ErrInsufficientFunds) {
		return dice.Errorf(dice.ErrPoolOverdraw, 0, sym.Code, "bank cannot cover payout: %v", err)
	}
	return err
}
