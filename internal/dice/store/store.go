package store

import (
	"context"
	"time"

	"github.com/radieske/dice-settlement/internal/dice"
)

// Store abre transações; toda leitura/escrita do orquestrador passa por um Tx
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx agrupa os repositórios de uma transação. Rollback após Commit é no-op.
type Tx interface {
	Bets() BetRepo
	Pool() PoolRepo
	Identity() IdentityRepo
	Balances() BalanceRepo
	Outbox() OutboxRepo
	Commit() error
	Rollback() error
}

// BetRepo: tabela de apostas abertas (allbets)
type BetRepo interface {
	Get(ctx context.Context, id uint64) (dice.Bet, bool, error)
	Insert(ctx context.Context, b dice.Bet) error
	Delete(ctx context.Context, id uint64) error
	ListByPlayer(ctx context.Context, player string) ([]dice.Bet, error)
}

// PoolRepo: tabela dicepool, uma linha por símbolo.
// Lock e Get bloqueiam o símbolo até o fim da transação; quem for ler o
// saldo do banco para validar ou pagar precisa chamar Lock antes.
type PoolRepo interface {
	Lock(ctx context.Context, sym dice.Symbol) error
	Get(ctx context.Context, sym dice.Symbol) (dice.PoolLock, bool, error)
	Put(ctx context.Context, l dice.PoolLock) error
}

// IdentityRepo: contador monotônico de IDs de aposta
type IdentityRepo interface {
	Next(ctx context.Context) (uint64, error)
}

// BalanceRepo: saldos de tokens por conta e o ledger de movimentações
type BalanceRepo interface {
	Get(ctx context.Context, account string, sym dice.Symbol) (dice.Asset, error)
	// Add aplica delta (positivo ou negativo) e registra no ledger.
	// Falha com dice.ErrInsufficientFunds se o saldo ficar negativo.
	Add(ctx context.Context, account string, delta dice.Asset, memo string) (dice.Asset, error)
}

// LedgerEntry é uma linha do ledger de tokens
type LedgerEntry struct {
	ID        string
	Account   string
	Amount    dice.Asset
	Memo      string
	CreatedAt time.Time
}

// Message é uma notificação pendente na outbox
type Message struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxRepo: fila de saída drenada após o commit
type OutboxRepo interface {
	Enqueue(ctx context.Context, m Message) error
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string) error
}

// WithTx executa fn numa transação, com commit se fn não falhar
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
