package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/radieske/dice-settlement/internal/dice"
)

//go:embed schema.sql
var schema string

// Postgres implementa o Store sobre database/sql + lib/pq
type Postgres struct{ db *sql.DB }

// NewPostgres retorna o store usando a conexão informada
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Migrate cria as tabelas se ainda não existirem
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

type pgTx struct{ tx *sql.Tx }

func (t *pgTx) Bets() BetRepo          { return pgBets{t.tx} }
func (t *pgTx) Pool() PoolRepo         { return pgPool{t.tx} }
func (t *pgTx) Identity() IdentityRepo { return pgIdentity{t.tx} }
func (t *pgTx) Balances() BalanceRepo  { return pgBalances{t.tx} }
func (t *pgTx) Outbox() OutboxRepo     { return pgOutbox{t.tx} }

func (t *pgTx) Commit() error { return t.tx.Commit() }

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type pgBets struct{ tx *sql.Tx }

const betColumns = `id, player, amount, symbol_code, sym_precision, roll_under, seed_hash, user_seed_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (dice.Bet, error) {
	var (
		b              dice.Bet
		precision      int16
		rollUnder      int16
		seed, userSeed []byte
	)
	if err := row.Scan(&b.ID, &b.Player, &b.Amount.Amount, &b.Amount.Symbol.Code, &precision, &rollUnder, &seed, &userSeed, &b.CreatedAt); err != nil {
		return dice.Bet{}, err
	}
	b.Amount.Symbol.Precision = uint8(precision)
	b.RollUnder = uint8(rollUnder)
	copy(b.SeedHash[:], seed)
	copy(b.UserSeedHash[:], userSeed)
	return b, nil
}

func (r pgBets) Get(ctx context.Context, id uint64) (dice.Bet, bool, error) {
	b, err := scanBet(r.tx.QueryRowContext(ctx, `SELECT `+betColumns+` FROM allbets WHERE id=$1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return dice.Bet{}, false, nil
	}
	if err != nil {
		return dice.Bet{}, false, err
	}
	return b, true, nil
}

func (r pgBets) Insert(ctx context.Context, b dice.Bet) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO allbets (`+betColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.Player, b.Amount.Amount, b.Amount.Symbol.Code, int16(b.Amount.Symbol.Precision),
		int16(b.RollUnder), b.SeedHash[:], b.UserSeedHash[:], b.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return &dice.Error{Kind: dice.ErrDuplicateID, BetID: b.ID}
	}
	return err
}

func (r pgBets) Delete(ctx context.Context, id uint64) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM allbets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &dice.Error{Kind: dice.ErrNotFound, BetID: id}
	}
	return nil
}

func (r pgBets) ListByPlayer(ctx context.Context, player string) ([]dice.Bet, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+betColumns+` FROM allbets WHERE player=$1 ORDER BY id`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dice.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type pgPool struct{ tx *sql.Tx }

// Lock segura um advisory lock do símbolo até o fim da transação: funciona
// mesmo antes de a linha existir e é reentrante na mesma transação
func (r pgPool) Lock(ctx context.Context, sym dice.Symbol) error {
	_, err := r.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('dicepool:' || $1))`, sym.Key())
	return err
}

func (r pgPool) Get(ctx context.Context, sym dice.Symbol) (dice.PoolLock, bool, error) {
	if err := r.Lock(ctx, sym); err != nil {
		return dice.PoolLock{}, false, err
	}
	var locked int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT locked FROM dicepool WHERE symbol_code=$1 AND sym_precision=$2 FOR UPDATE`,
		sym.Code, int16(sym.Precision)).Scan(&locked)
	if err == sql.ErrNoRows {
		return dice.PoolLock{}, false, nil
	}
	if err != nil {
		return dice.PoolLock{}, false, err
	}
	return dice.PoolLock{Symbol: sym, Locked: dice.NewAsset(locked, sym)}, true, nil
}

func (r pgPool) Put(ctx context.Context, l dice.PoolLock) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO dicepool (symbol_code, sym_precision, locked) VALUES ($1,$2,$3)
		ON CONFLICT (symbol_code, sym_precision) DO UPDATE SET locked = EXCLUDED.locked`,
		l.Symbol.Code, int16(l.Symbol.Precision), l.Locked.Amount)
	return err
}

type pgIdentity struct{ tx *sql.Tx }

func (r pgIdentity) Next(ctx context.Context) (uint64, error) {
	var id uint64
	if err := r.tx.QueryRowContext(ctx,
		`UPDATE identity SET current_id = current_id + 1 WHERE id = 1 RETURNING current_id`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return id, nil
}

type pgBalances struct{ tx *sql.Tx }

func (r pgBalances) Get(ctx context.Context, account string, sym dice.Symbol) (dice.Asset, error) {
	var amount int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account=$1 AND symbol_code=$2 AND sym_precision=$3`,
		account, sym.Code, int16(sym.Precision)).Scan(&amount)
	if err != nil && err != sql.ErrNoRows {
		return dice.Asset{}, err
	}
	return dice.NewAsset(amount, sym), nil
}

// Add usa upsert com RETURNING para travar a linha do saldo na transação
func (r pgBalances) Add(ctx context.Context, account string, delta dice.Asset, memo string) (dice.Asset, error) {
	sym := delta.Symbol
	var amount int64
	if err := r.tx.QueryRowContext(ctx, `
		INSERT INTO balances (account, symbol_code, sym_precision, amount) VALUES ($1,$2,$3,$4)
		ON CONFLICT (account, symbol_code, sym_precision) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
		RETURNING amount`,
		account, sym.Code, int16(sym.Precision), delta.Amount).Scan(&amount); err != nil {
		return dice.Asset{}, err
	}
	if amount < 0 {
		return dice.Asset{}, dice.Errorf(dice.ErrInsufficientFunds, 0, sym.Code, "account %s short by %d", account, -amount)
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO token_ledger (id, account, symbol_code, sym_precision, amount, memo, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), account, sym.Code, int16(sym.Precision), delta.Amount, memo, time.Now()); err != nil {
		return dice.Asset{}, err
	}
	return dice.NewAsset(amount, sym), nil
}

type pgOutbox struct{ tx *sql.Tx }

func (r pgOutbox) Enqueue(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO outbox (id, topic, msg_key, payload, created_at) VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.Topic, m.Key, m.Payload, m.CreatedAt)
	return err
}

// Pending devolve as mensagens não enviadas em ordem de criação
func (r pgOutbox) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, topic, msg_key, payload, created_at FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r pgOutbox) MarkSent(ctx context.Context, id string) error {
	_, err := r.tx.ExecContext(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id=$1`, id)
	return err
}
