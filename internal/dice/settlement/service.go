package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice/auth"
	"github.com/radieske/dice-settlement/internal/dice/bets"
	"github.com/radieske/dice-settlement/internal/dice/pool"
	"github.com/radieske/dice-settlement/internal/dice/roll"
	"github.com/radieske/dice-settlement/internal/dice/store"
	"github.com/radieske/dice-settlement/internal/dice/wager"
	"github.com/radieske/dice-settlement/pkg/contracts/events"
)

// Config reúne as contas e regras do jogo
type Config struct {
	BankAccount      string // guarda o pool
	HouseAccount     string // recebe a comissão dos prêmios
	TokenAccount     string // contrato do ativo nativo
	NativeCode       string
	AllowNative      bool
	IssuerCommission wager.Rate
	SystemCommission wager.Rate
	VerifySeed       bool

	TopicReceipt  string
	TopicResult   string
	TopicTransfer string
}

// Hooks são callbacks opcionais (métricas, wake do dispatcher)
type Hooks struct {
	OnPlaced    func(dice.Bet)
	OnResolved  func(dice.Result)
	OnRejected  func(op string, err error)
	OnCommitted func()
}

// Service é o orquestrador de place/resolve
type Service struct {
	log   *zap.Logger
	store store.Store
	auth  auth.Authenticator
	bank  *Bank
	cfg   Config
	clock func() time.Time
	hooks Hooks
}

// NewService monta o orquestrador; clock nil usa time.Now
func NewService(log *zap.Logger, st store.Store, a auth.Authenticator, cfg Config, clock func() time.Time, hooks Hooks) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		log:   log,
		store: st,
		auth:  a,
		cfg:   cfg,
		clock: clock,
		hooks: hooks,
		bank: &Bank{
			TokenAccount: cfg.TokenAccount,
			NativeCode:   cfg.NativeCode,
			Topic:        cfg.TopicTransfer,
			Now:          clock,
		},
	}
}

// PlaceRequest é a entrada da ação "bet"
type PlaceRequest struct {
	Player       string
	Quantity     string // ex: "100.00 USD"
	RollUnder    uint8
	SeedHash     dice.Checksum256
	UserSeedHash dice.Checksum256
	PaySysCms    bool
}

// ResolveRequest é a entrada da ação "dice"
type ResolveRequest struct {
	Account string
	BetID   uint64
	Seed    dice.Checksum256
}

// PoolState é o retrato do pool de um símbolo
type PoolState struct {
	Balance   dice.Asset `json:"balance"`
	Locked    dice.Asset `json:"locked"`
	Available dice.Asset `json:"available"`
}

// Place valida, transfere a aposta para o pool, grava e bloqueia o valor.
// Tudo numa transação: qualquer falha desfaz a operação inteira.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (bet dice.Bet, err error) {
	defer func() { s.rejected("place", err) }()

	if err := s.auth.Require(ctx, req.Player); err != nil {
		return dice.Bet{}, err
	}
	qty, err := dice.ParseAsset(req.Quantity)
	if err != nil {
		return dice.Bet{}, err
	}
	if err := wager.ValidateQuantity(qty); err != nil {
		return dice.Bet{}, err
	}
	native := qty.Symbol.Code == s.cfg.NativeCode
	if native && !s.cfg.AllowNative {
		return dice.Bet{}, dice.Errorf(dice.ErrInvalidAsset, 0, qty.Symbol.Code, "only stable coins are supported!")
	}

	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		pl := pool.New(tx.Pool())
		ledger := bets.New(tx.Bets(), tx.Identity())

		// trava o símbolo antes de ler o saldo: um resolve concorrente não
		// pode pagar entre a leitura do saldo e a do bloqueio
		if err := pl.Hold(ctx, qty.Symbol); err != nil {
			return err
		}

		// validação contra o saldo disponível já descontados os bloqueios
		total, err := tx.Balances().Get(ctx, s.cfg.BankAccount, qty.Symbol)
		if err != nil {
			return err
		}
		available, err := pl.Available(ctx, qty.Symbol, total)
		if err != nil {
			return err
		}
		if err := wager.ValidateRollUnder(req.RollUnder, qty, available); err != nil {
			return err
		}

		// transferência para o pool
		stake := qty
		if !native {
			stake, err = wager.DepositCommission(qty, s.commission(req.PaySysCms))
			if err != nil {
				return err
			}
			fee, err := qty.Sub(stake)
			if err != nil {
				return err
			}
			if err := s.bank.Transfer(ctx, tx, req.Player, qty.Symbol.Issuer(), fee, "deposit commission"); err != nil {
				return err
			}
		}
		if err := s.bank.Transfer(ctx, tx, req.Player, s.cfg.BankAccount, stake, "bet placed"); err != nil {
			return err
		}

		id, err := ledger.NextID(ctx)
		if err != nil {
			return err
		}
		bet = dice.Bet{
			ID:           id,
			Player:       req.Player,
			Amount:       stake,
			RollUnder:    req.RollUnder,
			SeedHash:     req.SeedHash,
			UserSeedHash: req.UserSeedHash,
			CreatedAt:    s.clock().UTC(),
		}
		if err := ledger.Place(ctx, bet); err != nil {
			return err
		}

		if err := pl.Lock(ctx, bet.Amount); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, s.cfg.TopicReceipt, bet.ID, receiptEvent(bet))
	})
	if err != nil {
		return dice.Bet{}, err
	}

	s.log.Info("bet placed",
		zap.Uint64("bet_id", bet.ID),
		zap.String("player", bet.Player),
		zap.Stringer("amount", bet.Amount),
		zap.Uint8("roll_under", bet.RollUnder),
	)
	if s.hooks.OnPlaced != nil {
		s.hooks.OnPlaced(bet)
	}
	s.committed()
	return bet, nil
}

// Resolve revela a semente, sorteia, paga (se ganhou), libera o bloqueio
// e remove a aposta
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (res dice.Result, err error) {
	defer func() { s.rejected("resolve", err) }()

	if err := s.auth.Require(ctx, req.Account); err != nil {
		return dice.Result{}, err
	}

	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		ledger := bets.New(tx.Bets(), tx.Identity())
		pl := pool.New(tx.Pool())

		bet, err := ledger.Find(ctx, req.BetID)
		if err != nil {
			return err
		}
		// mesma ordem do place: símbolo travado antes de mexer no banco
		if err := pl.Hold(ctx, bet.Amount.Symbol); err != nil {
			return err
		}
		if s.cfg.VerifySeed {
			if err := roll.Verify(req.Seed, bet.SeedHash); err != nil {
				return &dice.Error{Kind: dice.ErrSeedMismatch, BetID: bet.ID, Symbol: bet.Amount.Symbol.Code}
			}
		}

		rolled := roll.Roll(req.Seed, bet.UserSeedHash)
		payout := dice.NewAsset(0, bet.Amount.Symbol)
		if rolled < bet.RollUnder {
			payout, err = wager.Payout(bet.RollUnder, bet.Amount)
			if err != nil {
				return err
			}
			commission := wager.Commission(payout)
			prize, err := payout.Sub(commission)
			if err != nil {
				return err
			}
			s.log.Debug("bet won",
				zap.Uint64("bet_id", bet.ID),
				zap.Stringer("commission", commission),
				zap.Stringer("payout", prize),
			)

			if err := s.bank.Transfer(ctx, tx, s.cfg.BankAccount, s.cfg.HouseAccount, commission, commissionMemo(bet)); err != nil {
				return poolShortfall(err, bet.Amount.Symbol)
			}
			if err := s.bank.Transfer(ctx, tx, s.cfg.BankAccount, bet.Player, prize, winnerMemo(bet)); err != nil {
				return poolShortfall(err, bet.Amount.Symbol)
			}
		}

		// o bloqueio é liberado nos dois desfechos
		if err := pl.Unlock(ctx, bet.Amount); err != nil {
			return err
		}

		res = dice.Result{
			BetID:        bet.ID,
			Player:       bet.Player,
			Amount:       bet.Amount,
			RollUnder:    bet.RollUnder,
			RandomRoll:   rolled,
			Seed:         req.Seed,
			SeedHash:     bet.SeedHash,
			UserSeedHash: bet.UserSeedHash,
			Payout:       payout,
		}
		if err := s.enqueue(ctx, tx, s.cfg.TopicResult, bet.ID, s.resultEvent(res)); err != nil {
			return err
		}

		return ledger.Remove(ctx, bet.ID)
	})
	if err != nil {
		return dice.Result{}, err
	}

	s.log.Info("bet resolved",
		zap.Uint64("bet_id", res.BetID),
		zap.String("player", res.Player),
		zap.Uint8("roll", res.RandomRoll),
		zap.Uint8("roll_under", res.RollUnder),
		zap.Stringer("payout", res.Payout),
	)
	if s.hooks.OnResolved != nil {
		s.hooks.OnResolved(res)
	}
	s.committed()
	return res, nil
}

// Bet busca uma aposta aberta
func (s *Service) Bet(ctx context.Context, id uint64) (bet dice.Bet, err error) {
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		bet, err = bets.New(tx.Bets(), tx.Identity()).Find(ctx, id)
		return err
	})
	return bet, err
}

// BetsByPlayer lista as apostas abertas do jogador
func (s *Service) BetsByPlayer(ctx context.Context, player string) (out []dice.Bet, err error) {
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		out, err = bets.New(tx.Bets(), tx.Identity()).ByPlayer(ctx, player)
		return err
	})
	return out, err
}

// Pool retorna saldo, bloqueado e disponível do símbolo
func (s *Service) Pool(ctx context.Context, sym dice.Symbol) (st PoolState, err error) {
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		pl := pool.New(tx.Pool())
		if err := pl.Hold(ctx, sym); err != nil {
			return err
		}
		if st.Balance, err = tx.Balances().Get(ctx, s.cfg.BankAccount, sym); err != nil {
			return err
		}
		if st.Locked, err = pl.Locked(ctx, sym); err != nil {
			return err
		}
		st.Available, err = pl.Available(ctx, sym, st.Balance)
		return err
	})
	return st, err
}

// Issue credita tokens numa conta; só o emissor do símbolo pode emitir
func (s *Service) Issue(ctx context.Context, to, quantity string) (bal dice.Asset, err error) {
	qty, err := dice.ParseAsset(quantity)
	if err != nil {
		return dice.Asset{}, err
	}
	if err := s.auth.Require(ctx, s.bank.Contract(qty.Symbol)); err != nil {
		return dice.Asset{}, err
	}
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		bal, err = s.bank.Issue(ctx, tx, to, qty, "issue")
		return err
	})
	if err == nil {
		s.committed()
	}
	return bal, err
}

// Balance lê o saldo de uma conta
func (s *Service) Balance(ctx context.Context, account string, sym dice.Symbol) (bal dice.Asset, err error) {
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		bal, err = tx.Balances().Get(ctx, account, sym)
		return err
	})
	return bal, err
}

func (s *Service) commission(paySysCms bool) wager.Rate {
	if paySysCms {
		return s.cfg.SystemCommission
	}
	return s.cfg.IssuerCommission
}

func (s *Service) enqueue(ctx context.Context, tx store.Tx, topic string, betID uint64, v any) error {
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, store.Message{Topic: topic, Key: fmt.Sprint(betID), Payload: payload})
}

func (s *Service) rejected(op string, err error) {
	if err == nil {
		return
	}
	if dice.IsInternal(err) {
		s.log.Error("pool invariant violated", zap.String("op", op), zap.Error(err))
	} else {
		s.log.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	}
	if s.hooks.OnRejected != nil {
		s.hooks.OnRejected(op, err)
	}
}

func (s *Service) committed() {
	if s.hooks.OnCommitted != nil {
		s.hooks.OnCommitted()
	}
}

func winnerMemo(b dice.Bet) string {
	return fmt.Sprintf("winner - bet id:%d, player: %s", b.ID, b.Player)
}

func commissionMemo(b dice.Bet) string {
	return fmt.Sprintf("commission - bet id:%d, player: %s", b.ID, b.Player)
}

func receiptEvent(b dice.Bet) events.BetReceipt {
	return events.BetReceipt{
		BetID:        b.ID,
		Player:       b.Player,
		Amount:       b.Amount.String(),
		RollUnder:    b.RollUnder,
		SeedHash:     b.SeedHash.Hex(),
		UserSeedHash: b.UserSeedHash.Hex(),
		CreatedAt:    b.CreatedAt,
	}
}

func (s *Service) resultEvent(r dice.Result) events.BetResult {
	return events.BetResult{
		BetID:        r.BetID,
		Player:       r.Player,
		Amount:       r.Amount.String(),
		RollUnder:    r.RollUnder,
		RandomRoll:   r.RandomRoll,
		Seed:         r.Seed.Hex(),
		SeedHash:     r.SeedHash.Hex(),
		UserSeedHash: r.UserSeedHash.Hex(),
		Payout:       r.Payout.String(),
		Won:          r.Won(),
		Ts:           s.clock().UTC(),
	}
}
