package dice

import "time"

// Limites do roll-under aceito
const (
	MinRollUnder uint8 = 2
	MaxRollUnder uint8 = 96
)

// Bet é uma aposta aberta, removida quando resolvida
type Bet struct {
	ID           uint64      `json:"id"`
	Player       string      `json:"player"`
	Amount       Asset       `json:"amount"`
	RollUnder    uint8       `json:"roll_under"`
	SeedHash     Checksum256 `json:"seed_hash"`
	UserSeedHash Checksum256 `json:"user_seed_hash"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PoolLock é a parte do saldo do pool reservada para apostas abertas, por símbolo
type PoolLock struct {
	Symbol Symbol `json:"symbol"`
	Locked Asset  `json:"locked"`
}

// Result é o registro efêmero emitido na resolução de uma aposta
type Result struct {
	BetID        uint64      `json:"bet_id"`
	Player       string      `json:"player"`
	Amount       Asset       `json:"amount"`
	RollUnder    uint8       `json:"roll_under"`
	RandomRoll   uint8       `json:"random_roll"`
	Seed         Checksum256 `json:"seed"`
	SeedHash     Checksum256 `json:"seed_hash"`
	UserSeedHash Checksum256 `json:"user_seed_hash"`
	Payout       Asset       `json:"payout"`
}

// Won indica se a aposta pagou prêmio
func (r Result) Won() bool { return r.Payout.Amount > 0 }
