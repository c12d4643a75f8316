package events

import "time"

// Evento publicado na resolução de uma aposta
type BetResult struct {
	BetID        uint64    `json:"bet_id"`
	Player       string    `json:"player"`
	Amount       string    `json:"amount"`
	RollUnder    uint8     `json:"roll_under"`
	RandomRoll   uint8     `json:"random_roll"`
	Seed         string    `json:"seed"`
	SeedHash     string    `json:"seed_hash"`
	UserSeedHash string    `json:"user_seed_hash"`
	Payout       string    `json:"payout"` // "0.00 USD" quando perde
	Won          bool      `json:"won"`
	Ts           time.Time `json:"ts"`
}
