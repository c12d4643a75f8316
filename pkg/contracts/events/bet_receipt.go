package events

import "time"

// Evento publicado quando uma aposta é aceita (recibo para o jogador)
type BetReceipt struct {
	BetID        uint64    `json:"bet_id"`
	Player       string    `json:"player"`
	Amount       string    `json:"amount"` // ex: "99.80 USD", já sem a comissão de depósito
	RollUnder    uint8     `json:"roll_under"`
	SeedHash     string    `json:"seed_hash"`
	UserSeedHash string    `json:"user_seed_hash"`
	CreatedAt    time.Time `json:"created_at"`
}
