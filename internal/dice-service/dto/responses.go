package dto

import (
	"time"

	"github.com/radieske/dice-settlement/internal/dice"
)

type BetResponse struct {
	BetID        uint64    `json:"bet_id"`
	Player       string    `json:"player"`
	Amount       string    `json:"amount"`
	RollUnder    uint8     `json:"roll_under"`
	SeedHash     string    `json:"seed_hash"`
	UserSeedHash string    `json:"user_seed_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewBetResponse(b dice.Bet) BetResponse {
	return BetResponse{
		BetID:        b.ID,
		Player:       b.Player,
		Amount:       b.Amount.String(),
		RollUnder:    b.RollUnder,
		SeedHash:     b.SeedHash.Hex(),
		UserSeedHash: b.UserSeedHash.Hex(),
		CreatedAt:    b.CreatedAt,
	}
}

type ResultResponse struct {
	BetID      uint64 `json:"bet_id"`
	Player     string `json:"player"`
	Amount     string `json:"amount"`
	RollUnder  uint8  `json:"roll_under"`
	RandomRoll uint8  `json:"random_roll"`
	Seed       string `json:"seed"`
	Payout     string `json:"payout"`
	Won        bool   `json:"won"`
}

func NewResultResponse(r dice.Result) ResultResponse {
	return ResultResponse{
		BetID:      r.BetID,
		Player:     r.Player,
		Amount:     r.Amount.String(),
		RollUnder:  r.RollUnder,
		RandomRoll: r.RandomRoll,
		Seed:       r.Seed.Hex(),
		Payout:     r.Payout.String(),
		Won:        r.Won(),
	}
}

// RecentResultsResponse lista as últimas apostas resolvidas, da mais nova para a mais antiga
type RecentResultsResponse struct {
	Player string   `json:"player"`
	BetIDs []uint64 `json:"bet_ids"`
}

type PoolResponse struct {
	Symbol    string `json:"symbol"`
	Balance   string `json:"balance"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type HashSeedResponse struct {
	Hash string `json:"hash"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
