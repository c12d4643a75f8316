package dto

import "github.com/radieske/dice-settlement/internal/dice"

type PlaceBetRequest struct {
	Player       string           `json:"player"`
	Quantity     string           `json:"quantity"` // ex: "100.00 USD"
	RollUnder    uint8            `json:"roll_under"`
	SeedHash     dice.Checksum256 `json:"seed_hash"`
	UserSeedHash dice.Checksum256 `json:"user_seed_hash"`
	PaySysCms    bool             `json:"pay_sys_cms"`
}

type ResolveBetRequest struct {
	Account string           `json:"account"`
	Seed    dice.Checksum256 `json:"seed"`
}

type IssueRequest struct {
	To       string `json:"to"`
	Quantity string `json:"quantity"`
}

type HashSeedRequest struct {
	Seed string `json:"seed"`
}
