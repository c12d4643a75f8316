package events

import "time"

type TokenTransfer struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Quantity string    `json:"quantity"`
	Contract string    `json:"contract"` // conta do token ou emissor (código em minúsculas)
	Memo     string    `json:"memo"`
	Ts       time.Time `json:"ts"`
}
