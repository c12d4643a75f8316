package topics

const (
	// Bets
	BetReceipt = "dice_bet_receipt"
	BetResult  = "dice_bet_result"

	// Tokens
	TokenTransfer = "dice_token_transfer"
)
