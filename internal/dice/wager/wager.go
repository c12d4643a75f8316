package wager

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/dice-settlement/internal/dice"
)

// Numerador das odds: 98 contra o espaço de 100 resultados (vantagem da casa)
const oddsNumerator = 98

// Comissão da casa sobre o prêmio: 2/1000 (0.2%)
const (
	commissionNumerator   = 2
	commissionDenominator = 1000
)

// Rate é uma comissão percentual: amount * Num / (Den * 100)
type Rate struct {
	Num int64
	Den int64
}

// Payout calcula floor(98 / (rollUnder - 1) * stake) no símbolo da aposta.
// A conta é feita em inteiros (98*stake div (rollUnder-1)), com truncamento.
func Payout(rollUnder uint8, stake dice.Asset) (dice.Asset, error) {
	if rollUnder < dice.MinRollUnder {
		return dice.Asset{}, dice.Errorf(dice.ErrRange, 0, stake.Symbol.Code, "roll under %d", rollUnder)
	}
	q, _ := decimal.NewFromInt(stake.Amount).
		Mul(decimal.NewFromInt(oddsNumerator)).
		QuoRem(decimal.NewFromInt(int64(rollUnder)-1), 0)

	out := dice.NewAsset(q.IntPart(), stake.Symbol)
	if !q.IsInteger() || !out.IsAmountWithinRange() || !q.Equal(decimal.NewFromInt(out.Amount)) {
		return dice.Asset{}, dice.Errorf(dice.ErrInvalidAsset, 0, stake.Symbol.Code, "payout overflow for stake %s", stake)
	}
	return out, nil
}

// Commission calcula payout * 2 / 1000, truncado
func Commission(payout dice.Asset) dice.Asset {
	return dice.NewAsset(mulDiv(payout.Amount, commissionNumerator, commissionDenominator), payout.Symbol)
}

// DepositCommission desconta a comissão do emissor sobre o depósito:
// stake - stake*num/(den*100)
func DepositCommission(stake dice.Asset, r Rate) (dice.Asset, error) {
	if r.Num == 0 {
		return stake, nil
	}
	if r.Num < 0 || r.Den <= 0 {
		return dice.Asset{}, dice.Errorf(dice.ErrInvalidAsset, 0, stake.Symbol.Code, "bad commission rate %d/%d", r.Num, r.Den)
	}
	fee := dice.NewAsset(mulDiv(stake.Amount, r.Num, r.Den*100), stake.Symbol)
	return stake.Sub(fee)
}

// ValidateQuantity exige valor não negativo e símbolo bem formado
func ValidateQuantity(a dice.Asset) error {
	if !a.IsValid() {
		return dice.Errorf(dice.ErrInvalidAsset, 0, a.Symbol.Code, "quantity invalid")
	}
	if a.Amount < 0 {
		return dice.Errorf(dice.ErrInvalidAsset, 0, a.Symbol.Code, "negative quantity %s", a)
	}
	return nil
}

// ValidateRollUnder exige 2 <= r <= 96 e payout <= saldo disponível.
// available deve refletir os bloqueios já aplicados no pool.
func ValidateRollUnder(r uint8, stake, available dice.Asset) error {
	if r < dice.MinRollUnder || r > dice.MaxRollUnder {
		return dice.Errorf(dice.ErrRange, 0, stake.Symbol.Code, "got %d", r)
	}
	payout, err := Payout(r, stake)
	if err != nil {
		return err
	}
	cmp, err := payout.Cmp(available)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return dice.Errorf(dice.ErrInsufficientPool, 0, stake.Symbol.Code, "payout %s, available %s", payout, available)
	}
	return nil
}

// mulDiv faz a*num/den sem estourar int64 no produto intermediário
func mulDiv(a, num, den int64) int64 {
	q, _ := decimal.NewFromInt(a).Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	return q.IntPart()
}
