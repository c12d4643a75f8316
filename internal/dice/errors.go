package dice

import (
	"errors"
	"fmt"
	"strings"
)

// Erros de rejeição: o chamador recebe o erro e nada é persistido
var (
	ErrInvalidAsset      = errors.New("invalid asset")
	ErrSymbolMismatch    = fmt.Errorf("%w: symbol mismatch", ErrInvalidAsset)
	ErrRange             = errors.New("roll under overflow, must be in range [2 : 96]")
	ErrInsufficientPool  = errors.New("expected payout is greater than the maximum bonus")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateID       = errors.New("duplicate bet ID")
	ErrNotFound          = errors.New("bet not found")
	ErrSeedMismatch      = errors.New("seed does not match commitment")
	ErrUnauthorized      = errors.New("missing authority")
)

// Erros de invariante interna: indicam inconsistência no livro do pool.
// Devem gerar alerta, não retry.
var (
	ErrOverdraw     = errors.New("fund unlock error - deposit overdraw")
	ErrPoolOverdraw = errors.New("fund pool overdraw")
)

// Error carrega o contexto de uma falha (aposta, símbolo, limites)
type Error struct {
	Kind   error
	BetID  uint64
	Symbol string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.BetID != 0 {
		fmt.Fprintf(&b, ", bet id: %d", e.BetID)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&b, ", symbol: %s", e.Symbol)
	}
	if e.Detail != "" {
		b.WriteString(", ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf monta um *Error com detalhe formatado
func Errorf(kind error, betID uint64, symbol string, format string, args ...any) *Error {
	return &Error{Kind: kind, BetID: betID, Symbol: symbol, Detail: fmt.Sprintf(format, args...)}
}

// IsInternal informa se o erro é uma violação de invariante (overdraw do pool)
func IsInternal(err error) bool {
	return errors.Is(err, ErrOverdraw) || errors.Is(err, ErrPoolOverdraw)
}
