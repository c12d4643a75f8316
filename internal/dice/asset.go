package dice

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxSymbolCode  = 7
	maxPrecision   = 18
	maxAssetAmount = int64(1)<<62 - 1
)

// só dígitos, sinal negativo opcional e ponto decimal; sem expoente
var amountPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Symbol identifica um ativo: código (ex: "USD") + casas decimais
type Symbol struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

// NewSymbol valida e cria um símbolo
func NewSymbol(code string, precision uint8) (Symbol, error) {
	s := Symbol{Code: code, Precision: precision}
	if !s.IsValid() {
		return Symbol{}, Errorf(ErrInvalidAsset, 0, code, "malformed symbol (precision %d)", precision)
	}
	return s, nil
}

// IsValid: código com 1..7 letras maiúsculas e precisão até 18
func (s Symbol) IsValid() bool {
	if len(s.Code) == 0 || len(s.Code) > maxSymbolCode || s.Precision > maxPrecision {
		return false
	}
	for _, c := range s.Code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// Key é a chave usada nas tabelas (ex: "2,USD")
func (s Symbol) Key() string { return fmt.Sprintf("%d,%s", s.Precision, s.Code) }

func (s Symbol) String() string { return s.Key() }

// Issuer retorna a conta emissora do token (código em minúsculas)
func (s Symbol) Issuer() string { return strings.ToLower(s.Code) }

// Asset é um valor de ponto fixo: inteiro + símbolo, sempre juntos
type Asset struct {
	Amount int64  `json:"amount"`
	Symbol Symbol `json:"symbol"`
}

// NewAsset cria um ativo a partir do valor inteiro (unidades mínimas)
func NewAsset(amount int64, sym Symbol) Asset { return Asset{Amount: amount, Symbol: sym} }

// ParseAsset lê strings no formato "100.00 USD"; a precisão vem das casas decimais
func ParseAsset(s string) (Asset, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Asset{}, Errorf(ErrInvalidAsset, 0, "", "expected \"<amount> <CODE>\", got %q", s)
	}
	num, code := fields[0], fields[1]
	if !amountPattern.MatchString(num) {
		return Asset{}, Errorf(ErrInvalidAsset, 0, code, "malformed amount %q", num)
	}

	var precision int
	if i := strings.IndexByte(num, '.'); i >= 0 {
		precision = len(num) - i - 1
	}
	if precision > maxPrecision {
		return Asset{}, Errorf(ErrInvalidAsset, 0, code, "precision %d exceeds %d", precision, maxPrecision)
	}
	sym, err := NewSymbol(code, uint8(precision))
	if err != nil {
		return Asset{}, err
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return Asset{}, Errorf(ErrInvalidAsset, 0, code, "parse amount: %v", err)
	}
	raw := d.Shift(int32(precision))
	if !raw.IsInteger() || raw.Abs().GreaterThan(decimal.NewFromInt(maxAssetAmount)) {
		return Asset{}, Errorf(ErrInvalidAsset, 0, code, "amount %s out of range", num)
	}
	return Asset{Amount: raw.IntPart(), Symbol: sym}, nil
}

// MustParseAsset é usado em testes e defaults
func MustParseAsset(s string) Asset {
	a, err := ParseAsset(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsAmountWithinRange verifica |amount| <= 2^62-1
func (a Asset) IsAmountWithinRange() bool {
	return a.Amount >= -maxAssetAmount && a.Amount <= maxAssetAmount
}

// IsValid: valor dentro do intervalo e símbolo bem formado
func (a Asset) IsValid() bool { return a.IsAmountWithinRange() && a.Symbol.IsValid() }

func (a Asset) IsZero() bool { return a.Amount == 0 }

// Decimal retorna o valor com a precisão do símbolo aplicada
func (a Asset) Decimal() decimal.Decimal {
	return decimal.New(a.Amount, -int32(a.Symbol.Precision))
}

// String formata como "100.00 USD"
func (a Asset) String() string {
	return a.Decimal().StringFixed(int32(a.Symbol.Precision)) + " " + a.Symbol.Code
}

// Add soma dois ativos do mesmo símbolo
func (a Asset) Add(b Asset) (Asset, error) {
	if a.Symbol != b.Symbol {
		return Asset{}, mismatch(a, b)
	}
	if (b.Amount > 0 && a.Amount > math.MaxInt64-b.Amount) || (b.Amount < 0 && a.Amount < math.MinInt64-b.Amount) {
		return Asset{}, Errorf(ErrInvalidAsset, 0, a.Symbol.Code, "addition overflow")
	}
	out := Asset{Amount: a.Amount + b.Amount, Symbol: a.Symbol}
	if !out.IsAmountWithinRange() {
		return Asset{}, Errorf(ErrInvalidAsset, 0, a.Symbol.Code, "addition overflow")
	}
	return out, nil
}

// Sub subtrai dois ativos do mesmo símbolo
func (a Asset) Sub(b Asset) (Asset, error) {
	return a.Add(Asset{Amount: -b.Amount, Symbol: b.Symbol})
}

// Cmp compara dois ativos do mesmo símbolo (-1, 0, 1)
func (a Asset) Cmp(b Asset) (int, error) {
	if a.Symbol != b.Symbol {
		return 0, mismatch(a, b)
	}
	switch {
	case a.Amount < b.Amount:
		return -1, nil
	case a.Amount > b.Amount:
		return 1, nil
	}
	return 0, nil
}

func mismatch(a, b Asset) error {
	return Errorf(ErrSymbolMismatch, 0, a.Symbol.Code, "%s vs %s", a.Symbol, b.Symbol)
}
