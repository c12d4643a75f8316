package roll

import (
	farm "github.com/dgryski/go-farm"

	"github.com/radieske/dice-settlement/internal/dice"
)

// combine mistura o hash de v no acumulador (ordem importa)
func combine(seed uint64, v string) uint64 {
	h := farm.Hash64([]byte(v))
	return seed ^ (h + 0x9e3779b9 + (seed << 6) + (seed >> 2))
}

// Roll deriva o resultado do dado em [1,100] a partir de duas sementes,
// cada uma convertida para hex canônico antes de entrar no acumulador
func Roll(a, b dice.Checksum256) uint8 {
	var h uint64
	h = combine(h, a.Hex())
	h = combine(h, b.Hex())
	return uint8(h%100 + 1)
}

// Commit gera o compromisso de uma semente: sha256 do hex da semente
func Commit(seed dice.Checksum256) dice.Checksum256 {
	return dice.Sha256(seed.Hex())
}

// Verify confere se a semente revelada corresponde ao compromisso
func Verify(seed, commitment dice.Checksum256) error {
	if Commit(seed) != commitment {
		return &dice.Error{Kind: dice.ErrSeedMismatch, Detail: "commitment " + commitment.Hex()}
	}
	return nil
}
