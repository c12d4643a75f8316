package dice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Checksum256 é um hash/semente de 256 bits
type Checksum256 [32]byte

// ParseChecksum256 lê a representação hex (64 caracteres)
func ParseChecksum256(s string) (Checksum256, error) {
	var c Checksum256
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("checksum256: %w", err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("checksum256: expected %d bytes, got %d", len(c), len(b))
	}
	copy(c[:], b)
	return c, nil
}

// Sha256 calcula o hash de uma string arbitrária
func Sha256(s string) Checksum256 { return sha256.Sum256([]byte(s)) }

// Hex é a forma canônica (minúsculas)
func (c Checksum256) Hex() string { return hex.EncodeToString(c[:]) }

func (c Checksum256) String() string { return c.Hex() }

func (c Checksum256) IsZero() bool { return c == Checksum256{} }

func (c Checksum256) MarshalJSON() ([]byte, error) { return json.Marshal(c.Hex()) }

func (c *Checksum256) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseChecksum256(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
