package ledger

import (
	"crypto/rand"
	"io"
	"strings"
)

// =============================================================================
// REDEMPTION CODE GENERATOR
// =============================================================================

// CodeGenerator issues the opaque code bound to a Redemption entry.
// Uniqueness is enforced by the store (ErrDuplicateCode), not by the
// generator, so implementations only need to make collisions unlikely.
type CodeGenerator interface {
	Generate(accountID AccountID, entryID EntryID) (string, error)
}

// CodeAlphabet avoids look-alike characters (O/0, I/1, L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const DefaultCodeLength = 12

// RandomCodeGenerator draws characters from a cryptographic source and
// formats them as XXXX-XXXX-XXXX. It does not depend on the clock, so two
// redemptions in the same instant still get independent codes.
type RandomCodeGenerator struct {
	Length int
	Rand   io.Reader
}

func NewRandomCodeGenerator(length int) *RandomCodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &RandomCodeGenerator{Length: length, Rand: rand.Reader}
}

func (g *RandomCodeGenerator) Generate(_ AccountID, _ EntryID) (string, error) {
	buf := make([]byte, g.Length)
	if _, err := io.ReadFull(g.Rand, buf); err != nil {
		return "", err
	}
	// 248 is the largest multiple of len(CodeAlphabet) below 256; rejecting
	// bytes above it keeps the distribution uniform.
	const limit = 256 - 256%len(CodeAlphabet)
	var b strings.Builder
	one := make([]byte, 1)
	for i := 0; i < g.Length; i++ {
		c := buf[i]
		for int(c) >= limit {
			if _, err := io.ReadFull(g.Rand, one); err != nil {
				return "", err
			}
			c = one[0]
		}
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(CodeAlphabet[int(c)%len(CodeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases a user-typed code and trims whitespace.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
