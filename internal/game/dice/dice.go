// Package dice parses and rolls tabletop dice expressions such as "1d20+3"
// and reports each roll with its individual dice.
package dice

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Result is the audit trail of one evaluated expression.
//
// Postcondition: Total() == sum(Dice) + Modifier.
type Result struct {
	Expression string
	Dice       []int
	Modifier   int
}

// Total returns the sum of the kept dice plus the modifier.
func (r Result) Total() int {
	total := r.Modifier
	for _, d := range r.Dice {
		total += d
	}
	return total
}

// Breakdown renders the dice and modifier, e.g. "[14 3] +2".
func (r Result) Breakdown() string {
	parts := make([]string, len(r.Dice))
	for i, d := range r.Dice {
		parts[i] = fmt.Sprint(d)
	}
	out := "[" + strings.Join(parts, " ") + "]"
	if r.Modifier != 0 {
		out += fmt.Sprintf(" %+d", r.Modifier)
	}
	return out
}

// String renders "1d20+3: [14] +3 = 17".
func (r Result) String() string {
	return fmt.Sprintf("%s: %s = %d", r.Expression, r.Breakdown(), r.Total())
}

// Source is the randomness behind rolls. Implementations must be safe for
// concurrent use.
type Source interface {
	// Intn returns a value in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Intn panics if n <= 0 or crypto/rand fails.
func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return int(v.Int64())
}
