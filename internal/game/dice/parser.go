package dice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expression is a parsed dice expression.
//
// Invariant: Count >= 1, Sides >= 2, 0 <= KeepHighest < Count.
type Expression struct {
	Raw         string
	Count       int
	Sides       int
	Modifier    int
	KeepHighest int
}

// MaxDice caps the number of dice in one expression.
const MaxDice = 100

var exprPattern = regexp.MustCompile(`^(\d*)d(\d+)(?:kh(\d+))?(?:([+-])(\d+))?$`)

// Parse reads forms like "d20", "1d20+3", "2d6-1" and "4d6kh3". Whitespace
// and case are ignored.
//
// Postcondition: Returns a valid Expression or a descriptive error.
func Parse(raw string) (Expression, error) {
	s := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	m := exprPattern.FindStringSubmatch(s)
	if m == nil {
		return Expression{}, fmt.Errorf("dice: cannot parse %q", raw)
	}

	e := Expression{Raw: s, Count: 1}
	var err error
	if m[1] != "" {
		if e.Count, err = strconv.Atoi(m[1]); err != nil {
			return Expression{}, fmt.Errorf("dice: die count in %q: %w", raw, err)
		}
	}
	if e.Sides, err = strconv.Atoi(m[2]); err != nil {
		return Expression{}, fmt.Errorf("dice: die sides in %q: %w", raw, err)
	}
	if m[3] != "" {
		if e.KeepHighest, err = strconv.Atoi(m[3]); err != nil {
			return Expression{}, fmt.Errorf("dice: keep count in %q: %w", raw, err)
		}
	}
	if m[5] != "" {
		if e.Modifier, err = strconv.Atoi(m[5]); err != nil {
			return Expression{}, fmt.Errorf("dice: modifier in %q: %w", raw, err)
		}
		if m[4] == "-" {
			e.Modifier = -e.Modifier
		}
	}

	switch {
	case e.Count < 1 || e.Count > MaxDice:
		return Expression{}, fmt.Errorf("dice: die count in %q must be in [1, %d]", raw, MaxDice)
	case e.Sides < 2:
		return Expression{}, fmt.Errorf("dice: die sides in %q must be >= 2", raw)
	case m[3] != "" && (e.KeepHighest < 1 || e.KeepHighest >= e.Count):
		return Expression{}, fmt.Errorf("dice: keep count in %q must be in [1, %d)", raw, e.Count)
	}
	return e, nil
}

// MustParse is Parse for package-level expressions; it panics on error.
func MustParse(raw string) Expression {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// String formats e in canonical form, e.g. "4d6kh3+2".
func (e Expression) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dd%d", e.Count, e.Sides)
	if e.KeepHighest > 0 {
		fmt.Fprintf(&b, "kh%d", e.KeepHighest)
	}
	if e.Modifier != 0 {
		fmt.Fprintf(&b, "%+d", e.Modifier)
	}
	return b.String()
}

// WithModifier adds mod to the modifier of base, so "1d20+2" with 3 gives
// "1d20+5". A base that does not parse is returned with mod appended and
// fails when rolled.
func WithModifier(base string, mod int) string {
	if mod == 0 {
		return base
	}
	e, err := Parse(base)
	if err != nil {
		return fmt.Sprintf("%s%+d", base, mod)
	}
	e.Modifier += mod
	return e.String()
}
