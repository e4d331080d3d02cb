package dice

import (
	"slices"

	"go.uber.org/zap"
)

// Roll evaluates e against src.
//
// Postcondition: len(Dice) == Count, or KeepHighest when it is set, and the
// kept dice are the highest rolled, in descending order.
func Roll(e Expression, src Source) Result {
	rolled := make([]int, e.Count)
	for i := range rolled {
		rolled[i] = src.Intn(e.Sides) + 1
	}
	if e.KeepHighest > 0 {
		slices.Sort(rolled)
		slices.Reverse(rolled)
		rolled = rolled[:e.KeepHighest]
	}
	return Result{Expression: e.Raw, Dice: rolled, Modifier: e.Modifier}
}

// Roller rolls against a Source and logs every result at debug level.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewRoller creates a Roller.
//
// Precondition: src and logger must be non-nil.
func NewRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Roll evaluates e and logs the result.
func (r *Roller) Roll(e Expression) Result {
	res := Roll(e, r.src)
	r.logger.Debug("dice roll",
		zap.String("expression", res.Expression),
		zap.Ints("dice", res.Dice),
		zap.Int("modifier", res.Modifier),
		zap.Int("total", res.Total()),
	)
	return res
}

// RollString parses raw and rolls it.
//
// Postcondition: Returns a Result or the parse error.
func (r *Roller) RollString(raw string) (Result, error) {
	e, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	return r.Roll(e), nil
}
