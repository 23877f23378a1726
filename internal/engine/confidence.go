package engine

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfidence flags a raw confidence outside [0,1]. It is fatal:
// classification fails rather than guessing a score.
var ErrInvalidConfidence = errors.New("invalid confidence")

// Normalize maps a raw confidence in [0,1] to an integer score in [0,100],
// rounding half up at the hundredths boundary. The input is snapped to
// micro-units first so float representation (0.855 stored as 0.85499...)
// cannot drag a boundary case down.
func Normalize(raw float64) (int, error) {
	if math.IsNaN(raw) || raw < 0 || raw > 1 {
		return 0, fmt.Errorf("%w: %v is outside [0,1]", ErrInvalidConfidence, raw)
	}
	micro := int64(math.Round(raw * 1e6))
	score := micro / 10000
	if (micro%10000)*2 >= 10000 {
		score++
	}
	return int(score), nil
}
