package batch

import (
	"errors"
	"fmt"
	"math"
	"runtime"
)

// Strategy selects how the batch size is derived from the workload.
type Strategy string

// Supported sizing strategies.
const (
	// StrategyFraction sizes each batch as a fraction of the total item count.
	StrategyFraction Strategy = "fraction"

	// StrategyCPU sizes each batch to the number of logical CPUs.
	StrategyCPU Strategy = "cpu"

	// StrategyFixed uses a configured batch size.
	StrategyFixed Strategy = "fixed"
)

// DefaultFraction is the share of the workload processed per batch.
const DefaultFraction = 0.2

// MinBatchSize is the minimum batch size any strategy can produce.
const MinBatchSize = 1

// Sizing errors.
var (
	ErrInvalidFraction = errors.New("batch fraction must be greater than 0 and at most 1")
	ErrInvalidSize     = errors.New("fixed batch size must be at least 1")
	ErrUnknownStrategy = errors.New("unknown batch strategy")
)

// Sizer computes the batch size for a workload.
type Sizer struct {
	// Strategy is the sizing strategy. Empty means StrategyFraction.
	Strategy Strategy

	// Fraction is used by StrategyFraction. Zero means DefaultFraction.
	Fraction float64

	// Size is used by StrategyFixed.
	Size int

	// NumCPU overrides runtime.NumCPU for StrategyCPU (tests).
	NumCPU func() int
}

// DefaultSizer returns the fraction strategy with DefaultFraction.
func DefaultSizer() Sizer {
	return Sizer{Strategy: StrategyFraction, Fraction: DefaultFraction}
}

// ParseStrategy converts a config or flag value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyFraction:
		return StrategyFraction, nil
	case StrategyCPU:
		return StrategyCPU, nil
	case StrategyFixed:
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("%w: %q (want fraction, cpu or fixed)", ErrUnknownStrategy, s)
	}
}

// Validate reports whether the sizer can produce batch sizes.
func (s Sizer) Validate() error {
	strategy, err := ParseStrategy(string(s.Strategy))
	if err != nil {
		return err
	}

	switch strategy {
	case StrategyFraction:
		if s.Fraction != 0 && (s.Fraction <= 0 || s.Fraction > 1 || math.IsNaN(s.Fraction)) {
			return fmt.Errorf("%w: got %v", ErrInvalidFraction, s.Fraction)
		}
	case StrategyFixed:
		if s.Size < MinBatchSize {
			return fmt.Errorf("%w: got %d", ErrInvalidSize, s.Size)
		}
	case StrategyCPU:
	}
	return nil
}

// BatchSize returns the batch size for total items, clamped to [1, total].
// For the fraction strategy this is max(1, round(fraction * total)).
func (s Sizer) BatchSize(total int) int {
	if total <= 0 {
		return MinBatchSize
	}

	var size int
	switch s.Strategy {
	case StrategyCPU:
		numCPU := runtime.NumCPU
		if s.NumCPU != nil {
			numCPU = s.NumCPU
		}
		size = numCPU()
	case StrategyFixed:
		size = s.Size
	default:
		fraction := s.Fraction
		if fraction == 0 {
			fraction = DefaultFraction
		}
		size = int(math.Round(fraction * float64(total)))
	}

	return min(max(size, MinBatchSize), total)
}

// String describes the sizer for logs and the manifest.
func (s Sizer) String() string {
	switch s.Strategy {
	case StrategyCPU:
		return string(StrategyCPU)
	case StrategyFixed:
		return fmt.Sprintf("%s(%d)", StrategyFixed, s.Size)
	default:
		fraction := s.Fraction
		if fraction == 0 {
			fraction = DefaultFraction
		}
		return fmt.Sprintf("%s(%g)", StrategyFraction, fraction)
	}
}
