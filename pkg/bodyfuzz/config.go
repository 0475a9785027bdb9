// Package bodyfuzz produces structurally mutated variants of a JSON body
// schema tree: dropped, selected, duplicated and type-swapped members.
package bodyfuzz

import (
	"github.com/vikasavnish/seqfuzz/pkg/config"
)

// Fuzz strategies.
const (
	StrategySingle = "single"
	StrategyPath   = "path"
	StrategyAll    = "all"
)

// Propagation strategies.
const (
	PropagationExhaustive = "EX"
	PropagationD1         = "D1"
	PropagationLinearBias = "linear_bias"
)

const defaultBound = 100

// NoCombinations as MaxCombination makes Run return nothing. Zero means
// the default cap.
const NoCombinations = -1

// Config bounds a structural fuzzing run.
type Config struct {
	MaxDepth int
	// MaxCombination caps the variants Run returns. Zero uses the
	// DefaultConfig cap.
	MaxCombination     int
	ShuffleCombination bool
	Seed               int64
	FuzzStrategy       string
	Propagation        string
	ShufflePropagation bool
	// Bound caps the combinations produced at each node. Values <= 0 use 100.
	Bound int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxDepth:       10,
		MaxCombination: 1000,
		FuzzStrategy:   StrategySingle,
		Propagation:    PropagationExhaustive,
		Bound:          1000,
	}
}

// FromSettings converts the payload_body settings section.
func FromSettings(pb config.PayloadBodyConfig) Config {
	return Config{
		MaxDepth:           pb.MaxDepth,
		MaxCombination:     pb.MaxCombination,
		ShuffleCombination: pb.ShuffleCombination,
		Seed:               pb.Seed,
		FuzzStrategy:       pb.FuzzStrategy,
		Propagation:        pb.PropagationStrategy,
		ShufflePropagation: pb.ShufflePropagation,
		Bound:              pb.Bound,
	}
}

// single reports whether each variant should carry one mutation only.
func (c Config) single() bool {
	return c.FuzzStrategy == StrategySingle
}

// propagation returns the effective strategy: single and path force D1
// without shuffling, all forces an exhaustive product.
func (c Config) propagation() (strategy string, shuffle bool) {
	switch c.FuzzStrategy {
	case StrategySingle, StrategyPath:
		return PropagationD1, false
	case StrategyAll:
		return PropagationExhaustive, c.ShufflePropagation
	}
	if c.Propagation == "" {
		return PropagationExhaustive, c.ShufflePropagation
	}
	return c.Propagation, c.ShufflePropagation
}

func (c Config) bound() int {
	if c.Bound <= 0 {
		return defaultBound
	}
	return c.Bound
}

func (c Config) maxCombination() int {
	if c.MaxCombination == 0 {
		return DefaultConfig().MaxCombination
	}
	if c.MaxCombination < 0 {
		return 0
	}
	return c.MaxCombination
}
