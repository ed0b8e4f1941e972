package fracrank

import "fmt"

// AppendStrategy defines how KeyForLast produces a key after the current tail.
type AppendStrategy int

const (
	// AppendMidpoint places the new key halfway between the tail and the
	// virtual maximum. Keys stay short for the first few appends but grow by
	// one digit every few appends after that.
	AppendMidpoint AppendStrategy = iota

	// AppendStep advances the tail's leading digit by StepSize and only
	// extends the key once that digit runs out, so long append-only lists
	// grow one digit per len(Alphabet)/StepSize appends.
	AppendStep
)

func (s AppendStrategy) String() string {
	switch s {
	case AppendMidpoint:
		return "midpoint"
	case AppendStep:
		return "step"
	default:
		return fmt.Sprintf("AppendStrategy(%d)", int(s))
	}
}

// ParseAppendStrategy maps a configuration name to a strategy.
func ParseAppendStrategy(name string) (AppendStrategy, error) {
	switch name {
	case "", "midpoint":
		return AppendMidpoint, nil
	case "step":
		return AppendStep, nil
	default:
		return 0, fmt.Errorf("unknown append strategy %q", name)
	}
}

// Config holds configuration for a Generator.
type Config struct {
	// Alphabet is the digit set keys are written in (default: Base36).
	Alphabet Alphabet

	// AppendStrategy determines how KeyForLast extends a list.
	AppendStrategy AppendStrategy

	// StepSize is the digit distance used by AppendStep (default: 1).
	StepSize int

	// MaxRankLength is the key length above which NeedsRebalance reports
	// true. Zero disables the check.
	MaxRankLength int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Alphabet:       Base36,
		AppendStrategy: AppendMidpoint,
		StepSize:       1,
		MaxRankLength:  32,
	}
}

// ProductionConfig returns a configuration suited to long, append-heavy
// lists: step appends leave room between neighbours and keys are allowed to
// grow further before a rebalance is requested.
func ProductionConfig() *Config {
	return &Config{
		Alphabet:       Base36,
		AppendStrategy: AppendStep,
		StepSize:       2,
		MaxRankLength:  64,
	}
}

// WithAlphabet sets the alphabet.
func (c *Config) WithAlphabet(a Alphabet) *Config {
	newConfig := *c
	newConfig.Alphabet = a
	return &newConfig
}

// WithAppendStrategy sets the append strategy.
func (c *Config) WithAppendStrategy(strategy AppendStrategy) *Config {
	newConfig := *c
	newConfig.AppendStrategy = strategy
	return &newConfig
}

// WithStepSize sets the step size for AppendStep.
func (c *Config) WithStepSize(step int) *Config {
	newConfig := *c
	newConfig.StepSize = step
	return &newConfig
}

// WithMaxRankLength sets the rebalance threshold.
func (c *Config) WithMaxRankLength(length int) *Config {
	newConfig := *c
	newConfig.MaxRankLength = length
	return &newConfig
}
