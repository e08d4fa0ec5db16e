// Package persona defines the versioned persona configuration: identity,
// personality traits, posting tier and circadian profile. Configs are loaded
// from YAML files with explicit defaulting rules so that sparse files stay
// valid.
package persona

import (
	"errors"
	"fmt"
	"math"

	"github.com/petrijr/flock/internal/rhythm"
)

// Traits are the persona's personality dimensions, each in [0, 1].
type Traits struct {
	Expressiveness float64 `yaml:"expressiveness"`
	Drama          float64 `yaml:"drama"`
	Independence   float64 `yaml:"independence"`
	Warmth         float64 `yaml:"warmth"`
	Curiosity      float64 `yaml:"curiosity"`
}

// Config is one persona's full configuration.
type Config struct {
	Version     int    `yaml:"version"`
	ID          string `yaml:"id"`
	Handle      string `yaml:"handle"`
	DisplayName string `yaml:"display_name"`
	Bio         string `yaml:"bio"`

	Topics []string `yaml:"topics"`

	FrequencyTier rhythm.FrequencyTier `yaml:"frequency_tier"`
	Chronotype    rhythm.Chronotype    `yaml:"chronotype"`
	UTCOffset     int                  `yaml:"utc_offset"`

	Traits Traits `yaml:"traits"`
}

// Validate checks the fields that have no sensible default.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("persona: id is required")
	}
	if c.Handle == "" {
		return fmt.Errorf("persona %s: handle is required", c.ID)
	}
	switch c.FrequencyTier {
	case rhythm.TierLow, rhythm.TierMedium, rhythm.TierHigh:
	default:
		return fmt.Errorf("persona %s: unknown frequency tier %q", c.ID, c.FrequencyTier)
	}
	switch c.Chronotype {
	case rhythm.ChronoEarlyBird, rhythm.ChronoNormal, rhythm.ChronoNightOwl:
	default:
		return fmt.Errorf("persona %s: unknown chronotype %q", c.ID, c.Chronotype)
	}
	return nil
}

// RhythmParams maps the config onto the rhythm engine's inputs.
func (c *Config) RhythmParams() rhythm.Params {
	return rhythm.Params{
		Tier:           c.FrequencyTier,
		Chronotype:     c.Chronotype,
		UTCOffset:      c.UTCOffset,
		Expressiveness: c.Traits.Expressiveness,
		Drama:          c.Traits.Drama,
		Independence:   c.Traits.Independence,
	}
}

// EngagementBudget is the per-session actionable-item ceiling, derived from
// the warmth-weighted trait score: round(2 + 3*score).
func (c *Config) EngagementBudget() int {
	score := 0.4*c.Traits.Warmth + 0.3*c.Traits.Curiosity + 0.3*c.Traits.Expressiveness
	return int(math.Round(2 + 3*score))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
