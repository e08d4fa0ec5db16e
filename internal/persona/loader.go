package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/flock/internal/rhythm"
)

// fileConfig mirrors Config with optional trait fields, so a YAML file can
// omit a trait and still get the 0.5 default instead of a hard zero.
type fileConfig struct {
	Version     int    `yaml:"version"`
	ID          string `yaml:"id"`
	Handle      string `yaml:"handle"`
	DisplayName string `yaml:"display_name"`
	Bio         string `yaml:"bio"`

	Topics []string `yaml:"topics"`

	FrequencyTier string `yaml:"frequency_tier"`
	Chronotype    string `yaml:"chronotype"`
	UTCOffset     int    `yaml:"utc_offset"`

	Traits struct {
		Expressiveness *float64 `yaml:"expressiveness"`
		Drama          *float64 `yaml:"drama"`
		Independence   *float64 `yaml:"independence"`
		Warmth         *float64 `yaml:"warmth"`
		Curiosity      *float64 `yaml:"curiosity"`
	} `yaml:"traits"`
}

// LoadFile parses one persona YAML file, applying defaults:
// version 1, medium tier, normal chronotype, 0.5 for omitted traits.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("persona %s: %w", path, err)
	}

	cfg := Config{
		Version:       fc.Version,
		ID:            fc.ID,
		Handle:        fc.Handle,
		DisplayName:   fc.DisplayName,
		Bio:           fc.Bio,
		Topics:        fc.Topics,
		UTCOffset:     fc.UTCOffset,
		FrequencyTier: rhythm.FrequencyTier(fc.FrequencyTier),
		Chronotype:    rhythm.Chronotype(fc.Chronotype),
		Traits: Traits{
			Expressiveness: traitOrDefault(fc.Traits.Expressiveness),
			Drama:          traitOrDefault(fc.Traits.Drama),
			Independence:   traitOrDefault(fc.Traits.Independence),
			Warmth:         traitOrDefault(fc.Traits.Warmth),
			Curiosity:      traitOrDefault(fc.Traits.Curiosity),
		},
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.FrequencyTier == "" {
		cfg.FrequencyTier = rhythm.TierMedium
	}
	if cfg.Chronotype == "" {
		cfg.Chronotype = rhythm.ChronoNormal
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Handle
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDir loads every *.yaml / *.yml file in dir, sorted by filename.
func LoadDir(dir string) ([]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	configs := make([]Config, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		cfg, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("persona %s: duplicate id", cfg.ID)
		}
		seen[cfg.ID] = true
		configs = append(configs, cfg)
	}
	return configs, nil
}

func traitOrDefault(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	return clamp01(*v)
}
