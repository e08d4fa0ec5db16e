package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flock/internal/rhythm"
)

func writePersona(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "luna.yaml", `
id: luna
handle: luna_m
`)

	cfg, err := LoadFile(filepath.Join(dir, "luna.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "luna_m", cfg.DisplayName)
	assert.Equal(t, rhythm.TierMedium, cfg.FrequencyTier)
	assert.Equal(t, rhythm.ChronoNormal, cfg.Chronotype)
	assert.Equal(t, 0.5, cfg.Traits.Expressiveness)
	assert.Equal(t, 0.5, cfg.Traits.Drama)
	assert.Equal(t, 0.5, cfg.Traits.Independence)
	assert.Equal(t, 0.5, cfg.Traits.Warmth)
	assert.Equal(t, 0.5, cfg.Traits.Curiosity)
}

func TestLoadFileKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "kai.yaml", `
version: 2
id: kai
handle: kai_h
display_name: Kai
bio: ramen and synths
topics: [ramen, synths]
frequency_tier: high
chronotype: night_owl
utc_offset: 9
traits:
  expressiveness: 0.9
  drama: 0.1
`)

	cfg, err := LoadFile(filepath.Join(dir, "kai.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, "Kai", cfg.DisplayName)
	assert.Equal(t, []string{"ramen", "synths"}, cfg.Topics)
	assert.Equal(t, rhythm.TierHigh, cfg.FrequencyTier)
	assert.Equal(t, rhythm.ChronoNightOwl, cfg.Chronotype)
	assert.Equal(t, 9, cfg.UTCOffset)
	assert.Equal(t, 0.9, cfg.Traits.Expressiveness)
	assert.Equal(t, 0.1, cfg.Traits.Drama)
	// Omitted traits still default.
	assert.Equal(t, 0.5, cfg.Traits.Warmth)
}

func TestLoadFileClampsTraits(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "max.yaml", `
id: max
handle: max_v
traits:
  expressiveness: 1.7
  drama: -0.3
`)

	cfg, err := LoadFile(filepath.Join(dir, "max.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Traits.Expressiveness)
	assert.Equal(t, 0.0, cfg.Traits.Drama)
}

func TestLoadFileRejectsInvalidTier(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad.yaml", `
id: bad
handle: bad_h
frequency_tier: firehose
`)

	_, err := LoadFile(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown frequency tier")
}

func TestLoadFileRequiresIDAndHandle(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "noid.yaml", "handle: h\n")
	writePersona(t, dir, "nohandle.yaml", "id: x\n")

	_, err := LoadFile(filepath.Join(dir, "noid.yaml"))
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "nohandle.yaml"))
	require.Error(t, err)
}

func TestLoadDirSortsAndRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "b_kai.yaml", "id: kai\nhandle: kai_h\n")
	writePersona(t, dir, "a_luna.yml", "id: luna\nhandle: luna_m\n")
	writePersona(t, dir, "notes.txt", "not a persona")

	configs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "luna", configs[0].ID)
	assert.Equal(t, "kai", configs[1].ID)

	writePersona(t, dir, "c_dup.yaml", "id: luna\nhandle: other\n")
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestEngagementBudget(t *testing.T) {
	cold := Config{Traits: Traits{}}
	assert.Equal(t, 2, cold.EngagementBudget())

	warm := Config{Traits: Traits{Warmth: 1, Curiosity: 1, Expressiveness: 1}}
	assert.Equal(t, 5, warm.EngagementBudget())

	mid := Config{Traits: Traits{Warmth: 0.5, Curiosity: 0.5, Expressiveness: 0.5}}
	assert.Equal(t, 4, mid.EngagementBudget())
}
