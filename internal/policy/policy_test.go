package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLexicon(t *testing.T) {
	f := NewFilter()

	violating := []string{
		"did you see the election coverage",
		"Vote For my favorite band",
		"huge CRYPTO GIVEAWAY, don't miss out",
		"click here for details",
		"yet another conspiracy",
	}
	for _, text := range violating {
		assert.True(t, f.IsViolating(text), "expected violation: %q", text)
	}

	clean := []string{
		"just tried a new pour-over ratio, game changer",
		"anyone else staying up way too late lately?",
		"",
	}
	for _, text := range clean {
		assert.False(t, f.IsViolating(text), "expected clean: %q", text)
	}
}

func TestExtraTerms(t *testing.T) {
	f := NewFilter("pineapple pizza", "  SPOILERS  ", "")

	assert.True(t, f.IsViolating("hot take: Pineapple Pizza is fine"))
	assert.True(t, f.IsViolating("major spoilers ahead"))
	assert.False(t, f.IsViolating("plain cheese is underrated"))
}

func TestMatchIsSubstring(t *testing.T) {
	f := NewFilter()

	// Substring matching is deliberate: "elections" still trips "election".
	assert.True(t, f.IsViolating("midterm elections"))
}
