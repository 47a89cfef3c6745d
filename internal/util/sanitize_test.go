package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	t.Run("trims and flattens whitespace controls", func(t *testing.T) {
		actual := SanitizeText("  duplicate\trecord\nentered twice  ", 0)
		require.Equal(t, "duplicate record entered twice", actual)
	})

	t.Run("returns empty for blank input", func(t *testing.T) {
		require.Equal(t, "", SanitizeText("   ", 100))
	})

	t.Run("strips zero-width characters", func(t *testing.T) {
		actual := SanitizeText("Asset\u200B retired\u200B early", 100)
		require.Equal(t, "Asset retired early", actual)
	})

	t.Run("strips other control characters", func(t *testing.T) {
		actual := SanitizeText("bad\x00value\x07", 100)
		require.Equal(t, "badvalue", actual)
	})

	t.Run("truncates by runes", func(t *testing.T) {
		actual := SanitizeText(strings.Repeat("é", 300), 255)
		require.Len(t, []rune(actual), 255)
	})
}

func TestSanitizeIdentifier(t *testing.T) {
	t.Parallel()

	require.Equal(t, "inventory", SanitizeIdentifier("  Inventory "))
}
