package code

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate_AlwaysSixDigits(t *testing.T) {
	for i := 0; i < 1000; i++ {
		c, err := Generate()
		require.NoError(t, err)
		require.Len(t, c, 6)

		for _, r := range c {
			require.True(t, r >= '0' && r <= '9', "non-digit in code %q", c)
		}

		require.GreaterOrEqual(t, c, "100000")
		require.LessOrEqual(t, c, "999999")
	}
}

func TestGenerate_Varies(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		c, err := Generate()
		require.NoError(t, err)
		seen[c] = struct{}{}
	}

	// 100 draws from 900k values colliding down to a handful would mean
	// a broken randomness source.
	require.Greater(t, len(seen), 50)
}
