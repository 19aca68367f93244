package rooms

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^[ABCDEFGHJKMNPQRSTUVWXYZ23456789]{6}$`)

	for range 200 {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		assert.Regexp(t, pattern, code)
		assert.False(t, strings.ContainsAny(code, "0OIL1"), "code %q contains an ambiguous character", code)
	}
}

func TestGenerateCode_Spread(t *testing.T) {
	seen := make(map[string]bool)
	dupes := 0
	for range 1000 {
		code, err := GenerateCode()
		require.NoError(t, err)
		if seen[code] {
			dupes++
		}
		seen[code] = true
	}
	// 31^6 combinations; a handful of collisions in 1000 draws would mean a broken source.
	assert.LessOrEqual(t, dupes, 1)
}
