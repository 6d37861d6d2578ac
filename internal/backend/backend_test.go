package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "-inf", formatScore(NegInf()))
	assert.Equal(t, "+inf", formatScore(PosInf()))
	assert.Equal(t, "0", formatScore(0))
	assert.Equal(t, "42", formatScore(42))
}

func TestExclusiveInclusiveBounds(t *testing.T) {
	assert.Equal(t, "(5", exclusive(5))
	assert.Equal(t, "5", inclusive(5))
	assert.Equal(t, "(-inf", exclusive(NegInf()))
	assert.Equal(t, "+inf", inclusive(PosInf()))
}

func TestRandomTokenIsUniqueAndHex(t *testing.T) {
	a, err := randomToken()
	assert.NoError(t, err)
	b, err := randomToken()
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32) // 16 bytes hex-encoded
}

func TestToMembers(t *testing.T) {
	members := toMembers(nil)
	assert.Empty(t, members)
}
