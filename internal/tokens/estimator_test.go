package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char rounds up", "a", 1},
		{"exactly four", "abcd", 1},
		{"five rounds up", "abcde", 2},
		{"eight", "abcdefgh", 2},
		{"long", strings.Repeat("x", 4000), 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
			assert.Equal(t, tt.want, EstimateBytes([]byte(tt.text)))
		})
	}
}

func TestEstimate_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		got := Estimate(s)

		// Ceiling division bounds: len/4 <= got <= len/4+1, and zero only
		// for the empty string.
		if len(s) == 0 {
			assert.Zero(t, got)
			return
		}
		assert.GreaterOrEqual(t, got*4, len(s))
		assert.Less(t, (got-1)*4, len(s))
	})
}

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o"))
	assert.Equal(t, "cl100k_base", EncodingForModel("claude-3-opus"))
	assert.Equal(t, DefaultEncoding, EncodingForModel("unknown-model"))
}

func TestModelFromBody(t *testing.T) {
	assert.Equal(t, "gpt-4o", ModelFromBody([]byte(`{"model":"gpt-4o","messages":[]}`)))
	assert.Equal(t, "", ModelFromBody([]byte(`{"messages":[]}`)))
	assert.Equal(t, "", ModelFromBody([]byte("plain text prompt")))
	assert.Equal(t, "", ModelFromBody(nil))
}

func TestCounter_DisabledReturnsZero(t *testing.T) {
	c, err := NewCounter("", zap.NewNop().Sugar(), false)
	require.NoError(t, err)

	n, err := c.Count("hello world, this is a longer sentence")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCounter_InvalidEncodingRejected(t *testing.T) {
	_, err := NewCounter("not-a-real-encoding", zap.NewNop().Sugar(), true)
	assert.Error(t, err)
}

func TestCounter_EnableDisable(t *testing.T) {
	c, err := NewCounter("", zap.NewNop().Sugar(), false)
	require.NoError(t, err)

	assert.False(t, c.IsEnabled())
	c.SetEnabled(true)
	assert.True(t, c.IsEnabled())
}
