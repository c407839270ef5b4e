package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("a"))
	assert.Equal(t, 4, e.CountTokens("abcdefghijklmnop"))
	assert.Equal(t, 2, e.CountTokens("推理"))
	assert.Equal(t, "estimator", e.Name())
}

func TestTiktoken_UnknownEncodingFallsBack(t *testing.T) {
	tk := NewTiktoken("no_such_encoding", nil)
	assert.False(t, tk.Ready())
	assert.Equal(t, "estimator", tk.Name())
	assert.Equal(t, NewEstimator().CountTokens("hello world, again"), tk.CountTokens("hello world, again"))
	assert.Zero(t, tk.CountTokens(""))
}

func TestNew(t *testing.T) {
	assert.IsType(t, &Estimator{}, New("estimator", "", nil))
	tk, ok := New("", "", nil).(*Tiktoken)
	assert.True(t, ok)
	assert.Equal(t, DefaultEncoding, tk.encoding)
}
