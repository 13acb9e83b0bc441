package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalOrdersKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "v"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"y":"v","z":true},"b":1}`, string(out))
	assert.Equal(t, `{"a":{"y":"v","z":true},"b":1}`, string(out))
}

func TestHashStableAcrossEquivalentInputs(t *testing.T) {
	first, err := Hash(map[string]any{"name": "x", "count": 3})
	require.NoError(t, err)
	second, err := Hash(map[string]any{"count": 3, "name": "x"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashDiffersForDifferentInputs(t *testing.T) {
	a, err := Hash(map[string]any{"v": 1})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"v": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHMACDependsOnKey(t *testing.T) {
	payload := map[string]any{"event": "CREATED"}
	one, err := HMAC([]byte("key-one-key-one-key-one-key-one!"), payload)
	require.NoError(t, err)
	two, err := HMAC([]byte("key-two-key-two-key-two-key-two!"), payload)
	require.NoError(t, err)
	assert.NotEqual(t, one, two)

	again, err := HMAC([]byte("key-one-key-one-key-one-key-one!"), payload)
	require.NoError(t, err)
	assert.True(t, Equal(one, again))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.False(t, Equal("abc", "abcd"))
}
