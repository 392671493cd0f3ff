package solana

import (
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyBytes() []byte {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestNewSigner_Base58(t *testing.T) {
	encoded := base58.Encode(testKeyBytes())
	s, err := NewSigner(encoded)
	require.NoError(t, err)
	assert.NotEmpty(t, s.PublicKey())
}

func TestNewSigner_IntArray(t *testing.T) {
	raw := testKeyBytes()
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	encoded, err := json.Marshal(ints)
	require.NoError(t, err)

	s, err := NewSigner(string(encoded))
	require.NoError(t, err)

	// Both encodings of the same key yield the same wallet.
	fromB58, err := NewSigner(base58.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, fromB58.PublicKey(), s.PublicKey())
}

func TestNewSigner_Invalid(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewSigner("")
		assert.Error(t, err)
	})
	t.Run("bad base58", func(t *testing.T) {
		_, err := NewSigner("0OIl")
		assert.Error(t, err)
	})
	t.Run("wrong length", func(t *testing.T) {
		_, err := NewSigner(base58.Encode([]byte{1, 2, 3}))
		assert.Error(t, err)
	})
	t.Run("byte out of range", func(t *testing.T) {
		_, err := NewSigner("[1,2,300]")
		assert.Error(t, err)
	})
}

func TestSignBase64_RejectsGarbage(t *testing.T) {
	s, err := NewSigner(base58.Encode(testKeyBytes()))
	require.NoError(t, err)

	_, _, err = s.SignBase64("not-base64!!!")
	assert.Error(t, err)
}
