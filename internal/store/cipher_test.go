package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewCipher(key)
	require.NoError(t, err)

	box, err := c.Seal("portal-password")
	require.NoError(t, err)
	assert.NotContains(t, string(box), "portal-password")

	plain, err := c.Open(box)
	require.NoError(t, err)
	assert.Equal(t, "portal-password", plain)
}

func TestCipher_NonceVariesPerSeal(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_RejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestCipher_RejectsTamperedBox(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	box, err := c.Seal("secret")
	require.NoError(t, err)
	box[len(box)-1] ^= 0xFF

	_, err = c.Open(box)
	assert.Error(t, err)
}

func TestCipher_RejectsTruncatedBox(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	_, err = c.Open([]byte{0x01, 0x02})
	assert.Error(t, err)
}
