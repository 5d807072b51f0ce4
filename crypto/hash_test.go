package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFactory_New(t *testing.T) {
	factory := NewBlake2bFactory()

	h := factory.New()
	h.Write([]byte("abc"))

	// Test vector from RFC 7693 adapted to a 256-bit digest.
	require.Equal(t,
		"bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
		hex.EncodeToString(h.Sum(nil)))

	require.Equal(t, HashSize, NewHashFactory(Sha256).New().Size())

	require.Panics(t, func() { NewHashFactory(HashAlgorithm(99)).New() })
}

func TestKeyedHash(t *testing.T) {
	digest, err := KeyedHash([]byte("key"), []byte("hypercore"))
	require.NoError(t, err)
	require.Len(t, digest, HashSize)

	other, err := KeyedHash([]byte("other"), []byte("hypercore"))
	require.NoError(t, err)
	require.NotEqual(t, digest, other)

	_, err = KeyedHash(make([]byte, 65), nil)
	require.Error(t, err)
}
