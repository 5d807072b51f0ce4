package crypto

import (
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm identifies one of the supported hash functions.
type HashAlgorithm int

const (
	// Blake2b256 is the default algorithm of the integrity tree.
	Blake2b256 HashAlgorithm = iota
	Sha256
)

// HashSize is the size in bytes of the digests of every supported algorithm.
const HashSize = 32

// hashFactory is a hash factory for the supported algorithms.
//
// - implements crypto.HashFactory
type hashFactory struct {
	hashType HashAlgorithm
}

// NewHashFactory returns a new instance of the factory.
func NewHashFactory(a HashAlgorithm) HashFactory {
	return hashFactory{a}
}

// NewBlake2bFactory returns a factory of unkeyed BLAKE2b-256 hashes.
func NewBlake2bFactory() HashFactory {
	return hashFactory{Blake2b256}
}

// New implements crypto.HashFactory. It returns a new Hash instance.
func (f hashFactory) New() hash.Hash {
	switch f.hashType {
	case Blake2b256:
		// The error is only returned for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	case Sha256:
		return sha256.New()
	default:
		panic("unknown hash type")
	}
}

// KeyedHash returns the BLAKE2b-256 digest of the message keyed with key. The
// key must not be longer than 64 bytes.
func KeyedHash(key, msg []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}

	h.Write(msg)

	return h.Sum(nil), nil
}
