// Package loader defines an abstraction to load a key from a persistent
// storage. It allows one to either read it from the storage, or to generate a
// new one and stores it for the next time.
package loader

import (
	"go.dedis.ch/kyber/v3/util/random"
)

// Generator is the interface to implement to generate a key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader is an abstraction to load a key from a storage. It allows for instance
// to load the primary key of a store from the disk, or generate it if it
// doesn't exist.
type Loader interface {
	// LoadOrCreate tries to load the key and returns it if found, otherwise it
	// generates a new one using the generator and stores it.
	LoadOrCreate(Generator) ([]byte, error)
}

// GeneratorFunc is a function that implements the generator interface.
//
// - implements loader.Generator
type GeneratorFunc func() ([]byte, error)

// Generate implements loader.Generator.
func (fn GeneratorFunc) Generate() ([]byte, error) {
	return fn()
}

// NewRandomGenerator returns a generator of random keys of the size.
func NewRandomGenerator(size int) Generator {
	return GeneratorFunc(func() ([]byte, error) {
		key := make([]byte, size)
		random.Bytes(key, random.New())

		return key, nil
	})
}
