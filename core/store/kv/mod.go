// Package kv defines the abstraction for a key/value database.
//
// A database is organized in buckets and every read or write happens inside a
// transaction. The package also implements the default engine using bbolt
// (https://github.com/etcd-io/bbolt) and a small registry so that other
// engines can be selected by name.
package kv

import (
	"sort"
	"sync"

	"go.dedis.ch/hyperlog/core/store"
	"golang.org/x/xerrors"
)

// Bucket is a general interface to operate on a database bucket.
//
// Slices returned by the bucket are only valid for the duration of the
// transaction and must be copied when they are kept.
type Bucket interface {
	// Get reads the key from the bucket and returns the value, or nil if the
	// key does not exist.
	Get(key []byte) []byte

	// Set assigns the value to the provided key.
	Set(key, value []byte) error

	// Delete deletes the key from the bucket.
	Delete(key []byte) error

	// ForEach iterates over all the items in the bucket in the byte order of
	// the keys. The iteration stops when the callback returns an error.
	ForEach(func(k, v []byte) error) error

	// Scan iterates over every key that matches the prefix in the byte order
	// of the keys. The iteration stops when the callback returns an error.
	Scan(prefix []byte, fn func(k, v []byte) error) error
}

// ReadableTx allows one to perform read-only atomic operations on the database.
type ReadableTx interface {
	// GetBucket returns the bucket of the given name if it exists, otherwise it
	// returns nil.
	GetBucket(name []byte) Bucket
}

// WritableTx allows one to perform atomic operations on the database.
type WritableTx interface {
	store.Transaction

	ReadableTx

	// GetBucketOrCreate returns the bucket of the given name if it exists, or
	// it creates it.
	GetBucketOrCreate(name []byte) (Bucket, error)

	// DeleteBucket removes the bucket and all its keys. It is a no-op when the
	// bucket does not exist.
	DeleteBucket(name []byte) error
}

// DB is a general interface to operate over a key/value database.
type DB interface {
	// View executes the provided read-only transaction in the context of the
	// database.
	View(fn func(ReadableTx) error) error

	// Update executes the provided writable transaction in the context of the
	// database. The transaction is rolled back if the function returns an
	// error.
	Update(fn func(WritableTx) error) error

	// Close closes the database and free the resources.
	Close() error
}

// Factory opens a database of a given engine at the given location.
type Factory func(path string) (DB, error)

var (
	registryLock sync.Mutex
	registry     = map[string]Factory{}
)

// Register makes an engine available under the name. It overrides any engine
// previously registered with the same name.
func Register(name string, f Factory) {
	registryLock.Lock()
	registry[name] = f
	registryLock.Unlock()
}

// Engines returns the sorted list of the registered engine names.
func Engines() []string {
	registryLock.Lock()
	defer registryLock.Unlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Open opens a database with the engine registered under the name.
func Open(engine, path string) (DB, error) {
	registryLock.Lock()
	f, found := registry[engine]
	registryLock.Unlock()

	if !found {
		return nil, xerrors.Errorf("unknown engine '%s'", engine)
	}

	db, err := f(path)
	if err != nil {
		return nil, xerrors.Errorf("engine '%s': %v", engine, err)
	}

	return db, nil
}

// Size returns the number of bytes used by the keys and the values of the
// bucket, or zero if the bucket is nil.
func Size(bucket Bucket) (uint64, error) {
	if bucket == nil {
		return 0, nil
	}

	var total uint64

	err := bucket.ForEach(func(k, v []byte) error {
		total += uint64(len(k) + len(v))
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("while iterating: %v", err)
	}

	return total, nil
}
