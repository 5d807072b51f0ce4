// Package badgerdb implements the key/value database abstraction on top of
// BadgerDB (https://github.com/dgraph-io/badger).
//
// Badger has a flat key space, so buckets are emulated with key prefixes. A
// bucket named N stores the key K under 'b' || len(N) || N || K, and its
// existence is recorded by the marker key 'm' || N.
package badgerdb

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
)

// EngineBadger is the name of the badger engine in the registry.
const EngineBadger = "badger"

const (
	dataTag   = 'b'
	markerTag = 'm'
)

// DB is the adapter of a badger database.
//
// - implements kv.DB
type DB struct {
	badger *badger.DB
}

// New opens a badger database in the given directory. Passing an empty path
// opens an in-memory instance.
func New(path string) (*DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return &DB{badger: db}, nil
}

// View implements kv.DB.
func (db *DB) View(fn func(kv.ReadableTx) error) error {
	return db.badger.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

// Update implements kv.DB. The commit callbacks run once badger reports the
// transaction as committed.
func (db *DB) Update(fn func(kv.WritableTx) error) error {
	t := &tx{}

	err := db.badger.Update(func(txn *badger.Txn) error {
		t.txn = txn
		return fn(t)
	})
	if err != nil {
		return err
	}

	for _, cb := range t.callbacks {
		cb()
	}

	return nil
}

// Close implements kv.DB.
func (db *DB) Close() error {
	return db.badger.Close()
}

// tx is the adapter of a badger transaction.
//
// - implements kv.WritableTx
type tx struct {
	txn       *badger.Txn
	callbacks []func()
}

// GetBucket implements kv.ReadableTx.
func (t *tx) GetBucket(name []byte) kv.Bucket {
	_, err := t.txn.Get(markerKey(name))
	if err != nil {
		return nil
	}

	return &bucket{txn: t.txn, prefix: bucketPrefix(name)}
}

// GetBucketOrCreate implements kv.WritableTx.
func (t *tx) GetBucketOrCreate(name []byte) (kv.Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("failed to create bucket: bucket name required")
	}

	b := t.GetBucket(name)
	if b != nil {
		return b, nil
	}

	err := t.txn.Set(markerKey(name), []byte{})
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return &bucket{txn: t.txn, prefix: bucketPrefix(name)}, nil
}

// DeleteBucket implements kv.WritableTx.
func (t *tx) DeleteBucket(name []byte) error {
	prefix := bucketPrefix(name)

	var keys [][]byte

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := t.txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		err := t.txn.Delete(key)
		if err != nil {
			return xerrors.Errorf("failed to delete bucket: %v", err)
		}
	}

	err := t.txn.Delete(markerKey(name))
	if err != nil {
		return xerrors.Errorf("failed to delete bucket: %v", err)
	}

	return nil
}

// OnCommit implements store.Transaction.
func (t *tx) OnCommit(fn func()) {
	t.callbacks = append(t.callbacks, fn)
}

// bucket is a view of the key space under a bucket prefix.
//
// - implements kv.Bucket
type bucket struct {
	txn    *badger.Txn
	prefix []byte
}

// Get implements kv.Bucket.
func (b *bucket) Get(key []byte) []byte {
	item, err := b.txn.Get(b.key(key))
	if err != nil {
		return nil
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil
	}

	return value
}

// Set implements kv.Bucket.
func (b *bucket) Set(key, value []byte) error {
	if len(key) == 0 {
		return xerrors.New("key required")
	}

	// Badger keeps a reference to the slices until the commit.
	v := append([]byte{}, value...)

	return b.txn.Set(b.key(key), v)
}

// Delete implements kv.Bucket.
func (b *bucket) Delete(key []byte) error {
	return b.txn.Delete(b.key(key))
}

// ForEach implements kv.Bucket.
func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	return b.iterate(nil, fn)
}

// Scan implements kv.Bucket.
func (b *bucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	err := b.iterate(prefix, fn)
	if err != nil {
		return xerrors.Errorf("callback failed: %w", err)
	}

	return nil
}

func (b *bucket) iterate(prefix []byte, fn func(k, v []byte) error) error {
	full := b.key(prefix)

	it := b.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(full); it.ValidForPrefix(full); it.Next() {
		item := it.Item()

		value, err := item.ValueCopy(nil)
		if err != nil {
			return xerrors.Errorf("failed to read value: %v", err)
		}

		err = fn(item.KeyCopy(nil)[len(b.prefix):], value)
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *bucket) key(k []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(k))
	full = append(full, b.prefix...)

	return append(full, k...)
}

func bucketPrefix(name []byte) []byte {
	prefix := make([]byte, 3, 3+len(name))
	prefix[0] = dataTag
	binary.BigEndian.PutUint16(prefix[1:], uint16(len(name)))

	return append(prefix, name...)
}

func markerKey(name []byte) []byte {
	return append([]byte{markerTag}, name...)
}

func init() {
	kv.Register(EngineBadger, func(path string) (kv.DB, error) {
		return New(path)
	})
}
