// Package mem implements an in-memory key/value database. It is meant for
// tests and ephemeral logs: nothing survives the process.
package mem

import (
	"bytes"
	"sort"
	"sync"

	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
)

// EngineMem is the name of the in-memory engine in the registry.
const EngineMem = "mem"

// DB is an in-memory database. Writable transactions are serialized and work
// on copies of the buckets they touch, which are swapped in on commit.
//
// - implements kv.DB
type DB struct {
	sync.RWMutex

	// writer serializes the writable transactions.
	writer  sync.Mutex
	buckets map[string]*bucket
	closed  bool
}

// NewDB returns a new empty database.
func NewDB() *DB {
	return &DB{
		buckets: make(map[string]*bucket),
	}
}

// View implements kv.DB.
func (db *DB) View(fn func(kv.ReadableTx) error) error {
	db.RLock()
	defer db.RUnlock()

	if db.closed {
		return xerrors.New("database closed")
	}

	return fn(&readTx{buckets: db.buckets})
}

// Update implements kv.DB.
func (db *DB) Update(fn func(kv.WritableTx) error) error {
	db.writer.Lock()
	defer db.writer.Unlock()

	db.RLock()
	if db.closed {
		db.RUnlock()
		return xerrors.New("database closed")
	}

	tx := &writeTx{
		base:    db.buckets,
		touched: make(map[string]*bucket),
		deleted: make(map[string]struct{}),
	}
	db.RUnlock()

	err := fn(tx)
	if err != nil {
		return err
	}

	db.Lock()

	next := make(map[string]*bucket, len(db.buckets)+len(tx.touched))
	for name, b := range db.buckets {
		if _, gone := tx.deleted[name]; !gone {
			next[name] = b
		}
	}
	for name, b := range tx.touched {
		next[name] = b
	}

	db.buckets = next

	db.Unlock()

	for _, cb := range tx.callbacks {
		cb()
	}

	return nil
}

// Close implements kv.DB.
func (db *DB) Close() error {
	db.Lock()
	db.closed = true
	db.buckets = nil
	db.Unlock()

	return nil
}

type readTx struct {
	buckets map[string]*bucket
}

// GetBucket implements kv.ReadableTx.
func (tx *readTx) GetBucket(name []byte) kv.Bucket {
	b, found := tx.buckets[string(name)]
	if !found {
		return nil
	}

	return b
}

type writeTx struct {
	base      map[string]*bucket
	touched   map[string]*bucket
	deleted   map[string]struct{}
	callbacks []func()
}

// GetBucket implements kv.ReadableTx. The bucket is cloned on first access so
// that writes through it stay local to the transaction.
func (tx *writeTx) GetBucket(name []byte) kv.Bucket {
	key := string(name)

	if b, found := tx.touched[key]; found {
		return b
	}

	if _, gone := tx.deleted[key]; gone {
		return nil
	}

	b, found := tx.base[key]
	if !found {
		return nil
	}

	clone := b.clone()
	tx.touched[key] = clone

	return clone
}

// GetBucketOrCreate implements kv.WritableTx.
func (tx *writeTx) GetBucketOrCreate(name []byte) (kv.Bucket, error) {
	if len(name) == 0 {
		return nil, xerrors.New("bucket name required")
	}

	b := tx.GetBucket(name)
	if b != nil {
		return b, nil
	}

	created := newBucket()
	tx.touched[string(name)] = created
	delete(tx.deleted, string(name))

	return created, nil
}

// DeleteBucket implements kv.WritableTx.
func (tx *writeTx) DeleteBucket(name []byte) error {
	key := string(name)

	delete(tx.touched, key)
	tx.deleted[key] = struct{}{}

	return nil
}

// OnCommit implements store.Transaction.
func (tx *writeTx) OnCommit(fn func()) {
	tx.callbacks = append(tx.callbacks, fn)
}

// bucket keeps the keys sorted so that iterations follow the byte order.
//
// - implements kv.Bucket
type bucket struct {
	values map[string][]byte
	keys   []string
}

func newBucket() *bucket {
	return &bucket{values: make(map[string][]byte)}
}

func (b *bucket) clone() *bucket {
	c := &bucket{
		values: make(map[string][]byte, len(b.values)),
		keys:   append([]string{}, b.keys...),
	}

	for k, v := range b.values {
		c.values[k] = v
	}

	return c
}

// Get implements kv.Bucket.
func (b *bucket) Get(key []byte) []byte {
	return b.values[string(key)]
}

// Set implements kv.Bucket. The value is copied.
func (b *bucket) Set(key, value []byte) error {
	if len(key) == 0 {
		return xerrors.New("key required")
	}

	k := string(key)

	if _, found := b.values[k]; !found {
		i := sort.SearchStrings(b.keys, k)
		b.keys = append(b.keys, "")
		copy(b.keys[i+1:], b.keys[i:])
		b.keys[i] = k
	}

	b.values[k] = append([]byte{}, value...)

	return nil
}

// Delete implements kv.Bucket.
func (b *bucket) Delete(key []byte) error {
	k := string(key)

	if _, found := b.values[k]; !found {
		return nil
	}

	delete(b.values, k)

	i := sort.SearchStrings(b.keys, k)
	b.keys = append(b.keys[:i], b.keys[i+1:]...)

	return nil
}

// ForEach implements kv.Bucket.
func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	for _, k := range append([]string{}, b.keys...) {
		err := fn([]byte(k), b.values[k])
		if err != nil {
			return err
		}
	}

	return nil
}

// Scan implements kv.Bucket.
func (b *bucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	keys := append([]string{}, b.keys...)

	for i := sort.SearchStrings(keys, string(prefix)); i < len(keys); i++ {
		key := []byte(keys[i])
		if !bytes.HasPrefix(key, prefix) {
			break
		}

		err := fn(key, b.values[keys[i]])
		if err != nil {
			return xerrors.Errorf("callback failed: %w", err)
		}
	}

	return nil
}

func init() {
	kv.Register(EngineMem, func(string) (kv.DB, error) {
		return NewDB(), nil
	})
}
