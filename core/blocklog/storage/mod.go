// Package storage implements the layout of a log on a key/value database.
//
// A log uses five buckets, all prefixed by its namespace:
//
//	oplog     the header (key pair, length, fork, signature) as JSON
//	tree      the Merkle nodes by flat index
//	blocks    the raw blocks by index
//	bitfield  the presence pages by page number
//	userdata  the user values by name
//
// Integer keys are big-endian so that the byte order of the keys follows the
// numerical order.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.dedis.ch/hyperlog/core/blocklog/bitfield"
	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"go.dedis.ch/hyperlog/core/store"
	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
)

// DefaultCacheSize is the number of blocks kept in memory by default.
const DefaultCacheSize = 1024

var headerKey = []byte("header")

// Header is the persisted metadata of a log.
type Header struct {
	Key       []byte `json:"key"`
	SecretKey []byte `json:"secretKey,omitempty"`
	Length    uint64 `json:"length"`
	Fork      uint64 `json:"fork"`
	Signature []byte `json:"signature,omitempty"`
}

// Breakdown is the number of bytes used by each part of a log.
type Breakdown struct {
	Oplog    uint64
	Tree     uint64
	Blocks   uint64
	Bitfield uint64
}

type bucketNames struct {
	oplog    []byte
	tree     []byte
	blocks   []byte
	bitfield []byte
	userdata []byte
}

func newBucketNames(namespace string) bucketNames {
	name := func(suffix string) []byte {
		if namespace == "" {
			return []byte(suffix)
		}

		return []byte(namespace + "/" + suffix)
	}

	return bucketNames{
		oplog:    name("oplog"),
		tree:     name("tree"),
		blocks:   name("blocks"),
		bitfield: name("bitfield"),
		userdata: name("userdata"),
	}
}

func (n bucketNames) all() [][]byte {
	return [][]byte{n.oplog, n.tree, n.blocks, n.bitfield, n.userdata}
}

// blockCache is shared by every instance of the storage of a log.
type blockCache struct {
	sync.Mutex

	blocks     *lru.Cache
	generation uint64
}

// Storage reads and writes a log in a key/value database.
//
// - implements merkle.NodeReader
type Storage struct {
	db    kv.DB
	names bucketNames
	cache *blockCache

	txn kv.ReadableTx
}

// New returns the storage of the log in the namespace of the database.
func New(db kv.DB, namespace string, cacheSize int) (*Storage, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	blocks, err := lru.New(cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create cache: %v", err)
	}

	s := &Storage{
		db:    db,
		names: newBucketNames(namespace),
		cache: &blockCache{blocks: blocks},
	}

	return s, nil
}

// WithTx returns a storage that will use the transaction for the operations on
// the database. Writes are only allowed when the transaction is writable.
func (s *Storage) WithTx(txn kv.ReadableTx) *Storage {
	return &Storage{
		db:    s.db,
		names: s.names,
		cache: s.cache,
		txn:   txn,
	}
}

// View executes the read-only function in the context of the storage.
func (s *Storage) View(fn func(*Storage) error) error {
	return s.doView(func(tx kv.ReadableTx) error {
		return fn(s.WithTx(tx))
	})
}

// Update executes the read-write function in the context of the storage. The
// changes are only visible once the function returns without error.
func (s *Storage) Update(fn func(*Storage) error) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		return fn(s.WithTx(tx))
	})
}

// OnCommit registers a callback executed after the transaction of the storage
// is committed. It panics if the storage is not bound to a writable
// transaction.
func (s *Storage) OnCommit(fn func()) {
	txn, ok := s.txn.(store.Transaction)
	if !ok {
		panic(xerrors.Errorf("transaction '%T' does not support callbacks", s.txn))
	}

	txn.OnCommit(fn)
}

// ReadHeader returns the header of the log, or nil if it does not exist.
func (s *Storage) ReadHeader() (*Header, error) {
	var header *Header

	err := s.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(s.names.oplog)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(headerKey)
		if data == nil {
			return nil
		}

		header = new(Header)

		err := json.Unmarshal(data, header)
		if err != nil {
			return xerrors.Errorf("malformed header: %v", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return header, nil
}

// WriteHeader writes the header of the log.
func (s *Storage) WriteHeader(header Header) error {
	data, err := json.Marshal(header)
	if err != nil {
		return xerrors.Errorf("couldn't marshal header: %v", err)
	}

	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(s.names.oplog)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		return bucket.Set(headerKey, data)
	})
}

// ReadBlock returns the block at the index. The boolean is false if the block
// is not stored.
func (s *Storage) ReadBlock(index uint64) ([]byte, bool, error) {
	if s.txn == nil {
		value, found := s.cache.blocks.Get(index)
		if found {
			return value.([]byte), true, nil
		}
	}

	s.cache.Lock()
	generation := s.cache.generation
	s.cache.Unlock()

	var block []byte

	err := s.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(s.names.blocks)
		if bucket == nil {
			return nil
		}

		value := bucket.Get(makeKey(index))
		if value != nil {
			block = append([]byte{}, value...)
		}

		return nil
	})

	if err != nil {
		return nil, false, xerrors.Errorf("while reading: %v", err)
	}

	if block == nil {
		return nil, false, nil
	}

	// Blocks read inside a transaction might not be committed yet.
	if s.txn == nil {
		s.cache.Lock()
		if s.cache.generation == generation {
			s.cache.blocks.Add(index, block)
		}
		s.cache.Unlock()
	}

	return block, true, nil
}

// WriteBlocks writes the blocks starting at the index.
func (s *Storage) WriteBlocks(start uint64, blocks [][]byte) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(s.names.blocks)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		for i, block := range blocks {
			err = bucket.Set(makeKey(start+uint64(i)), block)
			if err != nil {
				return xerrors.Errorf("while writing block %d: %v", start+uint64(i), err)
			}
		}

		// A truncated index might be cached with a different content.
		tx.OnCommit(func() {
			s.evict(start, start+uint64(len(blocks)))
		})

		return nil
	})
}

// DeleteBlocks deletes the blocks of [start, end) and returns the number of
// bytes that were stored.
func (s *Storage) DeleteBlocks(start, end uint64) (uint64, error) {
	var removed uint64

	err := s.doUpdate(func(tx kv.WritableTx) error {
		bucket := tx.GetBucket(s.names.blocks)
		if bucket == nil {
			return nil
		}

		for i := start; i < end; i++ {
			key := makeKey(i)

			value := bucket.Get(key)
			if value == nil {
				continue
			}

			removed += uint64(len(value))

			err := bucket.Delete(key)
			if err != nil {
				return xerrors.Errorf("while deleting block %d: %v", i, err)
			}
		}

		tx.OnCommit(func() {
			s.evict(start, end)
		})

		return nil
	})

	if err != nil {
		return 0, err
	}

	return removed, nil
}

// GetNode implements merkle.NodeReader. It returns the node at the index.
func (s *Storage) GetNode(index uint64) (merkle.Node, bool, error) {
	var node merkle.Node
	var found bool

	err := s.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(s.names.tree)
		if bucket == nil {
			return nil
		}

		value := bucket.Get(makeKey(index))
		if value == nil {
			return nil
		}

		var err error
		node, err = merkle.NodeFromBytes(index, value)
		if err != nil {
			return xerrors.Errorf("malformed node: %v", err)
		}

		found = true

		return nil
	})

	if err != nil {
		return node, false, err
	}

	return node, found, nil
}

// WriteNodes writes the nodes of the tree.
func (s *Storage) WriteNodes(nodes []merkle.Node) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(s.names.tree)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		for _, node := range nodes {
			data, err := node.MarshalBinary()
			if err != nil {
				return xerrors.Errorf("couldn't marshal node %d: %v", node.Index, err)
			}

			err = bucket.Set(makeKey(node.Index), data)
			if err != nil {
				return xerrors.Errorf("while writing node %d: %v", node.Index, err)
			}
		}

		return nil
	})
}

// DeleteNodes deletes the nodes of the tree at the indices.
func (s *Storage) DeleteNodes(indices []uint64) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket := tx.GetBucket(s.names.tree)
		if bucket == nil {
			return nil
		}

		for _, index := range indices {
			err := bucket.Delete(makeKey(index))
			if err != nil {
				return xerrors.Errorf("while deleting node %d: %v", index, err)
			}
		}

		return nil
	})
}

// LoadBitfield fills the bitfield with the persisted pages.
func (s *Storage) LoadBitfield(bf *bitfield.Bitfield) error {
	return s.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(s.names.bitfield)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return xerrors.Errorf("malformed page key %#x", k)
			}

			return bf.LoadPage(binary.BigEndian.Uint64(k), v)
		})
	})
}

// WritePages writes the pages of the bitfield. Empty pages are deleted.
func (s *Storage) WritePages(pages []bitfield.Page) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(s.names.bitfield)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		for _, page := range pages {
			key := makeKey(page.Num)

			if page.Data == nil {
				err = bucket.Delete(key)
			} else {
				err = bucket.Set(key, page.Data)
			}

			if err != nil {
				return xerrors.Errorf("while writing page %d: %v", page.Num, err)
			}
		}

		return nil
	})
}

// ReadUserData returns every user value.
func (s *Storage) ReadUserData() (map[string][]byte, error) {
	values := make(map[string][]byte)

	err := s.doView(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(s.names.userdata)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			values[string(k)] = append([]byte{}, v...)
			return nil
		})
	})

	if err != nil {
		return nil, xerrors.Errorf("while reading: %v", err)
	}

	return values, nil
}

// WriteUserData sets the user value of the key. A nil value deletes it.
func (s *Storage) WriteUserData(key string, value []byte) error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(s.names.userdata)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		if value == nil {
			return bucket.Delete([]byte(key))
		}

		return bucket.Set([]byte(key), value)
	})
}

// Breakdown returns the number of bytes used by the parts of the log.
func (s *Storage) Breakdown() (Breakdown, error) {
	var b Breakdown

	err := s.doView(func(tx kv.ReadableTx) error {
		targets := []struct {
			name []byte
			size *uint64
		}{
			{s.names.oplog, &b.Oplog},
			{s.names.tree, &b.Tree},
			{s.names.blocks, &b.Blocks},
			{s.names.bitfield, &b.Bitfield},
		}

		for _, target := range targets {
			size, err := kv.Size(tx.GetBucket(target.name))
			if err != nil {
				return xerrors.Errorf("bucket '%s': %v", target.name, err)
			}

			*target.size = size
		}

		return nil
	})

	if err != nil {
		return b, err
	}

	return b, nil
}

// Reset deletes every bucket of the log.
func (s *Storage) Reset() error {
	return s.doUpdate(func(tx kv.WritableTx) error {
		for _, name := range s.names.all() {
			err := tx.DeleteBucket(name)
			if err != nil {
				return xerrors.Errorf("bucket '%s': %v", name, err)
			}
		}

		tx.OnCommit(func() {
			s.cache.Lock()
			s.cache.generation++
			s.cache.blocks.Purge()
			s.cache.Unlock()
		})

		return nil
	})
}

func (s *Storage) evict(start, end uint64) {
	s.cache.Lock()
	defer s.cache.Unlock()

	s.cache.generation++

	for i := start; i < end; i++ {
		s.cache.blocks.Remove(i)
	}
}

func (s *Storage) doUpdate(fn func(tx kv.WritableTx) error) error {
	if s.txn != nil {
		tx, ok := s.txn.(kv.WritableTx)
		if !ok {
			return xerrors.Errorf("transaction '%T' is not writable", s.txn)
		}

		return fn(tx)
	}

	return s.db.Update(fn)
}

func (s *Storage) doView(fn func(tx kv.ReadableTx) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}

	return s.db.View(fn)
}

func makeKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)

	return key
}
