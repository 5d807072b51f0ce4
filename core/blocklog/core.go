package blocklog

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog"
	"go.dedis.ch/hyperlog/core/blocklog/bitfield"
	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"go.dedis.ch/hyperlog/core/blocklog/storage"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/crypto"
	"go.dedis.ch/hyperlog/crypto/ed25519"
	"golang.org/x/xerrors"
)

type status int

const (
	statusUnopened status = iota
	statusOpening
	statusReady
	statusClosing
	statusClosed
)

// logCore is the state shared by every handle of a log. The fields below the
// mutex are only changed once the transaction that persists them is committed.
type logCore struct {
	sync.RWMutex

	// writeLock serializes the changes.
	writeLock sync.Mutex

	db     kv.DB
	ownsDB bool
	key    []byte
	tmpl   template
	logger zerolog.Logger

	openOnce sync.Once
	opened   chan struct{}
	openErr  error

	status       status
	storage      *storage.Storage
	signer       *ed25519.Signer
	publicKey    crypto.PublicKey
	keyBytes     []byte
	discoveryKey []byte
	tree         merkle.Tree
	bitfield     *bitfield.Bitfield
	fork         uint64
	userData     map[string][]byte

	// version changes with every append or truncation of the log.
	version uint64
	// truncations is the list of the lengths the log was truncated to.
	truncations []uint64
	// notify is closed and replaced after each change.
	notify chan struct{}

	refs      int
	handles   map[*Log]struct{}
	exclusive *Log
}

func newCore(db kv.DB, key []byte, tmpl template) *logCore {
	return &logCore{
		db:       db,
		key:      key,
		tmpl:     tmpl,
		logger:   tmpl.logger,
		opened:   make(chan struct{}),
		bitfield: bitfield.New(),
		userData: make(map[string][]byte),
		notify:   make(chan struct{}),
		handles:  make(map[*Log]struct{}),
	}
}

// start triggers the opening of the log in the background. It returns the
// channel closed when the opening is done.
func (c *logCore) start() <-chan struct{} {
	c.openOnce.Do(func() {
		go func() {
			c.openErr = c.open()
			close(c.opened)
		}()
	})

	return c.opened
}

func (c *logCore) open() error {
	c.Lock()
	if c.status != statusUnopened {
		c.Unlock()
		return ErrClosed
	}
	c.status = statusOpening
	c.Unlock()

	st, err := storage.New(c.db, c.tmpl.namespace, c.tmpl.cacheSize)
	if err != nil {
		return xerrors.Errorf("storage: %v", err)
	}

	if c.tmpl.overwrite {
		err = st.Reset()
		if err != nil {
			return xerrors.Errorf("while overwriting: %v", err)
		}
	}

	header, err := st.ReadHeader()
	if err != nil {
		return xerrors.Errorf("while reading header: %v: %w", err, ErrCorrupted)
	}

	if header == nil {
		header, err = c.create(st)
	} else {
		err = c.load(st, header)
	}

	if err != nil {
		return err
	}

	userData, err := st.ReadUserData()
	if err != nil {
		return xerrors.Errorf("user data: %v: %w", err, ErrCorrupted)
	}

	for key, value := range c.tmpl.userData {
		err = st.WriteUserData(key, value)
		if err != nil {
			return xerrors.Errorf("while writing user data: %v", err)
		}

		userData[key] = value
	}

	discoveryKey, err := ed25519.DiscoveryKey(c.publicKey)
	if err != nil {
		return xerrors.Errorf("discovery key: %v", err)
	}

	c.Lock()
	defer c.Unlock()

	c.storage = st
	c.discoveryKey = discoveryKey
	c.userData = userData
	c.fork = header.Fork

	if c.status == statusOpening {
		c.status = statusReady
	}

	c.logger = c.tmpl.logger.With().Str("key", shortKey(c.keyBytes)).Logger()
	c.logger.Info().
		Uint64("length", c.tree.Length()).
		Uint64("fork", c.fork).
		Bool("writable", c.signer != nil).
		Msg("log opened")

	promOpenLogs.Inc()

	return nil
}

// create initializes a new log in the storage.
func (c *logCore) create(st *storage.Storage) (*storage.Header, error) {
	if !c.tmpl.createIfMissing {
		return nil, ErrNotFound
	}

	signer := c.tmpl.signer
	if signer == nil && c.key == nil {
		s := ed25519.NewSigner()
		signer = &s
	}

	var publicKey crypto.PublicKey
	if signer != nil {
		publicKey = signer.GetPublicKey()
	} else {
		pk, err := ed25519.NewPublicKey(c.key)
		if err != nil {
			return nil, xerrors.Errorf("invalid key: %v", err)
		}

		publicKey = pk
	}

	keyBytes, err := publicKey.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal key: %v", err)
	}

	if c.key != nil && !bytes.Equal(c.key, keyBytes) {
		return nil, xerrors.Errorf("key pair does not match the key: %w", ErrKeyMismatch)
	}

	c.signer = signer
	c.publicKey = publicKey
	c.keyBytes = keyBytes
	c.tree = merkle.NewTree(c.tmpl.hashFactory)

	header, err := c.makeHeader(c.tree, 0)
	if err != nil {
		return nil, err
	}

	err = st.WriteHeader(header)
	if err != nil {
		return nil, xerrors.Errorf("while writing header: %v", err)
	}

	return &header, nil
}

// load restores the state of an existing log and verifies it.
func (c *logCore) load(st *storage.Storage, header *storage.Header) error {
	if c.key != nil && !bytes.Equal(c.key, header.Key) {
		return xerrors.Errorf("stored key is %x: %w", header.Key, ErrKeyMismatch)
	}

	publicKey, err := ed25519.NewPublicKey(header.Key)
	if err != nil {
		return xerrors.Errorf("invalid stored key: %v: %w", err, ErrCorrupted)
	}

	signer := c.tmpl.signer
	if signer != nil && !signer.GetPublicKey().Equal(publicKey) {
		return xerrors.Errorf("key pair does not match the stored key: %w", ErrKeyMismatch)
	}

	if header.SecretKey != nil {
		stored, err := ed25519.NewSignerFromBytes(header.SecretKey)
		if err != nil {
			return xerrors.Errorf("invalid stored secret key: %v: %w", err, ErrCorrupted)
		}

		signer = &stored
	}

	if signer != nil && !signer.GetPublicKey().Equal(publicKey) {
		return xerrors.Errorf("stored secret key does not match: %w", ErrCorrupted)
	}

	tree, err := merkle.Load(c.tmpl.hashFactory, st, header.Length)
	if err != nil {
		return xerrors.Errorf("tree: %v: %w", err, ErrCorrupted)
	}

	if header.Length > 0 || header.Signature != nil {
		msg := merkle.Signable(tree.Hash(), header.Length, header.Fork)

		err = publicKey.Verify(msg, ed25519.NewSignature(header.Signature))
		if err != nil {
			return xerrors.Errorf("signature: %v: %w", err, ErrCorrupted)
		}
	}

	err = st.LoadBitfield(c.bitfield)
	if err != nil {
		return xerrors.Errorf("bitfield: %v: %w", err, ErrCorrupted)
	}

	c.signer = signer
	c.publicKey = publicKey
	c.keyBytes = header.Key
	c.tree = tree

	// The secret key given in the options is stored for the next openings.
	if header.SecretKey == nil && signer != nil {
		next, err := c.makeHeader(tree, header.Fork)
		if err != nil {
			return err
		}

		err = st.WriteHeader(next)
		if err != nil {
			return xerrors.Errorf("while writing header: %v", err)
		}
	}

	return nil
}

// makeHeader returns the header of the tree signed with the secret key if it
// is known.
func (c *logCore) makeHeader(tree merkle.Tree, fork uint64) (storage.Header, error) {
	header := storage.Header{
		Key:    c.keyBytes,
		Length: tree.Length(),
		Fork:   fork,
	}

	if c.signer == nil {
		return header, nil
	}

	secret, err := c.signer.MarshalBinary()
	if err != nil {
		return header, xerrors.Errorf("couldn't marshal secret key: %v", err)
	}

	sig, err := c.signer.Sign(merkle.Signable(tree.Hash(), tree.Length(), fork))
	if err != nil {
		return header, xerrors.Errorf("couldn't sign: %v", err)
	}

	header.SecretKey = secret
	header.Signature, err = sig.MarshalBinary()
	if err != nil {
		return header, xerrors.Errorf("couldn't marshal signature: %v", err)
	}

	return header, nil
}

// checkReady returns an error if the log is not ready. The caller must hold
// the lock.
func (c *logCore) checkReady() error {
	if c.status != statusReady {
		return ErrClosed
	}

	return nil
}

// broadcast wakes up every waiter. The caller must hold the lock.
func (c *logCore) broadcast() {
	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *logCore) emit(event Event) {
	c.RLock()
	handles := make([]*Log, 0, len(c.handles))
	for h := range c.handles {
		// Pinned handles do not move with the log.
		if h.pinned {
			continue
		}

		handles = append(handles, h)
	}
	c.RUnlock()

	for _, h := range handles {
		h.watcher.Notify(event)
	}
}

// append writes the blocks at the end of the log.
func (c *logCore) append(blocks [][]byte) (AppendResult, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.appendLocked(blocks)
}

// appendLocked writes the blocks. The caller must hold the write lock.
func (c *logCore) appendLocked(blocks [][]byte) (AppendResult, error) {
	c.RLock()
	err := c.checkReady()
	tree := c.tree
	fork := c.fork
	writable := c.signer != nil
	c.RUnlock()

	if err != nil {
		return AppendResult{}, err
	}

	if !writable {
		return AppendResult{}, ErrNotWritable
	}

	next, nodes := tree.Append(blocks...)

	batch := c.bitfield.Batch()
	batch.SetRange(tree.Length(), next.Length(), true)

	pages, err := batch.Pages()
	if err != nil {
		return AppendResult{}, xerrors.Errorf("bitfield: %v", err)
	}

	header, err := c.makeHeader(next, fork)
	if err != nil {
		return AppendResult{}, err
	}

	err = c.storage.Update(func(tx *storage.Storage) error {
		err := tx.WriteBlocks(tree.Length(), blocks)
		if err != nil {
			return xerrors.Errorf("blocks: %v", err)
		}

		err = tx.WriteNodes(nodes)
		if err != nil {
			return xerrors.Errorf("tree: %v", err)
		}

		err = tx.WritePages(pages)
		if err != nil {
			return xerrors.Errorf("bitfield: %v", err)
		}

		err = tx.WriteHeader(header)
		if err != nil {
			return xerrors.Errorf("header: %v", err)
		}

		tx.OnCommit(func() {
			c.Lock()
			c.tree = next
			c.version++
			c.bitfield.Apply(batch)
			c.broadcast()
			c.Unlock()
		})

		return nil
	})

	if err != nil {
		return AppendResult{}, xerrors.Errorf("while appending: %v", err)
	}

	promAppendedBlocks.Add(float64(len(blocks)))
	promAppendedBytes.Add(float64(next.ByteLength() - tree.ByteLength()))
	promBatchSize.Observe(float64(len(blocks)))

	c.logger.Debug().
		Int("blocks", len(blocks)).
		Uint64("length", next.Length()).
		Msg("blocks appended")

	res := AppendResult{
		Length:     next.Length(),
		ByteLength: next.ByteLength(),
	}

	c.emit(Event{
		Type:       AppendEvent,
		Length:     res.Length,
		ByteLength: res.ByteLength,
		Fork:       fork,
	})

	return res, nil
}

// truncate drops the blocks after the length.
func (c *logCore) truncate(length uint64, fork *uint64) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.RLock()
	err := c.checkReady()
	tree := c.tree
	nextFork := c.fork
	writable := c.signer != nil
	c.RUnlock()

	if err != nil {
		return err
	}

	if !writable {
		return ErrNotWritable
	}

	if length > tree.Length() {
		return xerrors.Errorf("length %d beyond %d: %w", length, tree.Length(), ErrOutOfRange)
	}

	if fork != nil {
		nextFork = *fork
	}

	next, removed, err := tree.Truncate(c.storage, length)
	if err != nil {
		return xerrors.Errorf("tree: %v", err)
	}

	batch := c.bitfield.Batch()
	batch.SetRange(length, tree.Length(), false)

	pages, err := batch.Pages()
	if err != nil {
		return xerrors.Errorf("bitfield: %v", err)
	}

	header, err := c.makeHeader(next, nextFork)
	if err != nil {
		return err
	}

	err = c.storage.Update(func(tx *storage.Storage) error {
		_, err := tx.DeleteBlocks(length, tree.Length())
		if err != nil {
			return xerrors.Errorf("blocks: %v", err)
		}

		err = tx.DeleteNodes(removed)
		if err != nil {
			return xerrors.Errorf("tree: %v", err)
		}

		err = tx.WritePages(pages)
		if err != nil {
			return xerrors.Errorf("bitfield: %v", err)
		}

		err = tx.WriteHeader(header)
		if err != nil {
			return xerrors.Errorf("header: %v", err)
		}

		tx.OnCommit(func() {
			c.Lock()
			c.tree = next
			c.fork = nextFork
			c.version++
			c.truncations = append(c.truncations, length)
			c.bitfield.Apply(batch)
			c.broadcast()
			c.Unlock()
		})

		return nil
	})

	if err != nil {
		return xerrors.Errorf("while truncating: %v", err)
	}

	promTruncations.Inc()

	c.logger.Debug().
		Uint64("length", length).
		Uint64("fork", nextFork).
		Msg("log truncated")

	c.emit(Event{
		Type:       TruncateEvent,
		Length:     next.Length(),
		ByteLength: next.ByteLength(),
		Fork:       nextFork,
	})

	return nil
}

// clear forgets the blocks of [start, end) and returns the cleared content
// when requested.
func (c *logCore) clear(start, end uint64, diff bool) (*ClearResult, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.RLock()
	err := c.checkReady()
	length := c.tree.Length()
	c.RUnlock()

	if err != nil {
		return nil, err
	}

	var res *ClearResult
	if diff {
		res = &ClearResult{}
	}

	if end > length {
		end = length
	}

	if start >= end {
		return res, nil
	}

	batch := c.bitfield.Batch()
	batch.SetRange(start, end, false)

	pages, err := batch.Pages()
	if err != nil {
		return nil, xerrors.Errorf("bitfield: %v", err)
	}

	err = c.storage.Update(func(tx *storage.Storage) error {
		if diff {
			for i := start; i < end; i++ {
				block, found, err := tx.ReadBlock(i)
				if err != nil {
					return xerrors.Errorf("block %d: %v", i, err)
				}

				if found {
					res.Data = append(res.Data, block...)
				}
			}
		}

		_, err := tx.DeleteBlocks(start, end)
		if err != nil {
			return xerrors.Errorf("blocks: %v", err)
		}

		err = tx.WritePages(pages)
		if err != nil {
			return xerrors.Errorf("bitfield: %v", err)
		}

		tx.OnCommit(func() {
			c.Lock()
			c.bitfield.Apply(batch)
			c.Unlock()
		})

		return nil
	})

	if err != nil {
		return nil, xerrors.Errorf("while clearing: %v", err)
	}

	c.logger.Debug().Uint64("start", start).Uint64("end", end).Msg("blocks cleared")

	return res, nil
}

// putBlock stores a block whose leaf is already in the tree.
func (c *logCore) putBlock(index uint64, data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.RLock()
	err := c.checkReady()
	length := c.tree.Length()
	c.RUnlock()

	if err != nil {
		return err
	}

	if index >= length {
		return xerrors.Errorf("index %d beyond %d: %w", index, length, ErrOutOfRange)
	}

	if c.bitfield.Get(index) {
		return nil
	}

	leaf, found, err := c.storage.GetNode(2 * index)
	if err != nil {
		return xerrors.Errorf("while reading leaf: %v", err)
	}

	if !found {
		return xerrors.Errorf("leaf %d is missing: %w", index, ErrCorrupted)
	}

	hash := merkle.LeafHash(c.tmpl.hashFactory, data)
	if uint64(len(data)) != leaf.Size || !bytes.Equal(hash, leaf.Hash) {
		return xerrors.Errorf("block %d mismatch the tree: %w", index, ErrInvalidBlock)
	}

	batch := c.bitfield.Batch()
	batch.Set(index, true)

	pages, err := batch.Pages()
	if err != nil {
		return xerrors.Errorf("bitfield: %v", err)
	}

	err = c.storage.Update(func(tx *storage.Storage) error {
		err := tx.WriteBlocks(index, [][]byte{data})
		if err != nil {
			return xerrors.Errorf("blocks: %v", err)
		}

		err = tx.WritePages(pages)
		if err != nil {
			return xerrors.Errorf("bitfield: %v", err)
		}

		tx.OnCommit(func() {
			c.Lock()
			c.bitfield.Apply(batch)
			c.broadcast()
			c.Unlock()
		})

		return nil
	})

	if err != nil {
		return xerrors.Errorf("while storing block: %v", err)
	}

	return nil
}

// setUserData persists the user value.
func (c *logCore) setUserData(key string, value []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.RLock()
	err := c.checkReady()
	c.RUnlock()

	if err != nil {
		return err
	}

	err = c.storage.Update(func(tx *storage.Storage) error {
		err := tx.WriteUserData(key, value)
		if err != nil {
			return err
		}

		tx.OnCommit(func() {
			c.Lock()
			if value == nil {
				delete(c.userData, key)
			} else {
				c.userData[key] = append([]byte{}, value...)
			}
			c.Unlock()
		})

		return nil
	})

	if err != nil {
		return xerrors.Errorf("while writing user data: %v", err)
	}

	return nil
}

// acquire registers a new handle.
func (c *logCore) acquire(h *Log) error {
	c.Lock()
	defer c.Unlock()

	if c.status >= statusClosing {
		return ErrClosed
	}

	if h.overlay != nil {
		if c.exclusive != nil {
			return ErrExclusiveSession
		}

		c.exclusive = h
	}

	c.handles[h] = struct{}{}

	if !h.weak {
		c.refs++
	}

	return nil
}

// release unregisters the handle and closes the log when it was the last
// strong handle.
func (c *logCore) release(h *Log) error {
	c.Lock()

	delete(c.handles, h)

	if c.exclusive == h {
		c.exclusive = nil
	}

	if !h.weak {
		c.refs--
	}

	if c.refs > 0 || c.status >= statusClosing {
		c.Unlock()
		return nil
	}

	c.status = statusClosing

	weak := make([]*Log, 0, len(c.handles))
	for other := range c.handles {
		weak = append(weak, other)
	}

	c.Unlock()

	for _, other := range weak {
		other.closeHandle()
	}

	return c.shutdown()
}

// shutdown waits for the opening and the pending changes before releasing the
// storage.
func (c *logCore) shutdown() error {
	c.openOnce.Do(func() {
		c.openErr = ErrClosed
		close(c.opened)
	})

	<-c.opened

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.Lock()
	wasOpen := c.storage != nil
	c.status = statusClosed
	c.broadcast()
	c.Unlock()

	if wasOpen && c.openErr == nil {
		promOpenLogs.Dec()
		c.logger.Info().Msg("log closed")
	}

	if c.ownsDB {
		err := c.db.Close()
		if err != nil {
			return xerrors.Errorf("while closing database: %v", err)
		}
	}

	return nil
}

func shortKey(key []byte) string {
	if len(key) > 8 {
		key = key[:8]
	}

	return hex.EncodeToString(key)
}
