package blocklog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/hyperlog/core"
	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
)

// DatabaseName is the name of the database file created by OpenPath.
const DatabaseName = "log.db"

// Log is a handle of a log. The root handle is returned by New and the
// sessions share its state.
type Log struct {
	core *logCore

	id       xid.ID
	name     string
	logger   zerolog.Logger
	encoding encoding.Encoding
	timeout  time.Duration
	onWait   func(index uint64)
	writable bool
	weak     bool

	// pinned handles never grow. The pin is resolved when the log is ready
	// for snapshots created before that.
	pinned   bool
	pinLock  sync.Mutex
	pin      *uint64
	truncIdx int

	// overlay holds the staged blocks of an exclusive session.
	overlay *overlay
	// frozen is the copy of the staged blocks seen by a snapshot of an
	// exclusive session.
	frozen *overlay

	watcher *core.Watcher

	closeOnce sync.Once
	closing   chan struct{}
}

// New returns the root handle of the log stored in the database. The log is
// opened in the background and the operations wait for it to be ready. The key
// is the public key of an existing log, or nil.
func New(db kv.DB, key []byte, opts ...Option) *Log {
	return newLog(db, key, false, newTemplate(opts))
}

// Open returns the root handle of the log once it is ready.
func Open(ctx context.Context, db kv.DB, key []byte, opts ...Option) (*Log, error) {
	l := New(db, key, opts...)

	err := l.Ready(ctx)
	if err != nil {
		l.Close(ctx)
		return nil, err
	}

	return l, nil
}

// OpenPath opens the log stored in the directory. The database is created if
// necessary and it is closed with the log. The engine must be registered in
// the kv package.
func OpenPath(ctx context.Context, dir string, key []byte, opts ...Option) (*Log, error) {
	tmpl := newTemplate(opts)

	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, xerrors.Errorf("couldn't make directory: %v", err)
	}

	db, err := kv.Open(tmpl.engine, filepath.Join(dir, DatabaseName))
	if err != nil {
		return nil, xerrors.Errorf("couldn't open database: %v", err)
	}

	l := newLog(db, key, true, tmpl)

	err = l.Ready(ctx)
	if err != nil {
		l.Close(ctx)
		return nil, err
	}

	return l, nil
}

func newLog(db kv.DB, key []byte, ownsDB bool, tmpl template) *Log {
	c := newCore(db, key, tmpl)
	c.ownsDB = ownsDB

	l := newHandle(c, "root", tmpl.encoding, tmpl.writable)

	// A fresh core always accepts the first handle.
	c.acquire(l)
	c.start()

	return l
}

func newHandle(c *logCore, name string, enc encoding.Encoding, writable bool) *Log {
	id := xid.New()

	return &Log{
		core:     c,
		id:       id,
		name:     name,
		logger:   c.tmpl.logger.With().Str("session", id.String()).Str("name", name).Logger(),
		encoding: enc,
		timeout:  c.tmpl.timeout,
		onWait:   c.tmpl.onWait,
		writable: writable,
		watcher:  core.NewWatcher(),
		closing:  make(chan struct{}),
	}
}

// ID returns the unique identifier of the handle.
func (l *Log) ID() xid.ID {
	return l.id
}

// Name returns the name of the handle.
func (l *Log) Name() string {
	return l.name
}

// Ready waits for the log to be opened.
func (l *Log) Ready(ctx context.Context) error {
	return l.ready(ctx)
}

func (l *Log) ready(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}

	select {
	case <-l.core.start():
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return ErrClosed
	}

	if l.core.openErr != nil {
		return xerrors.Errorf("couldn't open log: %w", l.core.openErr)
	}

	l.core.RLock()
	defer l.core.RUnlock()

	return l.core.checkReady()
}

func (l *Log) isClosed() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

// Closed returns true when the handle or the log is closed.
func (l *Log) Closed() bool {
	if l.isClosed() {
		return true
	}

	l.core.RLock()
	defer l.core.RUnlock()

	return l.core.status == statusClosed
}

// Close closes the handle. The log is closed with its last handle, apart from
// the weak sessions that are closed with it. Closing twice is a no-op.
func (l *Log) Close(ctx context.Context) error {
	if !l.closeHandle() {
		return nil
	}

	l.logger.Debug().Msg("handle closed")

	done := make(chan error, 1)
	go func() {
		done <- l.core.release(l)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeHandle closes the handle and returns true the first time.
func (l *Log) closeHandle() bool {
	first := false

	l.closeOnce.Do(func() {
		first = true
		close(l.closing)

		l.watcher.Notify(Event{Type: CloseEvent})
	})

	return first
}

// Writable returns true when the handle can append.
func (l *Log) Writable() bool {
	l.core.RLock()
	defer l.core.RUnlock()

	return l.writable && !l.pinned && l.core.signer != nil && !l.isClosed()
}

// Key returns the public key of the log, or nil if it is not ready.
func (l *Log) Key() []byte {
	l.core.RLock()
	defer l.core.RUnlock()

	return l.core.keyBytes
}

// DiscoveryKey returns the discovery key of the log, or nil if it is not
// ready.
func (l *Log) DiscoveryKey() []byte {
	l.core.RLock()
	defer l.core.RUnlock()

	return l.core.discoveryKey
}

// Length returns the number of blocks seen by the handle, or zero if the log
// is not ready.
func (l *Log) Length() uint64 {
	v, err := l.view()
	if err != nil {
		return 0
	}

	return v.tree.Length()
}

// ByteLength returns the size of the blocks seen by the handle.
func (l *Log) ByteLength() uint64 {
	v, err := l.view()
	if err != nil {
		return 0
	}

	return v.tree.ByteLength()
}

// ContiguousLength returns the number of blocks present without gap from the
// beginning of the log.
func (l *Log) ContiguousLength() uint64 {
	v, err := l.view()
	if err != nil {
		return 0
	}

	return l.contiguous(v)
}

// Fork returns the fork identifier of the log.
func (l *Log) Fork() uint64 {
	v, err := l.view()
	if err != nil {
		return 0
	}

	return v.fork
}

// view is the state of the log as seen by a handle.
type view struct {
	tree   merkle.Tree
	nodes  merkle.NodeReader
	base   uint64
	staged [][]byte
	fork   uint64
	notify <-chan struct{}
	fixed  bool
}

// block returns the staged block at the index if any.
func (v view) block(index uint64) ([]byte, bool) {
	if index < v.base || index-v.base >= uint64(len(v.staged)) {
		return nil, false
	}

	return v.staged[index-v.base], true
}

// apply puts the staged blocks of the overlay on top of the view.
func (v *view) apply(o *overlay, nodes merkle.NodeReader) {
	v.tree = *o.tree
	v.nodes = merkle.Layered{o.nodes, nodes}
	v.base = o.base
	v.staged = o.staged[:len(o.staged):len(o.staged)]
}

func (l *Log) view() (view, error) {
	if l.isClosed() {
		return view{}, ErrClosed
	}

	c := l.core

	c.RLock()

	err := c.checkReady()
	if err != nil {
		c.RUnlock()
		return view{}, err
	}

	v := view{
		tree:   c.tree,
		nodes:  c.storage,
		fork:   c.fork,
		notify: c.notify,
		fixed:  l.pinned,
	}

	length := c.tree.Length()
	if l.pinned {
		length = l.pinnedLength()
	}

	c.RUnlock()

	if length < v.tree.Length() {
		tree, err := merkle.Load(c.tmpl.hashFactory, c.storage, length)
		if err != nil {
			return view{}, xerrors.Errorf("couldn't load tree at %d: %v", length, err)
		}

		v.tree = tree
	}

	if l.frozen != nil && length == l.frozen.base {
		v.apply(l.frozen, c.storage)
	}

	if l.overlay != nil {
		l.overlay.Lock()
		if l.overlay.tree != nil {
			v.apply(l.overlay, c.storage)
		}
		l.overlay.Unlock()
	}

	return v, nil
}

// pinnedLength returns the length of a pinned handle. A truncation below the
// pin shortens it for good. The caller must hold the core lock.
func (l *Log) pinnedLength() uint64 {
	c := l.core

	l.pinLock.Lock()
	defer l.pinLock.Unlock()

	if l.pin == nil {
		length := c.tree.Length()
		l.pin = &length
		l.truncIdx = len(c.truncations)
	}

	length := *l.pin
	if c.tree.Length() < length {
		length = c.tree.Length()
	}

	for _, trunc := range c.truncations[l.truncIdx:] {
		if trunc < length {
			length = trunc
		}
	}

	return length
}

func (l *Log) contiguous(v view) uint64 {
	length := l.core.bitfield.FirstUnset(0)

	if length >= v.base && len(v.staged) > 0 {
		length = v.base + uint64(len(v.staged))
	}

	if length > v.tree.Length() {
		length = v.tree.Length()
	}

	return length
}

// Append encodes the values with the encoding of the handle and writes them
// at the end of the log. Either all the values are appended or none.
func (l *Log) Append(ctx context.Context, values ...interface{}) (AppendResult, error) {
	err := l.ready(ctx)
	if err != nil {
		return AppendResult{}, err
	}

	if !l.writable || l.pinned {
		return AppendResult{}, ErrNotWritable
	}

	blocks := make([][]byte, len(values))
	for i, value := range values {
		blocks[i], err = l.encoding.Encode(value)
		if err != nil {
			return AppendResult{}, xerrors.Errorf("value %d: %w", i, err)
		}
	}

	if len(blocks) == 0 {
		v, err := l.view()
		if err != nil {
			return AppendResult{}, err
		}

		return AppendResult{Length: v.tree.Length(), ByteLength: v.tree.ByteLength()}, nil
	}

	if l.overlay != nil {
		return l.stage(blocks)
	}

	return l.core.append(blocks)
}

// Get returns the value of the block at the index. By default it waits for a
// block that is not present.
func (l *Log) Get(ctx context.Context, index uint64, opts ...GetOption) (interface{}, error) {
	tmpl := getTemplate{
		wait:     true,
		timeout:  l.timeout,
		encoding: l.encoding,
		onWait:   l.onWait,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	err := l.ready(ctx)
	if err != nil {
		return nil, err
	}

	block, err := l.getBlock(ctx, index, tmpl)
	if err != nil {
		return nil, err
	}

	value, err := tmpl.encoding.Decode(block)
	if err != nil {
		return nil, xerrors.Errorf("block %d: %w", index, err)
	}

	return value, nil
}

func (l *Log) getBlock(ctx context.Context, index uint64, tmpl getTemplate) ([]byte, error) {
	var timeout <-chan time.Time
	var start time.Time

	defer func() {
		if !start.IsZero() {
			promWaits.Observe(time.Since(start).Seconds())
		}
	}()

	for {
		v, err := l.view()
		if err != nil {
			return nil, err
		}

		block, found := v.block(index)
		if found {
			return block, nil
		}

		length := v.tree.Length()

		if index < length {
			block, found, err = l.core.storage.ReadBlock(index)
			if err != nil {
				return nil, xerrors.Errorf("couldn't read block %d: %v", index, err)
			}

			if found {
				return block, nil
			}
		}

		if !tmpl.wait || (v.fixed && index >= length) {
			if index >= length {
				return nil, xerrors.Errorf("index %d beyond %d: %w", index, length, ErrOutOfRange)
			}

			return nil, xerrors.Errorf("block %d: %w", index, ErrNotAvailable)
		}

		if start.IsZero() {
			start = time.Now()

			l.logger.Debug().Uint64("index", index).Msg("waiting for block")

			if tmpl.onWait != nil {
				tmpl.onWait(index)
			}

			if tmpl.timeout > 0 {
				timer := time.NewTimer(tmpl.timeout)
				defer timer.Stop()

				timeout = timer.C
			}
		}

		select {
		case <-v.notify:
		case <-timeout:
			return nil, xerrors.Errorf("block %d after %v: %w", index, tmpl.timeout, ErrTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.closing:
			return nil, ErrClosed
		}
	}
}

// Has returns true when every block of [start, end) is present locally.
func (l *Log) Has(ctx context.Context, start, end uint64) (bool, error) {
	err := l.ready(ctx)
	if err != nil {
		return false, err
	}

	v, err := l.view()
	if err != nil {
		return false, err
	}

	if start >= end {
		return true, nil
	}

	if end > v.tree.Length() {
		return false, nil
	}

	for i := start; i < end; i++ {
		_, staged := v.block(i)
		if !staged && !l.core.bitfield.Get(i) {
			return false, nil
		}
	}

	return true, nil
}

// Update looks for a longer version of the log. A local log never finds one.
func (l *Log) Update(ctx context.Context, opts ...UpdateOption) (bool, error) {
	tmpl := updateTemplate{}
	for _, opt := range opts {
		opt(&tmpl)
	}

	err := l.ready(ctx)
	if err != nil {
		return false, err
	}

	return false, nil
}

// Seek returns the index of the block containing the byte offset and the
// offset relative to that block. The byte length maps to the length.
func (l *Log) Seek(ctx context.Context, offset uint64) (uint64, uint64, error) {
	err := l.ready(ctx)
	if err != nil {
		return 0, 0, err
	}

	v, err := l.view()
	if err != nil {
		return 0, 0, err
	}

	if offset > v.tree.ByteLength() {
		return 0, 0, xerrors.Errorf("offset %d beyond %d: %w", offset, v.tree.ByteLength(), ErrOutOfRange)
	}

	index, rel, err := v.tree.Seek(v.nodes, offset)
	if err != nil {
		return 0, 0, xerrors.Errorf("while seeking: %v", err)
	}

	return index, rel, nil
}

// Clear forgets the content of the blocks of [start, end) without changing
// the length. The result is nil unless the diff is requested.
func (l *Log) Clear(ctx context.Context, start, end uint64, opts ...ClearOption) (*ClearResult, error) {
	tmpl := clearTemplate{}
	for _, opt := range opts {
		opt(&tmpl)
	}

	err := l.ready(ctx)
	if err != nil {
		return nil, err
	}

	return l.core.clear(start, end, tmpl.diff)
}

// Truncate drops the blocks from the length onward.
func (l *Log) Truncate(ctx context.Context, length uint64, opts ...TruncateOption) error {
	tmpl := truncateTemplate{}
	for _, opt := range opts {
		opt(&tmpl)
	}

	err := l.ready(ctx)
	if err != nil {
		return err
	}

	if !l.writable || l.pinned {
		return ErrNotWritable
	}

	return l.core.truncate(length, tmpl.fork)
}

// TreeHash returns the hash of the tree at the length, or at the current
// length when none is given.
func (l *Log) TreeHash(ctx context.Context, length ...uint64) ([]byte, error) {
	err := l.ready(ctx)
	if err != nil {
		return nil, err
	}

	v, err := l.view()
	if err != nil {
		return nil, err
	}

	if len(length) == 0 || length[0] == v.tree.Length() {
		return v.tree.Hash(), nil
	}

	if length[0] > v.tree.Length() {
		return nil, xerrors.Errorf("length %d beyond %d: %w", length[0], v.tree.Length(), ErrOutOfRange)
	}

	tree, err := merkle.Load(l.core.tmpl.hashFactory, v.nodes, length[0])
	if err != nil {
		return nil, xerrors.Errorf("couldn't load tree: %v", err)
	}

	return tree.Hash(), nil
}

// Info returns a summary of the log as seen by the handle.
func (l *Log) Info(ctx context.Context, opts ...InfoOption) (Info, error) {
	tmpl := infoTemplate{}
	for _, opt := range opts {
		opt(&tmpl)
	}

	err := l.ready(ctx)
	if err != nil {
		return Info{}, err
	}

	v, err := l.view()
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Key:              l.Key(),
		DiscoveryKey:     l.DiscoveryKey(),
		Length:           v.tree.Length(),
		ContiguousLength: l.contiguous(v),
		ByteLength:       v.tree.ByteLength(),
		Fork:             v.fork,
	}

	if tmpl.storage {
		breakdown, err := l.core.storage.Breakdown()
		if err != nil {
			// The breakdown is optional.
			l.logger.Warn().Err(err).Msg("storage breakdown failed")
		} else {
			info.Storage = &breakdown
		}
	}

	return info, nil
}

// SetUserData persists the value under the key. A nil value deletes the key.
func (l *Log) SetUserData(ctx context.Context, key string, value []byte) error {
	err := l.ready(ctx)
	if err != nil {
		return err
	}

	return l.core.setUserData(key, value)
}

// GetUserData returns the value of the key.
func (l *Log) GetUserData(key string) ([]byte, bool) {
	l.core.RLock()
	defer l.core.RUnlock()

	value, found := l.core.userData[key]

	return value, found
}
