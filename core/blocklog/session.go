package blocklog

import (
	"context"
	"sync"

	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"golang.org/x/xerrors"
)

// overlay is the state of an exclusive session. The blocks appended to the
// session are kept in memory on top of the log until the session is
// committed.
type overlay struct {
	sync.Mutex

	// baseVersion is the version of the log the staged blocks apply to.
	baseVersion uint64

	tree   *merkle.Tree
	nodes  merkle.NodeMap
	base   uint64
	staged [][]byte
}

// freeze returns a copy of the staged state that later appends do not change,
// or nil when nothing is staged. The caller must hold the lock.
func (o *overlay) freeze() *overlay {
	if o.tree == nil {
		return nil
	}

	tree := *o.tree

	return &overlay{
		baseVersion: o.baseVersion,
		tree:        &tree,
		nodes:       o.nodes,
		base:        o.base,
		staged:      o.staged[:len(o.staged):len(o.staged)],
	}
}

func (o *overlay) reset(version uint64) {
	o.baseVersion = version
	o.tree = nil
	o.nodes = nil
	o.base = 0
	o.staged = nil
}

// Session returns a new handle that shares the state of the log. The session
// keeps the log open until it is closed, unless it is weak.
func (l *Log) Session(opts ...SessionOption) (*Log, error) {
	tmpl := sessionTemplate{
		encoding: l.encoding,
		name:     l.name,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	if l.isClosed() {
		return nil, ErrClosed
	}

	writable := l.writable
	if tmpl.writable != nil {
		writable = *tmpl.writable
	}

	h := newHandle(l.core, tmpl.name, tmpl.encoding, writable)
	h.weak = tmpl.weak
	h.timeout = l.timeout
	h.onWait = l.onWait

	// The overlay lock is always taken before the core lock.
	var frozen *overlay
	if tmpl.snapshot && l.overlay != nil {
		l.overlay.Lock()
		frozen = l.overlay.freeze()
		l.overlay.Unlock()
	}

	c := l.core

	c.RLock()

	switch {
	case tmpl.checkout != nil:
		h.pinned = true
		h.pin = tmpl.checkout
		h.truncIdx = len(c.truncations)
	case l.pinned:
		h.pinned = true
		h.frozen = l.frozen
		l.pinLock.Lock()
		h.pin = l.pin
		h.truncIdx = l.truncIdx
		l.pinLock.Unlock()
	case tmpl.snapshot:
		h.pinned = true

		// The pin is resolved lazily when the log is not ready yet.
		switch {
		case frozen != nil:
			// The committed part is pinned at the base of the staged blocks
			// and the snapshot keeps its own copy of them.
			base := frozen.base
			h.frozen = frozen
			h.pin = &base
			h.truncIdx = len(c.truncations)
		case c.status == statusReady:
			length := c.tree.Length()
			h.pin = &length
			h.truncIdx = len(c.truncations)
		}
	}

	if tmpl.exclusive {
		h.overlay = &overlay{baseVersion: c.version}
	}

	c.RUnlock()

	err := l.core.acquire(h)
	if err != nil {
		return nil, err
	}

	h.logger.Debug().
		Bool("exclusive", tmpl.exclusive).
		Bool("weak", h.weak).
		Bool("pinned", h.pinned).
		Msg("session opened")

	return h, nil
}

// Snapshot returns a read-only session pinned at the current length of the
// handle. Appends are not seen by the snapshot and a truncation below its
// length shortens it.
func (l *Log) Snapshot(opts ...SessionOption) (*Log, error) {
	opts = append(opts, WithSessionWritable(false), func(tmpl *sessionTemplate) {
		tmpl.snapshot = true
	})

	return l.Session(opts...)
}

// stage appends the blocks to the overlay of an exclusive session.
func (l *Log) stage(blocks [][]byte) (AppendResult, error) {
	c := l.core
	o := l.overlay

	o.Lock()

	c.RLock()
	writable := c.signer != nil
	tree := c.tree
	c.RUnlock()

	if !writable {
		o.Unlock()
		return AppendResult{}, ErrNotWritable
	}

	if o.tree == nil {
		o.tree = &tree
		o.base = tree.Length()
	}

	next, nodes := o.tree.Append(blocks...)

	// The map is replaced so that the views and the snapshots already
	// handed out keep reading a stable set of nodes.
	updated := make(merkle.NodeMap, len(o.nodes)+len(nodes))
	for index, node := range o.nodes {
		updated[index] = node
	}
	updated.Put(nodes...)

	o.nodes = updated
	o.tree = &next
	o.staged = append(o.staged, blocks...)

	o.Unlock()

	// Wakes up the readers of the session.
	c.Lock()
	c.broadcast()
	c.Unlock()

	l.watcher.Notify(Event{
		Type:       AppendEvent,
		Length:     next.Length(),
		ByteLength: next.ByteLength(),
	})

	return AppendResult{Length: next.Length(), ByteLength: next.ByteLength()}, nil
}

// Commit appends the staged blocks of the exclusive session to the log. It
// fails with ErrConflictingWrite when the log has changed since the session
// was created or last committed, and the staged blocks are kept.
func (l *Log) Commit(ctx context.Context, session *Log) (*AppendResult, error) {
	err := l.ready(ctx)
	if err != nil {
		return nil, err
	}

	if session.core != l.core {
		return nil, xerrors.New("session belongs to another log")
	}

	if session.overlay == nil {
		return nil, xerrors.New("session is not exclusive")
	}

	if session.isClosed() {
		return nil, ErrClosed
	}

	c := l.core

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	o := session.overlay

	o.Lock()
	defer o.Unlock()

	c.RLock()
	version := c.version
	tree := c.tree
	c.RUnlock()

	if version != o.baseVersion {
		promConflicts.Inc()

		session.logger.Warn().
			Uint64("base", o.baseVersion).
			Uint64("current", version).
			Msg("commit rejected")

		return nil, xerrors.Errorf("log changed since the session started: %w", ErrConflictingWrite)
	}

	if len(o.staged) == 0 {
		return &AppendResult{Length: tree.Length(), ByteLength: tree.ByteLength()}, nil
	}

	res, err := c.appendLocked(o.staged)
	if err != nil {
		return nil, xerrors.Errorf("couldn't commit: %w", err)
	}

	c.RLock()
	o.reset(c.version)
	c.RUnlock()

	session.logger.Debug().Uint64("length", res.Length).Msg("session committed")

	return &res, nil
}
