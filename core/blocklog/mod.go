// Package blocklog implements a single-writer append-only log of binary
// blocks.
//
// The blocks are covered by a Merkle tree whose state is signed by the owner
// of the log after every change, and everything is persisted in a key/value
// database. A log is used through handles: the handle returned by New is the
// root, and sessions and snapshots are additional handles sharing the same
// state. The state is released when the last handle is closed.
//
//	log := blocklog.New(db, nil, blocklog.WithValueEncoding(encoding.JSON))
//	defer log.Close(ctx)
//
//	res, err := log.Append(ctx, map[string]int{"n": 1})
//	value, err := log.Get(ctx, 0)
package blocklog

import (
	"context"
	"io"

	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/blocklog/storage"
	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when the log does not exist and it must not be
	// created.
	ErrNotFound = xerrors.New("log not found")

	// ErrOutOfRange is returned when an index, a length or an offset is beyond
	// the bounds of the log.
	ErrOutOfRange = xerrors.New("out of range")

	// ErrEncodingMismatch is returned when a value cannot be encoded with the
	// active encoding.
	ErrEncodingMismatch = encoding.ErrEncodingMismatch

	// ErrDecode is returned when a block cannot be decoded with the requested
	// encoding.
	ErrDecode = encoding.ErrDecode

	// ErrTimeout is returned when a block is not available before the deadline.
	ErrTimeout = xerrors.New("timeout")

	// ErrClosed is returned by the operations of a closed handle.
	ErrClosed = xerrors.New("log closed")

	// ErrConflictingWrite is returned when a session is committed after the
	// log it was created from has changed.
	ErrConflictingWrite = xerrors.New("conflicting write")

	// ErrCorrupted is returned when the persisted state of the log is invalid.
	ErrCorrupted = xerrors.New("log corrupted")

	// ErrNotWritable is returned when a change requires the secret key.
	ErrNotWritable = xerrors.New("log not writable")

	// ErrNotAvailable is returned when a block is not stored locally and the
	// caller does not wait for it.
	ErrNotAvailable = xerrors.New("block not available")

	// ErrCancelled is returned by a download that has been destroyed.
	ErrCancelled = xerrors.New("cancelled")

	// ErrKeyMismatch is returned when the key given to open a log is not the
	// one that is stored.
	ErrKeyMismatch = xerrors.New("key mismatch")

	// ErrExclusiveSession is returned when an exclusive session is requested
	// while another one is open.
	ErrExclusiveSession = xerrors.New("exclusive session already open")

	// ErrInvalidBlock is returned when a delivered block does not match the
	// tree.
	ErrInvalidBlock = xerrors.New("invalid block")

	// ErrNoReplicator is returned when replication is requested without a
	// replicator.
	ErrNoReplicator = xerrors.New("no replicator")
)

// AppendResult is the state of the log after an append.
type AppendResult struct {
	Length     uint64
	ByteLength uint64
}

// ClearResult describes what a clear removed. Data is nil when none of the
// blocks were stored, otherwise it holds the cleared blocks concatenated.
type ClearResult struct {
	Data []byte
}

// Info is a summary of the state of a log.
type Info struct {
	Key              []byte
	DiscoveryKey     []byte
	Length           uint64
	ContiguousLength uint64
	ByteLength       uint64
	Fork             uint64
	Padding          uint64

	// Storage is only set when requested.
	Storage *storage.Breakdown
}

// Range selects blocks to download. Blocks, when not empty, takes precedence
// over the interval [Start, End).
type Range struct {
	Start  uint64
	End    uint64
	Blocks []uint64
	Linear bool
}

// interval returns the bounds of the range, or an empty interval when the
// blocks are listed.
func (r Range) interval() (uint64, uint64) {
	if len(r.Blocks) > 0 || r.End <= r.Start {
		return 0, 0
	}

	return r.Start, r.End
}

// EventType is the type of a state change of a log.
type EventType int

const (
	// AppendEvent is emitted when blocks are appended.
	AppendEvent EventType = iota
	// TruncateEvent is emitted when the log is truncated.
	TruncateEvent
	// CloseEvent is emitted when the handle is closed.
	CloseEvent
)

func (t EventType) String() string {
	switch t {
	case AppendEvent:
		return "append"
	case TruncateEvent:
		return "truncate"
	case CloseEvent:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a state change of a log.
type Event struct {
	Type       EventType
	Length     uint64
	ByteLength uint64
	Fork       uint64
}

// Replicator is the interface of the replication layer. It is given a handle
// of the log and returns the stream to wire into a transport.
type Replicator interface {
	Replicate(ctx context.Context, log *Log, initiator bool) (io.ReadWriteCloser, error)
}
