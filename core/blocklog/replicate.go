package blocklog

import (
	"context"
	"io"

	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"golang.org/x/xerrors"
)

// Replicate returns the replication stream of the log built by the replicator
// of the options.
func (l *Log) Replicate(ctx context.Context, initiator bool) (io.ReadWriteCloser, error) {
	err := l.ready(ctx)
	if err != nil {
		return nil, err
	}

	replicator := l.core.tmpl.replicator
	if replicator == nil {
		return nil, ErrNoReplicator
	}

	stream, err := replicator.Replicate(ctx, l, initiator)
	if err != nil {
		return nil, xerrors.Errorf("replicator failed: %v", err)
	}

	l.logger.Info().Bool("initiator", initiator).Msg("replication started")

	return stream, nil
}

// PutBlock stores a block whose leaf is already part of the tree, typically
// one that has been cleared or received from a peer. The block is verified
// against the leaf.
func (l *Log) PutBlock(ctx context.Context, index uint64, data []byte) error {
	err := l.ready(ctx)
	if err != nil {
		return err
	}

	return l.core.putBlock(index, data)
}

// Proof returns the inclusion proof of the block at the index in the tree of
// the handle.
func (l *Log) Proof(ctx context.Context, index uint64) (merkle.Proof, error) {
	err := l.ready(ctx)
	if err != nil {
		return merkle.Proof{}, err
	}

	v, err := l.view()
	if err != nil {
		return merkle.Proof{}, err
	}

	if index >= v.tree.Length() {
		return merkle.Proof{}, xerrors.Errorf("index %d beyond %d: %w", index, v.tree.Length(), ErrOutOfRange)
	}

	proof, err := v.tree.Prove(v.nodes, index)
	if err != nil {
		return merkle.Proof{}, xerrors.Errorf("couldn't prove: %v", err)
	}

	return proof, nil
}
