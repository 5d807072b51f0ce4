// Package corestore manages a set of logs stored in the same database.
//
// The logs are either named, in which case their key pair derives from the
// primary key of the store, or opened with the public key of a log created
// elsewhere. Every log has its own namespace in the database, derived from
// its discovery key.
package corestore

import (
	"bytes"
	"context"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.dedis.ch/hyperlog"
	"go.dedis.ch/hyperlog/core/blocklog"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/crypto"
	"go.dedis.ch/hyperlog/crypto/ed25519"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// PrimaryKeySize is the size of the primary key of a store.
const PrimaryKeySize = 32

var (
	bucketName    = []byte("corestore")
	primaryKeyKey = []byte("primary-key")
	namePrefix    = []byte("name:")
)

// Store is a set of logs sharing a database.
type Store struct {
	sync.Mutex

	db         kv.DB
	primaryKey []byte
	opts       []blocklog.Option
	logger     zerolog.Logger

	// roots maps the namespaces to the root handles of the open logs.
	roots  map[string]*blocklog.Log
	closed bool
}

// New returns the store of the database. The primary key is loaded from the
// database, or the given one is stored, or a new one is generated. The options
// are applied to every log of the store.
func New(db kv.DB, primaryKey []byte, opts ...blocklog.Option) (*Store, error) {
	if primaryKey != nil && len(primaryKey) != PrimaryKeySize {
		return nil, xerrors.Errorf("invalid primary key size %d", len(primaryKey))
	}

	var stored []byte

	err := db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		value := bucket.Get(primaryKeyKey)
		if value != nil {
			stored = append([]byte{}, value...)
			return nil
		}

		stored = primaryKey
		if stored == nil {
			stored = make([]byte, PrimaryKeySize)
			random.Bytes(stored, random.New())
		}

		return bucket.Set(primaryKeyKey, stored)
	})

	if err != nil {
		return nil, xerrors.Errorf("while loading primary key: %v", err)
	}

	if primaryKey != nil && !bytes.Equal(primaryKey, stored) {
		return nil, xerrors.New("primary key mismatch")
	}

	s := &Store{
		db:         db,
		primaryKey: stored,
		opts:       opts,
		logger:     hyperlog.Logger.With().Str("component", "corestore").Logger(),
		roots:      make(map[string]*blocklog.Log),
	}

	return s, nil
}

// CreateKeyPair returns the key pair of the name. It is always the same for a
// given primary key.
func (s *Store) CreateKeyPair(name string) (ed25519.Signer, error) {
	seed, err := crypto.KeyedHash(s.primaryKey, []byte(name))
	if err != nil {
		return ed25519.Signer{}, xerrors.Errorf("couldn't derive seed: %v", err)
	}

	return ed25519.NewSignerFromSeed(seed), nil
}

// Get returns a session of the named log. The log is created if it does not
// exist. The log stays open until the store is closed.
func (s *Store) Get(ctx context.Context, name string, opts ...blocklog.Option) (*blocklog.Log, error) {
	signer, err := s.CreateKeyPair(name)
	if err != nil {
		return nil, err
	}

	key, err := signer.GetPublicKey().MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal key: %v", err)
	}

	err = s.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return xerrors.Errorf("bucket failed: %v", err)
		}

		return bucket.Set(append(append([]byte{}, namePrefix...), name...), key)
	})
	if err != nil {
		return nil, xerrors.Errorf("while storing name: %v", err)
	}

	return s.open(ctx, key, append(opts, blocklog.WithKeyPair(signer)))
}

// GetByKey returns a session of the log of the public key. The log is
// read-only unless its secret key is stored.
func (s *Store) GetByKey(ctx context.Context, key []byte, opts ...blocklog.Option) (*blocklog.Log, error) {
	return s.open(ctx, key, opts)
}

// Names returns the sorted names of the logs created with Get.
func (s *Store) Names() ([]string, error) {
	var names []string

	err := s.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		return bucket.Scan(namePrefix, func(k, v []byte) error {
			names = append(names, string(k[len(namePrefix):]))
			return nil
		})
	})

	if err != nil {
		return nil, xerrors.Errorf("while reading names: %v", err)
	}

	sort.Strings(names)

	return names, nil
}

func (s *Store) open(ctx context.Context, key []byte, opts []blocklog.Option) (*blocklog.Log, error) {
	pk, err := ed25519.NewPublicKey(key)
	if err != nil {
		return nil, xerrors.Errorf("invalid key: %v", err)
	}

	discoveryKey, err := ed25519.DiscoveryKey(pk)
	if err != nil {
		return nil, xerrors.Errorf("discovery key: %v", err)
	}

	namespace := hex.EncodeToString(discoveryKey)

	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil, blocklog.ErrClosed
	}

	root, found := s.roots[namespace]
	if !found || root.Closed() {
		all := append(append([]blocklog.Option{}, s.opts...), opts...)
		all = append(all, blocklog.WithNamespace(namespace))

		root, err = blocklog.Open(ctx, s.db, key, all...)
		if err != nil {
			return nil, xerrors.Errorf("couldn't open log: %w", err)
		}

		s.roots[namespace] = root

		s.logger.Debug().Str("namespace", namespace).Msg("log opened")
	}

	session, err := root.Session(blocklog.WithWeak())
	if err != nil {
		return nil, xerrors.Errorf("couldn't open session: %w", err)
	}

	return session, nil
}

// Close closes every log of the store together with the sessions returned by
// the store.
func (s *Store) Close(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	g, ctx := errgroup.WithContext(ctx)

	for namespace, root := range s.roots {
		root := root
		namespace := namespace

		g.Go(func() error {
			err := root.Close(ctx)
			if err != nil {
				return xerrors.Errorf("log %s: %v", namespace, err)
			}

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return xerrors.Errorf("while closing: %v", err)
	}

	return nil
}
