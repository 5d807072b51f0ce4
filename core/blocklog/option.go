package blocklog

import (
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/hyperlog"
	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/blocklog/storage"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/crypto"
	"go.dedis.ch/hyperlog/crypto/ed25519"
)

type template struct {
	encoding        encoding.Encoding
	createIfMissing bool
	overwrite       bool
	signer          *ed25519.Signer
	timeout         time.Duration
	writable        bool
	userData        map[string][]byte
	cacheSize       int
	logger          zerolog.Logger
	replicator      Replicator
	namespace       string
	onWait          func(index uint64)
	engine          string
	hashFactory     crypto.HashFactory
}

func newTemplate(opts []Option) template {
	tmpl := template{
		encoding:        encoding.Default(),
		createIfMissing: true,
		writable:        true,
		userData:        make(map[string][]byte),
		cacheSize:       storage.DefaultCacheSize,
		logger:          hyperlog.Logger,
		engine:          kv.EngineBolt,
		hashFactory:     crypto.NewBlake2bFactory(),
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	return tmpl
}

// Option is the type of the options to open a log.
type Option func(*template)

// WithValueEncoding sets the default encoding of the values.
func WithValueEncoding(enc encoding.Encoding) Option {
	return func(tmpl *template) {
		tmpl.encoding = enc
	}
}

// WithCreateIfMissing sets whether a log that does not exist is created. It is
// true by default.
func WithCreateIfMissing(create bool) Option {
	return func(tmpl *template) {
		tmpl.createIfMissing = create
	}
}

// WithOverwrite deletes any existing log before opening.
func WithOverwrite() Option {
	return func(tmpl *template) {
		tmpl.overwrite = true
	}
}

// WithKeyPair sets the key pair of the log. It is used when the log is created,
// or to make an existing log writable when the secret key is not stored.
func WithKeyPair(signer ed25519.Signer) Option {
	return func(tmpl *template) {
		tmpl.signer = &signer
	}
}

// WithTimeout sets the default timeout of the reads that wait for a block.
// There is no timeout by default.
func WithTimeout(d time.Duration) Option {
	return func(tmpl *template) {
		tmpl.timeout = d
	}
}

// WithWritable sets whether the root handle can write. It is true by default
// but a log is only writable when the secret key is known.
func WithWritable(writable bool) Option {
	return func(tmpl *template) {
		tmpl.writable = writable
	}
}

// WithUserData sets user values when the log is opened.
func WithUserData(key string, value []byte) Option {
	return func(tmpl *template) {
		tmpl.userData[key] = value
	}
}

// WithCacheSize sets the number of blocks kept in memory.
func WithCacheSize(size int) Option {
	return func(tmpl *template) {
		tmpl.cacheSize = size
	}
}

// WithLogger sets the parent logger of the log.
func WithLogger(logger zerolog.Logger) Option {
	return func(tmpl *template) {
		tmpl.logger = logger
	}
}

// WithReplicator sets the replication layer used by Replicate.
func WithReplicator(r Replicator) Option {
	return func(tmpl *template) {
		tmpl.replicator = r
	}
}

// WithNamespace sets the prefix of the buckets of the log so that several logs
// can share a database.
func WithNamespace(namespace string) Option {
	return func(tmpl *template) {
		tmpl.namespace = namespace
	}
}

// WithOnWait sets a function called when a read starts to wait for a block.
func WithOnWait(fn func(index uint64)) Option {
	return func(tmpl *template) {
		tmpl.onWait = fn
	}
}

// WithEngine sets the database engine used by OpenPath. It is bbolt by
// default.
func WithEngine(name string) Option {
	return func(tmpl *template) {
		tmpl.engine = name
	}
}

// WithHashFactory sets the hash function of the tree. It must not change over
// the life of a log.
func WithHashFactory(fac crypto.HashFactory) Option {
	return func(tmpl *template) {
		tmpl.hashFactory = fac
	}
}

type sessionTemplate struct {
	exclusive bool
	weak      bool
	checkout  *uint64
	name      string
	encoding  encoding.Encoding
	writable  *bool
	snapshot  bool
}

// SessionOption is the type of the options to create a session.
type SessionOption func(*sessionTemplate)

// WithExclusive makes the session exclusive: its appends are staged until the
// session is committed.
func WithExclusive() SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.exclusive = true
	}
}

// WithWeak makes a session that does not keep the log open. It is closed with
// the last handle.
func WithWeak() SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.weak = true
	}
}

// WithCheckout pins the session at the length. The session is read-only.
func WithCheckout(length uint64) SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.checkout = &length
	}
}

// WithName sets the name of the session in the logs.
func WithName(name string) SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.name = name
	}
}

// WithSessionEncoding overrides the encoding of the values of the session.
func WithSessionEncoding(enc encoding.Encoding) SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.encoding = enc
	}
}

// WithSessionWritable overrides whether the session can write.
func WithSessionWritable(writable bool) SessionOption {
	return func(tmpl *sessionTemplate) {
		tmpl.writable = &writable
	}
}

type getTemplate struct {
	wait     bool
	timeout  time.Duration
	encoding encoding.Encoding
	onWait   func(index uint64)
}

// GetOption is the type of the options of a read.
type GetOption func(*getTemplate)

// WithWait sets whether the read waits for a block that is not available. It
// is true by default.
func WithWait(wait bool) GetOption {
	return func(tmpl *getTemplate) {
		tmpl.wait = wait
	}
}

// WithGetTimeout sets the maximum time to wait for the block.
func WithGetTimeout(d time.Duration) GetOption {
	return func(tmpl *getTemplate) {
		tmpl.timeout = d
	}
}

// WithGetEncoding overrides the encoding of the value.
func WithGetEncoding(enc encoding.Encoding) GetOption {
	return func(tmpl *getTemplate) {
		tmpl.encoding = enc
	}
}

// WithGetOnWait sets a function called when the read starts to wait.
func WithGetOnWait(fn func(index uint64)) GetOption {
	return func(tmpl *getTemplate) {
		tmpl.onWait = fn
	}
}

type streamTemplate struct {
	start      uint64
	end        *uint64
	live       bool
	encoding   encoding.Encoding
	byteOffset uint64
	byteLength *uint64
}

// StreamOption is the type of the options of the streams.
type StreamOption func(*streamTemplate)

// WithStart sets the first block of a read stream.
func WithStart(index uint64) StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.start = index
	}
}

// WithEnd sets the block at which a read stream stops.
func WithEnd(index uint64) StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.end = &index
	}
}

// WithLive makes a read stream that waits for the new blocks instead of
// stopping at the end of the log.
func WithLive() StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.live = true
	}
}

// WithStreamEncoding overrides the encoding of a read stream.
func WithStreamEncoding(enc encoding.Encoding) StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.encoding = enc
	}
}

// WithByteOffset sets the first byte of a byte stream.
func WithByteOffset(offset uint64) StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.byteOffset = offset
	}
}

// WithByteLength sets the number of bytes of a byte stream.
func WithByteLength(length uint64) StreamOption {
	return func(tmpl *streamTemplate) {
		tmpl.byteLength = &length
	}
}

type clearTemplate struct {
	diff bool
}

// ClearOption is the type of the options of a clear.
type ClearOption func(*clearTemplate)

// WithDiff requests the cleared content.
func WithDiff() ClearOption {
	return func(tmpl *clearTemplate) {
		tmpl.diff = true
	}
}

type truncateTemplate struct {
	fork *uint64
}

// TruncateOption is the type of the options of a truncation.
type TruncateOption func(*truncateTemplate)

// WithFork records the fork identifier with the truncation. The fork is
// unchanged otherwise.
func WithFork(id uint64) TruncateOption {
	return func(tmpl *truncateTemplate) {
		tmpl.fork = &id
	}
}

type infoTemplate struct {
	storage bool
}

// InfoOption is the type of the options of Info.
type InfoOption func(*infoTemplate)

// WithStorageInfo requests the number of bytes used by each part of the log.
func WithStorageInfo() InfoOption {
	return func(tmpl *infoTemplate) {
		tmpl.storage = true
	}
}

type updateTemplate struct {
	wait bool
}

// UpdateOption is the type of the options of Update.
type UpdateOption func(*updateTemplate)

// WithUpdateWait sets whether the update waits for the remote peers.
func WithUpdateWait(wait bool) UpdateOption {
	return func(tmpl *updateTemplate) {
		tmpl.wait = wait
	}
}
