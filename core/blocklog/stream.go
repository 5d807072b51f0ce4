package blocklog

import (
	"context"
	"io"

	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"golang.org/x/xerrors"
)

// ReadStream iterates over the values of a range of blocks. A stream is not
// restartable.
type ReadStream struct {
	log      *Log
	next     uint64
	end      *uint64
	live     bool
	encoding encoding.Encoding
}

// ReadStream returns a stream over the values of the blocks from the start to
// the end. The end defaults to the length of the log when the iteration
// starts, unless the stream is live in which case it never ends.
func (l *Log) ReadStream(opts ...StreamOption) *ReadStream {
	tmpl := streamTemplate{encoding: l.encoding}
	for _, opt := range opts {
		opt(&tmpl)
	}

	return &ReadStream{
		log:      l,
		next:     tmpl.start,
		end:      tmpl.end,
		live:     tmpl.live,
		encoding: tmpl.encoding,
	}
}

// Index returns the index of the next value.
func (s *ReadStream) Index() uint64 {
	return s.next
}

// Next returns the next value, or io.EOF at the end of the stream. A live
// stream waits for the next block.
func (s *ReadStream) Next(ctx context.Context) (interface{}, error) {
	if s.end == nil && !s.live {
		err := s.log.ready(ctx)
		if err != nil {
			return nil, err
		}

		end := s.log.Length()
		s.end = &end
	}

	if s.end != nil && s.next >= *s.end {
		return nil, io.EOF
	}

	value, err := s.log.Get(ctx, s.next, WithWait(true), WithGetEncoding(s.encoding))
	if err != nil {
		// A pinned handle does not grow.
		if s.live && xerrors.Is(err, ErrOutOfRange) {
			return nil, io.EOF
		}

		return nil, err
	}

	s.next++

	return value, nil
}

// ByteStream iterates over the bytes of a range of the log. It also
// implements io.Reader.
type ByteStream struct {
	log      *Log
	offset   uint64
	length   *uint64
	resolved bool

	index     uint64
	rel       uint64
	remaining uint64
	buffer    []byte
}

// ByteStream returns a stream over the bytes of the log from the byte offset.
// It reads up to the byte length, or up to the end of the log when the
// iteration starts.
func (l *Log) ByteStream(opts ...StreamOption) *ByteStream {
	tmpl := streamTemplate{}
	for _, opt := range opts {
		opt(&tmpl)
	}

	return &ByteStream{
		log:    l,
		offset: tmpl.byteOffset,
		length: tmpl.byteLength,
	}
}

func (s *ByteStream) resolve(ctx context.Context) error {
	if s.resolved {
		return nil
	}

	err := s.log.ready(ctx)
	if err != nil {
		return err
	}

	byteLength := s.log.ByteLength()
	if s.offset > byteLength {
		return xerrors.Errorf("offset %d beyond %d: %w", s.offset, byteLength, ErrOutOfRange)
	}

	s.remaining = byteLength - s.offset
	if s.length != nil && *s.length < s.remaining {
		s.remaining = *s.length
	}

	s.index, s.rel, err = s.log.Seek(ctx, s.offset)
	if err != nil {
		return err
	}

	s.resolved = true

	return nil
}

// Next returns the next chunk of bytes, or io.EOF at the end of the stream.
func (s *ByteStream) Next(ctx context.Context) ([]byte, error) {
	err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	if s.remaining == 0 {
		return nil, io.EOF
	}

	value, err := s.log.Get(ctx, s.index, WithWait(true), WithGetEncoding(encoding.Default()))
	if err != nil {
		return nil, err
	}

	chunk := value.([]byte)
	if s.rel >= uint64(len(chunk)) {
		chunk = nil
	} else {
		chunk = chunk[s.rel:]
	}

	if uint64(len(chunk)) > s.remaining {
		chunk = chunk[:s.remaining]
	}

	s.index++
	s.rel = 0
	s.remaining -= uint64(len(chunk))

	return chunk, nil
}

// Read implements io.Reader.
func (s *ByteStream) Read(p []byte) (int, error) {
	for len(s.buffer) == 0 {
		chunk, err := s.Next(context.Background())
		if err != nil {
			return 0, err
		}

		s.buffer = chunk
	}

	n := copy(p, s.buffer)
	s.buffer = s.buffer[n:]

	return n, nil
}
