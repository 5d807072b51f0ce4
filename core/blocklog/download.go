package blocklog

import (
	"context"
	"sync"
)

// Download is the acquisition of a range of blocks. It is done once every
// block of the range is present locally.
type Download struct {
	log    *Log
	blocks []uint64
	// next is the first block of [next, end) not known to be present.
	next uint64
	end  uint64

	done    chan struct{}
	err     error
	cancel  chan struct{}
	destroy sync.Once
}

// Download starts the acquisition of the range in the background. Locally the
// download completes when the blocks are appended or delivered with PutBlock,
// and the order of the acquisition is irrelevant.
func (l *Log) Download(ctx context.Context, r Range) *Download {
	d := &Download{
		log:    l,
		blocks: append([]uint64{}, r.Blocks...),
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}

	d.next, d.end = r.interval()

	go func() {
		d.err = d.run(ctx)
		close(d.done)
	}()

	return d
}

func (d *Download) run(ctx context.Context) error {
	err := d.log.ready(ctx)
	if err != nil {
		return err
	}

	d.log.logger.Debug().
		Int("blocks", len(d.blocks)).
		Uint64("start", d.next).
		Uint64("end", d.end).
		Msg("download started")

	for {
		v, err := d.log.view()
		if err != nil {
			return err
		}

		if d.complete(v) {
			return nil
		}

		select {
		case <-v.notify:
		case <-d.cancel:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		case <-d.log.closing:
			return ErrClosed
		}
	}
}

// complete returns true when every block is present. The listed blocks are
// checked in order and the ones found are dropped, then the cursor of the
// interval moves over the present blocks.
func (d *Download) complete(v view) bool {
	bf := d.log.core.bitfield
	length := v.tree.Length()

	for len(d.blocks) > 0 {
		index := d.blocks[0]

		_, staged := v.block(index)
		present := staged || (index < length && bf.Get(index))

		if !present {
			return false
		}

		d.blocks = d.blocks[1:]
	}

	for d.next < d.end {
		if d.next >= length {
			return false
		}

		_, staged := v.block(d.next)
		if staged {
			d.next = v.base + uint64(len(v.staged))
			continue
		}

		first := bf.FirstUnset(d.next)
		if first == d.next {
			return false
		}

		if first > length {
			first = length
		}

		d.next = first
	}

	return true
}

// Done waits for the download to complete. It returns ErrCancelled when the
// download is destroyed and ErrClosed when the log is closed.
func (d *Download) Done(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy cancels the download. It is a no-op when the download is already
// done or destroyed.
func (d *Download) Destroy() {
	d.destroy.Do(func() {
		close(d.cancel)
	})
}
