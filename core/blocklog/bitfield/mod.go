// Package bitfield implements the presence bitfield of a log. The bits are
// split in fixed-size pages so that a change only rewrites the pages it
// touches.
package bitfield

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/xerrors"
)

// PageBits is the number of bits of a page.
const PageBits = 32768

// Bitfield is the set of the block indices that are present locally.
type Bitfield struct {
	sync.RWMutex

	pages map[uint64]*bitset.BitSet
}

// New returns an empty bitfield.
func New() *Bitfield {
	return &Bitfield{
		pages: make(map[uint64]*bitset.BitSet),
	}
}

// LoadPage restores a page from its binary representation.
func (b *Bitfield) LoadPage(num uint64, data []byte) error {
	page := new(bitset.BitSet)

	err := page.UnmarshalBinary(data)
	if err != nil {
		return xerrors.Errorf("couldn't unmarshal page %d: %v", num, err)
	}

	if page.Len() != PageBits {
		return xerrors.Errorf("page %d has %d bits", num, page.Len())
	}

	b.Lock()
	b.pages[num] = page
	b.Unlock()

	return nil
}

// Get returns true if the bit at the index is set.
func (b *Bitfield) Get(index uint64) bool {
	b.RLock()
	defer b.RUnlock()

	page, found := b.pages[index/PageBits]
	if !found {
		return false
	}

	return page.Test(uint(index % PageBits))
}

// HasAll returns true if every bit in [start, end) is set.
func (b *Bitfield) HasAll(start, end uint64) bool {
	if start >= end {
		return true
	}

	return b.FirstUnset(start) >= end
}

// FirstUnset returns the index of the first bit at or after start that is not
// set.
func (b *Bitfield) FirstUnset(start uint64) uint64 {
	b.RLock()
	defer b.RUnlock()

	num := start / PageBits
	offset := uint(start % PageBits)

	for {
		page, found := b.pages[num]
		if !found {
			return num*PageBits + uint64(offset)
		}

		next, ok := page.NextClear(offset)
		if ok {
			return num*PageBits + uint64(next)
		}

		num++
		offset = 0
	}
}

// Count returns the number of bits set in [start, end).
func (b *Bitfield) Count(start, end uint64) uint64 {
	b.RLock()
	defer b.RUnlock()

	var total uint64
	for i := start; i < end; i++ {
		page, found := b.pages[i/PageBits]
		if !found {
			// Skip the rest of the missing page.
			i = (i/PageBits+1)*PageBits - 1
			continue
		}

		if page.Test(uint(i % PageBits)) {
			total++
		}
	}

	return total
}

// Batch returns a new batch of changes on top of the bitfield.
func (b *Bitfield) Batch() *Batch {
	return &Batch{
		base:  b,
		pages: make(map[uint64]*bitset.BitSet),
	}
}

// Apply makes the changes of the batch visible. The batch must have been
// created from this bitfield and it must not be used afterwards.
func (b *Bitfield) Apply(batch *Batch) {
	b.Lock()
	defer b.Unlock()

	for num, page := range batch.pages {
		if page.None() {
			delete(b.pages, num)
		} else {
			b.pages[num] = page
		}
	}
}

// Batch is a set of changes to a bitfield that are not visible until applied.
// A batch is not safe for concurrent use.
type Batch struct {
	base  *Bitfield
	pages map[uint64]*bitset.BitSet
}

// SetRange sets the bits of [start, end) to the value.
func (bt *Batch) SetRange(start, end uint64, value bool) {
	for i := start; i < end; i++ {
		page := bt.page(i / PageBits)
		page.SetTo(uint(i%PageBits), value)
	}
}

// Set sets the bit at the index to the value.
func (bt *Batch) Set(index uint64, value bool) {
	bt.SetRange(index, index+1, value)
}

// Get returns the bit at the index, including the changes of the batch.
func (bt *Batch) Get(index uint64) bool {
	page, found := bt.pages[index/PageBits]
	if found {
		return page.Test(uint(index % PageBits))
	}

	return bt.base.Get(index)
}

// Pages returns the binary representation of every page modified by the
// batch, sorted by page number. A nil value means the page is empty and can be
// deleted.
func (bt *Batch) Pages() ([]Page, error) {
	pages := make([]Page, 0, len(bt.pages))

	for num, page := range bt.pages {
		p := Page{Num: num}

		if !page.None() {
			data, err := page.MarshalBinary()
			if err != nil {
				return nil, xerrors.Errorf("couldn't marshal page %d: %v", num, err)
			}

			p.Data = data
		}

		pages = append(pages, p)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Num < pages[j].Num })

	return pages, nil
}

func (bt *Batch) page(num uint64) *bitset.BitSet {
	page, found := bt.pages[num]
	if found {
		return page
	}

	bt.base.RLock()
	base, found := bt.base.pages[num]
	bt.base.RUnlock()

	if found {
		page = base.Clone()
	} else {
		page = bitset.New(PageBits)
	}

	bt.pages[num] = page

	return page
}

// Page is the binary representation of a page.
type Page struct {
	Num  uint64
	Data []byte
}
