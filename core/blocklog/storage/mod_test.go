package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/core/blocklog/bitfield"
	"go.dedis.ch/hyperlog/core/blocklog/merkle"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/core/store/kv/mem"
	"go.dedis.ch/hyperlog/crypto"
	"go.dedis.ch/hyperlog/testing/fake"
	"golang.org/x/xerrors"
)

func TestStorage_Header(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	header, err := s.ReadHeader()
	require.NoError(t, err)
	require.Nil(t, header)

	err = s.WriteHeader(Header{Key: []byte{1}, Length: 2, Fork: 3})
	require.NoError(t, err)

	header, err = s.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, &Header{Key: []byte{1}, Length: 2, Fork: 3}, header)
}

func TestStorage_MalformedHeader(t *testing.T) {
	db := mem.NewDB()
	s := newStorage(t, db, "")

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("oplog"))
		require.NoError(t, err)

		return b.Set(headerKey, []byte("{"))
	})
	require.NoError(t, err)

	_, err = s.ReadHeader()
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed header: ")
}

func TestStorage_Blocks(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	_, found, err := s.ReadBlock(0)
	require.NoError(t, err)
	require.False(t, found)

	err = s.WriteBlocks(0, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")})
	require.NoError(t, err)

	block, found, err := s.ReadBlock(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bb"), block)
	require.True(t, s.cache.blocks.Contains(uint64(1)))

	removed, err := s.DeleteBlocks(1, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), removed)
	require.False(t, s.cache.blocks.Contains(uint64(1)))

	_, found, err = s.ReadBlock(1)
	require.NoError(t, err)
	require.False(t, found)

	block, found, err = s.ReadBlock(0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), block)
}

func TestStorage_OverwriteEvictsCache(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	require.NoError(t, s.WriteBlocks(0, [][]byte{[]byte("a")}))

	_, _, err := s.ReadBlock(0)
	require.NoError(t, err)

	require.NoError(t, s.WriteBlocks(0, [][]byte{[]byte("b")}))

	block, _, err := s.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), block)
}

func TestStorage_Update(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "ns")

	committed := false

	err := s.Update(func(tx *Storage) error {
		err := tx.WriteBlocks(0, [][]byte{[]byte("a")})
		require.NoError(t, err)

		tx.OnCommit(func() { committed = true })

		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")
	require.False(t, committed)

	_, found, err := s.ReadBlock(0)
	require.NoError(t, err)
	require.False(t, found)

	err = s.Update(func(tx *Storage) error {
		tx.OnCommit(func() { committed = true })
		return tx.WriteBlocks(0, [][]byte{[]byte("a")})
	})
	require.NoError(t, err)
	require.True(t, committed)

	err = s.View(func(tx *Storage) error {
		block, found, err := tx.ReadBlock(0)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("a"), block)

		err = tx.WriteBlocks(1, nil)
		require.EqualError(t, err, "transaction '*mem.readTx' is not writable")

		require.PanicsWithError(t, "transaction '*mem.readTx' does not support callbacks", func() {
			tx.OnCommit(func() {})
		})

		return nil
	})
	require.NoError(t, err)
}

func TestStorage_Nodes(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	tree, nodes := merkle.NewTree(crypto.NewBlake2bFactory()).Append([]byte("a"), []byte("b"))

	require.NoError(t, s.WriteNodes(nodes))

	loaded, err := merkle.Load(crypto.NewBlake2bFactory(), s, 2)
	require.NoError(t, err)
	require.Equal(t, tree.Hash(), loaded.Hash())

	require.NoError(t, s.DeleteNodes([]uint64{1}))

	_, found, err := s.GetNode(1)
	require.NoError(t, err)
	require.False(t, found)

	node, found, err := s.GetNode(2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), node.Size)
}

func TestStorage_MalformedNode(t *testing.T) {
	db := mem.NewDB()
	s := newStorage(t, db, "")

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("tree"))
		require.NoError(t, err)

		return b.Set(makeKey(0), []byte{1, 2})
	})
	require.NoError(t, err)

	_, _, err = s.GetNode(0)
	require.EqualError(t, err, "malformed node: invalid node length 2")
}

func TestStorage_Bitfield(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	bf := bitfield.New()
	batch := bf.Batch()
	batch.SetRange(0, 3, true)
	batch.Set(bitfield.PageBits, true)

	pages, err := batch.Pages()
	require.NoError(t, err)
	require.NoError(t, s.WritePages(pages))

	loaded := bitfield.New()
	require.NoError(t, s.LoadBitfield(loaded))
	require.True(t, loaded.HasAll(0, 3))
	require.True(t, loaded.Get(bitfield.PageBits))

	bf.Apply(batch)

	batch = bf.Batch()
	batch.Set(bitfield.PageBits, false)

	pages, err = batch.Pages()
	require.NoError(t, err)
	require.NoError(t, s.WritePages(pages))

	loaded = bitfield.New()
	require.NoError(t, s.LoadBitfield(loaded))
	require.False(t, loaded.Get(bitfield.PageBits))
	require.True(t, loaded.Get(2))
}

func TestStorage_UserData(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	require.NoError(t, s.WriteUserData("hello", []byte("world")))
	require.NoError(t, s.WriteUserData("other", []byte("value")))
	require.NoError(t, s.WriteUserData("other", nil))

	values, err := s.ReadUserData()
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"hello": []byte("world")}, values)
}

func TestStorage_Breakdown(t *testing.T) {
	s := newStorage(t, mem.NewDB(), "")

	b, err := s.Breakdown()
	require.NoError(t, err)
	require.Equal(t, Breakdown{}, b)

	require.NoError(t, s.WriteBlocks(0, [][]byte{[]byte("abc")}))
	require.NoError(t, s.WriteHeader(Header{}))

	b, err = s.Breakdown()
	require.NoError(t, err)
	require.Equal(t, uint64(8+3), b.Blocks)
	require.NotZero(t, b.Oplog)
	require.Zero(t, b.Tree)

	_, err = newStorage(t, fake.NewBadViewDB(mem.NewDB()), "").Breakdown()
	require.EqualError(t, err, fake.GetError().Error())
}

func TestStorage_Namespaces(t *testing.T) {
	db := mem.NewDB()

	a := newStorage(t, db, "a")
	b := newStorage(t, db, "b")

	require.NoError(t, a.WriteBlocks(0, [][]byte{[]byte("a")}))

	_, found, err := b.ReadBlock(0)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, a.Reset())

	_, found, err = a.ReadBlock(0)
	require.NoError(t, err)
	require.False(t, found)

	err = db.View(func(tx kv.ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("a/blocks")))
		return nil
	})
	require.NoError(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func newStorage(t *testing.T, db kv.DB, namespace string) *Storage {
	s, err := New(db, namespace, 0)
	require.NoError(t, err)

	return s
}
