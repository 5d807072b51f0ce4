package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/crypto"
	"golang.org/x/xerrors"
	"pgregory.net/rapid"
)

var testFac = crypto.NewBlake2bFactory()

func TestTree_Append(t *testing.T) {
	tree, nodes := NewTree(testFac).Append([]byte("a"), []byte("bb"), []byte("ccc"))

	require.Equal(t, uint64(3), tree.Length())
	require.Equal(t, uint64(6), tree.ByteLength())

	// Leaves 0, 2, 4 and the parent 1 of the first two.
	require.Len(t, nodes, 4)
	require.Equal(t, []uint64{0, 2, 1, 4}, indices(nodes))

	roots := tree.Roots()
	require.Equal(t, []uint64{1, 4}, indices(roots))
	require.Equal(t, uint64(3), roots[0].Size)
	require.Equal(t, uint64(3), roots[1].Size)

	parent := ParentNode(testFac, 1, nodes[0], nodes[1])
	require.Equal(t, parent.Hash, roots[0].Hash)
}

func TestTree_AppendIncremental(t *testing.T) {
	blocks := makeBlocks(13)

	all, _ := NewTree(testFac).Append(blocks...)

	step := NewTree(testFac)
	for _, block := range blocks {
		step, _ = step.Append(block)
	}

	require.Equal(t, all.Hash(), step.Hash())
	require.Equal(t, all.Roots(), step.Roots())
}

func TestTree_Hash(t *testing.T) {
	empty := NewTree(testFac)
	require.Equal(t, RootsHash(testFac, nil), empty.Hash())

	a, _ := empty.Append([]byte("a"))
	b, _ := empty.Append([]byte("b"))
	require.NotEqual(t, a.Hash(), b.Hash())
	require.NotEqual(t, empty.Hash(), a.Hash())
}

func TestLoad(t *testing.T) {
	nodes := NodeMap{}
	tree, created := NewTree(testFac).Append(makeBlocks(7)...)
	nodes.Put(created...)

	loaded, err := Load(testFac, nodes, 7)
	require.NoError(t, err)
	require.Equal(t, tree.Hash(), loaded.Hash())
	require.Equal(t, tree.ByteLength(), loaded.ByteLength())

	delete(nodes, 12)
	_, err = Load(testFac, nodes, 7)
	require.True(t, xerrors.Is(err, ErrNodeNotFound))

	_, err = Load(testFac, badReader{}, 1)
	require.EqualError(t, err, "while loading root: couldn't read node 0: oops")
}

func TestTree_Truncate(t *testing.T) {
	nodes := NodeMap{}
	blocks := makeBlocks(7)

	tree, created := NewTree(testFac).Append(blocks...)
	nodes.Put(created...)

	truncated, removed, err := tree.Truncate(nodes, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), truncated.Length())

	expected, _ := NewTree(testFac).Append(blocks[:5]...)
	require.Equal(t, expected.Hash(), truncated.Hash())

	// Leaves 5 and 6, their parent 11 and the crossing ancestor 9 whose right
	// child is leaf 5.
	require.ElementsMatch(t, []uint64{10, 11, 12, 9}, removed)

	same, removed, err := tree.Truncate(nodes, 7)
	require.NoError(t, err)
	require.Empty(t, removed)
	require.Equal(t, tree.Hash(), same.Hash())

	_, _, err = tree.Truncate(nodes, 8)
	require.EqualError(t, err, "length 8 beyond 7")

	_, _, err = tree.Truncate(badReader{}, 3)
	require.EqualError(t, err,
		"while loading: while loading root: couldn't read node 1: oops")
}

func TestTree_TruncateThenAppend(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		blocks := rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 1, 40).Draw(t, "blocks")
		n := rapid.IntRange(0, len(blocks)).Draw(t, "n")

		nodes := NodeMap{}
		tree, created := NewTree(testFac).Append(blocks...)
		nodes.Put(created...)

		truncated, removed, err := tree.Truncate(nodes, uint64(n))
		if err != nil {
			t.Fatalf("truncate failed: %v", err)
		}

		for _, index := range removed {
			delete(nodes, index)
		}

		fresh, _ := NewTree(testFac).Append(blocks[:n]...)
		if string(fresh.Hash()) != string(truncated.Hash()) {
			t.Fatalf("tree hash mismatch at %d", n)
		}

		// Every node left in the map must belong to the truncated tree.
		for index := range nodes {
			if index >= 2*uint64(n) {
				t.Fatalf("node %d survived", index)
			}
		}

		// Appending the same blocks again produces the original tree.
		again, created := truncated.Append(blocks[n:]...)
		nodes.Put(created...)

		if string(again.Hash()) != string(tree.Hash()) {
			t.Fatal("tree hash mismatch after append")
		}

		reloaded, err := Load(testFac, nodes, uint64(len(blocks)))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}

		if string(reloaded.Hash()) != string(tree.Hash()) {
			t.Fatal("tree hash mismatch after reload")
		}
	})
}

func TestTree_Seek(t *testing.T) {
	nodes := NodeMap{}
	tree, created := NewTree(testFac).Append([]byte("a"), []byte("b"))
	nodes.Put(created...)

	index, rel, err := tree.Seek(nodes, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
	require.Equal(t, uint64(0), rel)

	index, rel, err = tree.Seek(nodes, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
	require.Equal(t, uint64(0), rel)

	_, _, err = tree.Seek(nodes, 3)
	require.EqualError(t, err, "offset 3 beyond 2")

	tree, created = tree.Append([]byte("hello"), nil, []byte("world"))
	nodes.Put(created...)

	index, rel, err = tree.Seek(nodes, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
	require.Equal(t, uint64(3), rel)

	// The empty block is skipped.
	index, rel, err = tree.Seek(nodes, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(4), index)
	require.Equal(t, uint64(0), rel)

	_, _, err = tree.Seek(NodeMap{}, 0)
	require.True(t, xerrors.Is(err, ErrNodeNotFound))
}

func TestTree_SeekMatchesOffsets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		blocks := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 8), 1, 30).Draw(t, "blocks")

		nodes := NodeMap{}
		tree, created := NewTree(testFac).Append(blocks...)
		nodes.Put(created...)

		var offset uint64
		for i, block := range blocks {
			start, err := tree.ByteOffset(nodes, uint64(i))
			if err != nil || start != offset {
				t.Fatalf("wrong offset for %d: %d (%v)", i, start, err)
			}

			for j := range block {
				index, rel, err := tree.Seek(nodes, offset+uint64(j))
				if err != nil {
					t.Fatalf("seek failed: %v", err)
				}

				if index != uint64(i) || rel != uint64(j) {
					t.Fatalf("seek %d gave (%d, %d)", offset+uint64(j), index, rel)
				}
			}

			offset += uint64(len(block))
		}
	})
}

func TestTree_ByteOffset(t *testing.T) {
	nodes := NodeMap{}
	tree, created := NewTree(testFac).Append([]byte("a"), []byte("bb"), []byte("ccc"))
	nodes.Put(created...)

	offset, err := tree.ByteOffset(nodes, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), offset)

	offset, err = tree.ByteOffset(nodes, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(6), offset)

	_, err = tree.ByteOffset(nodes, 4)
	require.EqualError(t, err, "index 4 beyond 3")
}

func TestProof(t *testing.T) {
	nodes := NodeMap{}
	blocks := makeBlocks(11)

	tree, created := NewTree(testFac).Append(blocks...)
	nodes.Put(created...)

	for i, block := range blocks {
		proof, err := tree.Prove(nodes, uint64(i))
		require.NoError(t, err)

		require.NoError(t, VerifyProof(testFac, proof, block, tree.Hash()))
	}

	proof, err := tree.Prove(nodes, 3)
	require.NoError(t, err)

	err = VerifyProof(testFac, proof, []byte("x"), tree.Hash())
	require.EqualError(t, err, "data mismatch the leaf")

	err = VerifyProof(testFac, proof, blocks[3], []byte("bad"))
	require.EqualError(t, err, "tree hash mismatch")

	proof.Siblings[0].Hash = proof.Leaf.Hash
	err = VerifyProof(testFac, proof, blocks[3], tree.Hash())
	require.EqualError(t, err, "root 7 mismatch")

	proof.Roots = proof.Roots[1:]
	err = VerifyProof(testFac, proof, blocks[3], tree.Hash())
	require.EqualError(t, err, "expected 3 roots but got 2")

	_, err = tree.Prove(nodes, 11)
	require.EqualError(t, err, "index 11 beyond 11")
}

func TestNode_MarshalBinary(t *testing.T) {
	node := Node{Index: 5, Size: 42, Hash: make([]byte, crypto.HashSize)}

	data, err := node.MarshalBinary()
	require.NoError(t, err)

	decoded, err := NodeFromBytes(5, data)
	require.NoError(t, err)
	require.Equal(t, node, decoded)

	_, err = NodeFromBytes(5, data[:10])
	require.EqualError(t, err, "invalid node length 10")
}

func TestLayered_GetNode(t *testing.T) {
	top := NodeMap{1: {Index: 1, Size: 1}}
	bottom := NodeMap{1: {Index: 1, Size: 2}, 2: {Index: 2, Size: 3}}

	r := Layered{top, bottom}

	node, found, err := r.GetNode(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), node.Size)

	node, found, err = r.GetNode(2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), node.Size)

	_, found, err = r.GetNode(3)
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = Layered{badReader{}}.GetNode(0)
	require.EqualError(t, err, "oops")
}

func TestSignable(t *testing.T) {
	msg := Signable([]byte{0xaa}, 1, 2)
	require.Equal(t, []byte{0xaa, 1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}, msg)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeBlocks(n int) [][]byte {
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = []byte{byte(i), byte(i * 7)}
	}

	return blocks
}

func indices(nodes []Node) []uint64 {
	res := make([]uint64, len(nodes))
	for i, node := range nodes {
		res[i] = node.Index
	}

	return res
}

type badReader struct{}

func (badReader) GetNode(uint64) (Node, bool, error) {
	return Node{}, false, xerrors.New("oops")
}
