// Package merkle implements the integrity tree of a log.
//
// The tree is a flat tree of hashes where every block is a leaf. The state of
// the tree for a given length is entirely described by its full roots, and the
// tree hash is the hash of those roots. A tree is a value: appending or
// truncating returns a new tree together with the nodes to persist or delete.
package merkle

import (
	"go.dedis.ch/hyperlog/core/blocklog/flattree"
	"go.dedis.ch/hyperlog/crypto"
	"golang.org/x/xerrors"
)

// ErrNodeNotFound is returned when a node required by an operation is missing
// from the reader.
var ErrNodeNotFound = xerrors.New("node not found")

// NodeReader is the interface to read the persisted nodes of a tree.
type NodeReader interface {
	// GetNode returns the node at the index. The boolean is false when the node
	// does not exist.
	GetNode(index uint64) (Node, bool, error)
}

// NodeMap is an in-memory set of nodes.
//
// - implements merkle.NodeReader
type NodeMap map[uint64]Node

// GetNode implements merkle.NodeReader.
func (m NodeMap) GetNode(index uint64) (Node, bool, error) {
	node, found := m[index]
	return node, found, nil
}

// Put adds the nodes to the map.
func (m NodeMap) Put(nodes ...Node) {
	for _, node := range nodes {
		m[node.Index] = node
	}
}

// Layered is a reader that looks up the nodes in each layer in order.
//
// - implements merkle.NodeReader
type Layered []NodeReader

// GetNode implements merkle.NodeReader.
func (l Layered) GetNode(index uint64) (Node, bool, error) {
	for _, r := range l {
		node, found, err := r.GetNode(index)
		if err != nil {
			return Node{}, false, err
		}

		if found {
			return node, true, nil
		}
	}

	return Node{}, false, nil
}

// Tree is the state of the integrity tree at a given length.
type Tree struct {
	fac        crypto.HashFactory
	roots      []Node
	length     uint64
	byteLength uint64
}

// NewTree returns an empty tree.
func NewTree(fac crypto.HashFactory) Tree {
	return Tree{fac: fac}
}

// Load returns the tree of the given length from the persisted nodes.
func Load(fac crypto.HashFactory, r NodeReader, length uint64) (Tree, error) {
	tree := Tree{
		fac:    fac,
		length: length,
	}

	for _, index := range flattree.FullRoots(length) {
		node, err := getNode(r, index)
		if err != nil {
			return tree, xerrors.Errorf("while loading root: %w", err)
		}

		tree.roots = append(tree.roots, node)
		tree.byteLength += node.Size
	}

	return tree, nil
}

// Length returns the number of leaves.
func (t Tree) Length() uint64 {
	return t.length
}

// ByteLength returns the number of bytes covered by the tree.
func (t Tree) ByteLength() uint64 {
	return t.byteLength
}

// Roots returns the full roots of the tree.
func (t Tree) Roots() []Node {
	return append([]Node{}, t.roots...)
}

// Hash returns the tree hash.
func (t Tree) Hash() []byte {
	return RootsHash(t.fac, t.roots)
}

// Append returns the tree extended with the blocks, and the new nodes to
// persist in the order they were created.
func (t Tree) Append(blocks ...[]byte) (Tree, []Node) {
	next := Tree{
		fac:        t.fac,
		roots:      t.Roots(),
		length:     t.length,
		byteLength: t.byteLength,
	}

	nodes := make([]Node, 0, 2*len(blocks))

	for _, block := range blocks {
		leaf := Node{
			Index: 2 * next.length,
			Size:  uint64(len(block)),
			Hash:  LeafHash(t.fac, block),
		}

		nodes = append(nodes, leaf)
		next.roots = append(next.roots, leaf)
		next.length++
		next.byteLength += leaf.Size

		for len(next.roots) > 1 {
			right := next.roots[len(next.roots)-1]
			left := next.roots[len(next.roots)-2]

			if flattree.Sibling(right.Index) != left.Index {
				break
			}

			parent := ParentNode(t.fac, flattree.Parent(left.Index), left, right)
			nodes = append(nodes, parent)

			next.roots = append(next.roots[:len(next.roots)-2], parent)
		}
	}

	return next, nodes
}

// Truncate returns the tree of the smaller length and the indices of the
// nodes that must be deleted.
func (t Tree) Truncate(r NodeReader, length uint64) (Tree, []uint64, error) {
	if length > t.length {
		return t, nil, xerrors.Errorf("length %d beyond %d", length, t.length)
	}

	if length == t.length {
		return t, nil, nil
	}

	next, err := Load(t.fac, r, length)
	if err != nil {
		return t, nil, xerrors.Errorf("while loading: %v", err)
	}

	// Every node with index at or after the first removed leaf covers at least
	// one removed leaf.
	last := 2*t.length - 2
	removed := make([]uint64, 0, last-2*length+1)

	for i := 2 * length; i <= last; i++ {
		removed = append(removed, i)
	}

	// The remaining ones are the ancestors that cross the boundary.
	if length > 0 {
		index := 2*length - 2
		for {
			index = flattree.Parent(index)
			if flattree.RightSpan(index) > last {
				break
			}

			if index < 2*length && flattree.RightSpan(index) >= 2*length {
				removed = append(removed, index)
			}
		}
	}

	return next, removed, nil
}

// Seek returns the block containing the byte offset and the offset relative to
// the start of the block. An offset equal to the byte length points right
// after the last block.
func (t Tree) Seek(r NodeReader, offset uint64) (uint64, uint64, error) {
	if offset > t.byteLength {
		return 0, 0, xerrors.Errorf("offset %d beyond %d", offset, t.byteLength)
	}

	if offset == t.byteLength {
		return t.length, 0, nil
	}

	for _, root := range t.roots {
		if offset >= root.Size {
			offset -= root.Size
			continue
		}

		node := root
		for {
			left, right, ok := flattree.Children(node.Index)
			if !ok {
				return node.Index / 2, offset, nil
			}

			leftNode, err := getNode(r, left)
			if err != nil {
				return 0, 0, xerrors.Errorf("while descending: %w", err)
			}

			if offset < leftNode.Size {
				node = leftNode
				continue
			}

			offset -= leftNode.Size

			node, err = getNode(r, right)
			if err != nil {
				return 0, 0, xerrors.Errorf("while descending: %w", err)
			}
		}
	}

	// Only reached when the roots disagree with the byte length.
	return 0, 0, xerrors.Errorf("offset %d not covered by the roots", offset)
}

// ByteOffset returns the number of bytes before the block.
func (t Tree) ByteOffset(r NodeReader, index uint64) (uint64, error) {
	if index > t.length {
		return 0, xerrors.Errorf("index %d beyond %d", index, t.length)
	}

	if index == t.length {
		return t.byteLength, nil
	}

	target := 2 * index

	var offset uint64
	for _, root := range t.roots {
		if flattree.RightSpan(root.Index) < target {
			offset += root.Size
			continue
		}

		node := root.Index
		for node != target {
			left, right, _ := flattree.Children(node)

			if flattree.RightSpan(left) >= target {
				node = left
				continue
			}

			leftNode, err := getNode(r, left)
			if err != nil {
				return 0, xerrors.Errorf("while descending: %w", err)
			}

			offset += leftNode.Size
			node = right
		}

		break
	}

	return offset, nil
}

func getNode(r NodeReader, index uint64) (Node, error) {
	node, found, err := r.GetNode(index)
	if err != nil {
		return Node{}, xerrors.Errorf("couldn't read node %d: %v", index, err)
	}

	if !found {
		return Node{}, xerrors.Errorf("node %d: %w", index, ErrNodeNotFound)
	}

	return node, nil
}
