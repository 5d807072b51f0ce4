package merkle

import (
	"bytes"

	"go.dedis.ch/hyperlog/core/blocklog/flattree"
	"go.dedis.ch/hyperlog/crypto"
	"golang.org/x/xerrors"
)

// Proof is an inclusion proof of a block in the tree of a given length. It
// contains the leaf, the siblings from the leaf up to the full root containing
// it, and the full roots.
type Proof struct {
	Index    uint64
	Length   uint64
	Leaf     Node
	Siblings []Node
	Roots    []Node
}

// Prove returns the inclusion proof of the block at the index.
func (t Tree) Prove(r NodeReader, index uint64) (Proof, error) {
	if index >= t.length {
		return Proof{}, xerrors.Errorf("index %d beyond %d", index, t.length)
	}

	leaf, err := getNode(r, 2*index)
	if err != nil {
		return Proof{}, xerrors.Errorf("while reading leaf: %w", err)
	}

	proof := Proof{
		Index:  index,
		Length: t.length,
		Leaf:   leaf,
		Roots:  t.Roots(),
	}

	roots := make(map[uint64]struct{}, len(t.roots))
	for _, root := range t.roots {
		roots[root.Index] = struct{}{}
	}

	current := leaf.Index
	for {
		if _, isRoot := roots[current]; isRoot {
			break
		}

		sibling, err := getNode(r, flattree.Sibling(current))
		if err != nil {
			return Proof{}, xerrors.Errorf("while reading sibling: %w", err)
		}

		proof.Siblings = append(proof.Siblings, sibling)
		current = flattree.Parent(current)
	}

	return proof, nil
}

// VerifyProof returns nil when the proof shows that the data is the block at
// the index of the proof in the tree of the given hash.
func VerifyProof(fac crypto.HashFactory, proof Proof, data []byte, treeHash []byte) error {
	leafHash := LeafHash(fac, data)
	if !bytes.Equal(leafHash, proof.Leaf.Hash) || uint64(len(data)) != proof.Leaf.Size {
		return xerrors.New("data mismatch the leaf")
	}

	if proof.Leaf.Index != 2*proof.Index {
		return xerrors.Errorf("leaf index %d mismatch block %d", proof.Leaf.Index, proof.Index)
	}

	current := proof.Leaf
	for _, sibling := range proof.Siblings {
		if sibling.Index != flattree.Sibling(current.Index) {
			return xerrors.Errorf("unexpected sibling %d for node %d", sibling.Index, current.Index)
		}

		parent := flattree.Parent(current.Index)

		if flattree.IsLeft(current.Index) {
			current = ParentNode(fac, parent, current, sibling)
		} else {
			current = ParentNode(fac, parent, sibling, current)
		}
	}

	expected := flattree.FullRoots(proof.Length)
	if len(expected) != len(proof.Roots) {
		return xerrors.Errorf("expected %d roots but got %d", len(expected), len(proof.Roots))
	}

	found := false
	for i, root := range proof.Roots {
		if root.Index != expected[i] {
			return xerrors.Errorf("unexpected root %d", root.Index)
		}

		if root.Index == current.Index {
			if !bytes.Equal(root.Hash, current.Hash) {
				return xerrors.Errorf("root %d mismatch", root.Index)
			}

			found = true
		}
	}

	if !found {
		return xerrors.Errorf("node %d is not a root", current.Index)
	}

	if !bytes.Equal(RootsHash(fac, proof.Roots), treeHash) {
		return xerrors.New("tree hash mismatch")
	}

	return nil
}
