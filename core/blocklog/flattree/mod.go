// Package flattree implements the index arithmetic of a binary tree laid out
// in-order in a flat array.
//
// Leaves are at the even indices and parents at the odd ones. A node is
// identified by its depth (zero for leaves) and its offset among the nodes of
// the same depth:
//
//	3
//	1       5
//	0   2   4   6
//
// Leaf n of a log is node 2n, and the complete subtrees covering the first n
// leaves are its full roots.
package flattree

import "math/bits"

// Index returns the flat index of the node at the depth and offset.
func Index(depth, offset uint64) uint64 {
	return (offset << (depth + 1)) | ((1 << depth) - 1)
}

// Depth returns the depth of the node, which is the number of trailing ones
// of the index.
func Depth(index uint64) uint64 {
	return uint64(bits.TrailingZeros64(^index))
}

// Offset returns the position of the node among the nodes of the same depth.
func Offset(index uint64) uint64 {
	return index >> (Depth(index) + 1)
}

// Parent returns the index of the parent node.
func Parent(index uint64) uint64 {
	depth := Depth(index)

	return Index(depth+1, Offset(index)>>1)
}

// Sibling returns the index of the other child of the parent.
func Sibling(index uint64) uint64 {
	depth := Depth(index)

	return Index(depth, Offset(index)^1)
}

// Children returns the left and right children of the node. The boolean is
// false for leaves.
func Children(index uint64) (uint64, uint64, bool) {
	if index&1 == 0 {
		return 0, 0, false
	}

	depth := Depth(index)
	offset := Offset(index) * 2

	return Index(depth-1, offset), Index(depth-1, offset+1), true
}

// IsLeft returns true when the node is the left child of its parent.
func IsLeft(index uint64) bool {
	return Offset(index)&1 == 0
}

// LeftSpan returns the index of the left-most leaf of the subtree.
func LeftSpan(index uint64) uint64 {
	depth := Depth(index)
	if depth == 0 {
		return index
	}

	return Offset(index) << (depth + 1)
}

// RightSpan returns the index of the right-most leaf of the subtree.
func RightSpan(index uint64) uint64 {
	depth := Depth(index)
	if depth == 0 {
		return index
	}

	return ((Offset(index) + 1) << (depth + 1)) - 2
}

// LeafCount returns the number of leaves under the node.
func LeafCount(index uint64) uint64 {
	return 1 << Depth(index)
}

// FullRoots returns the indices of the roots of the complete subtrees that
// cover the first leaves, from left to right.
func FullRoots(leaves uint64) []uint64 {
	roots := make([]uint64, 0, bits.OnesCount64(leaves))

	var offset uint64
	for leaves > 0 {
		factor := uint64(1) << (63 - bits.LeadingZeros64(leaves))

		roots = append(roots, offset+factor-1)
		offset += 2 * factor
		leaves -= factor
	}

	return roots
}
