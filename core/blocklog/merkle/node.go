package merkle

import (
	"encoding/binary"

	"go.dedis.ch/hyperlog/crypto"
	"golang.org/x/xerrors"
)

const (
	leafType   byte = 0x00
	parentType byte = 0x01
	rootType   byte = 0x02
)

// Node is a node of the integrity tree. The size is the number of bytes of the
// blocks covered by the node.
type Node struct {
	Index uint64
	Size  uint64
	Hash  []byte
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns the size of the
// node followed by its hash. The index is not part of the output as it is
// usually the key of the node.
func (n Node) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, 8+len(n.Hash))
	binary.LittleEndian.PutUint64(buffer, n.Size)
	copy(buffer[8:], n.Hash)

	return buffer, nil
}

// NodeFromBytes returns the node at the index from its binary representation.
func NodeFromBytes(index uint64, data []byte) (Node, error) {
	if len(data) != 8+crypto.HashSize {
		return Node{}, xerrors.Errorf("invalid node length %d", len(data))
	}

	node := Node{
		Index: index,
		Size:  binary.LittleEndian.Uint64(data),
		Hash:  append([]byte{}, data[8:]...),
	}

	return node, nil
}

// LeafHash returns the hash of the leaf of a block.
func LeafHash(fac crypto.HashFactory, data []byte) []byte {
	h := fac.New()
	h.Write([]byte{leafType})
	h.Write(uint64LE(uint64(len(data))))
	h.Write(data)

	return h.Sum(nil)
}

// ParentNode returns the node combining the two children.
func ParentNode(fac crypto.HashFactory, index uint64, left, right Node) Node {
	size := left.Size + right.Size

	h := fac.New()
	h.Write([]byte{parentType})
	h.Write(uint64LE(size))
	h.Write(left.Hash)
	h.Write(right.Hash)

	return Node{
		Index: index,
		Size:  size,
		Hash:  h.Sum(nil),
	}
}

// RootsHash returns the hash of a list of full roots.
func RootsHash(fac crypto.HashFactory, roots []Node) []byte {
	h := fac.New()
	h.Write([]byte{rootType})

	for _, root := range roots {
		h.Write(root.Hash)
		h.Write(uint64LE(root.Index))
		h.Write(uint64LE(root.Size))
	}

	return h.Sum(nil)
}

// Signable returns the message that is signed by the owner of the log for a
// state of the tree.
func Signable(treeHash []byte, length, fork uint64) []byte {
	msg := make([]byte, 0, len(treeHash)+16)
	msg = append(msg, treeHash...)
	msg = append(msg, uint64LE(length)...)
	msg = append(msg, uint64LE(fork)...)

	return msg
}

func uint64LE(v uint64) []byte {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, v)

	return buffer
}
