// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides an implementation of a merkle tree for validation
// support for the blockchain.
package merkle

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// HashFunc combines the concatenated hashes of two children into the hash
// of their parent.
type HashFunc func(data []byte) []byte

// DoubleSHA512 is the default strategy: SHA-512 applied twice.
func DoubleSHA512(data []byte) []byte {
	first := sha512.Sum512(data)
	second := sha512.Sum512(first[:])
	return second[:]
}

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root       *Node[T]
	Leafs      []*Node[T]
	MerkleRoot []byte
	hashFn     HashFunc
}

// WithHashStrategy is used to change the default hash strategy of double
// SHA-512 when constructing a new tree.
func WithHashStrategy[T Hashable[T]](fn HashFunc) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashFn = fn
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := Tree[T]{
		hashFn: DoubleSHA512,
	}

	for _, option := range options {
		option(&t)
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. An odd level duplicates its last node.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return errors.New("cannot construct tree with no content")
	}

	leafs := make([]*Node[T], 0, len(values))
	for _, value := range values {
		hash, err := value.Hash()
		if err != nil {
			return err
		}

		leafs = append(leafs, &Node[T]{
			Hash:  hash,
			Value: value,
			leaf:  true,
			tree:  t,
		})
	}

	if len(leafs)%2 == 1 {
		last := leafs[len(leafs)-1]
		leafs = append(leafs, &Node[T]{
			Hash:  last.Hash,
			Value: last.Value,
			leaf:  true,
			dup:   true,
			tree:  t,
		})
	}

	t.Root = t.buildIntermediate(leafs)
	t.Leafs = leafs
	t.MerkleRoot = t.Root.Hash

	return nil
}

// Proof returns the sibling hashes on the path from the data's leaf to the
// root, and for each the order of concatenation: 0 means the proof hash goes
// first, 1 means it goes second.
func (t *Tree[T]) Proof(data T) ([][]byte, []int64, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var proof [][]byte
		var order []int64
		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if bytes.Equal(parent.Left.Hash, node.Hash) {
				proof = append(proof, parent.Right.Hash)
				order = append(order, 1)
			} else {
				proof = append(proof, parent.Left.Hash)
				order = append(order, 0)
			}
			node = parent
		}

		return proof, order, nil
	}

	return nil, nil, errors.New("unable to find data in tree")
}

// VerifyProof recomputes the root from a leaf hash and its proof.
func VerifyProof(leaf []byte, proof [][]byte, order []int64, root []byte, fn HashFunc) bool {
	if len(proof) != len(order) {
		return false
	}
	if fn == nil {
		fn = DoubleSHA512
	}

	h := leaf
	for i, p := range proof {
		switch order[i] {
		case 0:
			h = fn(concat(p, h))
		default:
			h = fn(concat(h, p))
		}
	}

	return bytes.Equal(h, root)
}

// Verify recalculates every level of the tree and checks the result matches
// the stored root.
func (t *Tree[T]) Verify() error {
	calculated, err := t.Root.verify()
	if err != nil {
		return err
	}

	if !bytes.Equal(t.MerkleRoot, calculated) {
		return errors.New("root hash invalid")
	}

	return nil
}

// Values returns the values stored in the tree without the padding leaf.
func (t *Tree[T]) Values() []T {
	values := make([]T, 0, len(t.Leafs))
	for _, l := range t.Leafs {
		if l.dup {
			continue
		}
		values = append(values, l.Value)
	}

	return values
}

// RootHex converts the merkle root byte hash to a hex encoded string.
func (t *Tree[T]) RootHex() string {
	return hexutil.Encode(t.MerkleRoot)
}

// String returns a string representation of the tree. Only leaf nodes are
// included in the output.
func (t *Tree[T]) String() string {
	var b bytes.Buffer
	for _, l := range t.Leafs {
		fmt.Fprintln(&b, l)
	}
	return b.String()
}

// =============================================================================

// Node represents a node, root, or leaf in the tree.
type Node[T Hashable[T]] struct {
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   []byte
	Value  T
	leaf   bool
	dup    bool
	tree   *Tree[T]
}

func (n *Node[T]) verify() ([]byte, error) {
	if n.leaf {
		return n.Value.Hash()
	}

	left, err := n.Left.verify()
	if err != nil {
		return nil, err
	}

	right, err := n.Right.verify()
	if err != nil {
		return nil, err
	}

	return n.tree.hashFn(concat(left, right)), nil
}

// String returns a string representation of the node.
func (n *Node[T]) String() string {
	return fmt.Sprintf("%t %t %x %v", n.leaf, n.dup, n.Hash, n.Value)
}

// buildIntermediate builds the levels above nl until a single root remains.
func (t *Tree[T]) buildIntermediate(nl []*Node[T]) *Node[T] {
	if len(nl) == 1 {
		return nl[0]
	}

	nodes := make([]*Node[T], 0, (len(nl)+1)/2)
	for i := 0; i < len(nl); i += 2 {
		left, right := nl[i], nl[i]
		if i+1 < len(nl) {
			right = nl[i+1]
		}

		n := Node[T]{
			Left:  left,
			Right: right,
			Hash:  t.hashFn(concat(left.Hash, right.Hash)),
			tree:  t,
		}

		left.Parent = &n
		right.Parent = &n
		nodes = append(nodes, &n)
	}

	return t.buildIntermediate(nodes)
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
