package topology

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
)

// Topology is a binary tree describing a wallet's weighted signer set.
// The set of implementations is closed: Node plus the Leaf variants below.
type Topology interface {
	isTopology()
}

// Leaf is a terminal Topology node
type Leaf interface {
	Topology
	isLeaf()
}

// Node is an internal pair of subtrees
type Node struct {
	Left  Topology
	Right Topology
}

// SignerLeaf is a simple key-pair signer
type SignerLeaf struct {
	Address common.Address
	Weight  uint64
}

// SapientSignerLeaf is a signer whose validity is governed by a sub-configuration
// identified by ImageHash (nested wallet, session module, passkey module).
type SapientSignerLeaf struct {
	Address   common.Address
	Weight    uint64
	ImageHash common.Hash
}

// SubdigestLeaf pre-authorizes exactly one digest for this wallet
type SubdigestLeaf struct {
	Digest common.Hash
}

// AnyAddressSubdigestLeaf pre-authorizes one digest independently of the wallet address
type AnyAddressSubdigestLeaf struct {
	Digest common.Hash
}

// NodeLeaf is an opaque, already hashed subtree
type NodeLeaf struct {
	Hash common.Hash
}

// NestedLeaf is a subtree with its own threshold that contributes Weight to its
// parent once the threshold is met.
type NestedLeaf struct {
	Tree      Topology
	Weight    uint64
	Threshold uint64
}

func (Node) isTopology()                    {}
func (SignerLeaf) isTopology()              {}
func (SapientSignerLeaf) isTopology()       {}
func (SubdigestLeaf) isTopology()           {}
func (AnyAddressSubdigestLeaf) isTopology() {}
func (NodeLeaf) isTopology()                {}
func (NestedLeaf) isTopology()              {}

func (SignerLeaf) isLeaf()              {}
func (SapientSignerLeaf) isLeaf()       {}
func (SubdigestLeaf) isLeaf()           {}
func (AnyAddressSubdigestLeaf) isLeaf() {}
func (NodeLeaf) isLeaf()                {}
func (NestedLeaf) isLeaf()              {}

// Wire-format limits
const (
	MaxLeafWeight      = math.MaxUint8
	MaxNestedThreshold = math.MaxUint16
	MaxThreshold       = math.MaxUint16
	MaxCheckpoint      = 1<<56 - 1
)

// FromLeaves builds a balanced tree from leaves, keeping their order
func FromLeaves(leaves ...Topology) (Topology, error) {
	switch len(leaves) {
	case 0:
		return nil, fmt.Errorf("cannot build a topology without leaves")
	case 1:
		return leaves[0], nil
	case 2:
		return Node{Left: leaves[0], Right: leaves[1]}, nil
	}

	mid := len(leaves) / 2
	left, err := FromLeaves(leaves[:mid]...)
	if err != nil {
		return nil, err
	}
	right, err := FromLeaves(leaves[mid:]...)
	if err != nil {
		return nil, err
	}
	return Node{Left: left, Right: right}, nil
}

// Walk visits every node of the tree depth-first, left before right.
// Returning false from visit skips the children of that node.
func Walk(t Topology, visit func(Topology) bool) {
	if t == nil || !visit(t) {
		return
	}
	switch n := t.(type) {
	case Node:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case NestedLeaf:
		Walk(n.Tree, visit)
	}
}

// Signers returns the addresses of all plain signer leaves, in tree order
func Signers(t Topology) []common.Address {
	var out []common.Address
	Walk(t, func(n Topology) bool {
		if leaf, ok := n.(SignerLeaf); ok {
			out = append(out, leaf.Address)
		}
		return true
	})
	return lo.Uniq(out)
}

// SapientSigners returns all sapient signer leaves, in tree order
func SapientSigners(t Topology) []SapientSignerLeaf {
	var out []SapientSignerLeaf
	Walk(t, func(n Topology) bool {
		if leaf, ok := n.(SapientSignerLeaf); ok {
			out = append(out, leaf)
		}
		return true
	})
	return out
}

// SignerAddresses returns plain and sapient signer addresses, in tree order
func SignerAddresses(t Topology) []common.Address {
	var out []common.Address
	Walk(t, func(n Topology) bool {
		switch leaf := n.(type) {
		case SignerLeaf:
			out = append(out, leaf.Address)
		case SapientSignerLeaf:
			out = append(out, leaf.Address)
		}
		return true
	})
	return lo.Uniq(out)
}

// AddWeight adds two weights, saturating at math.MaxUint64
func AddWeight(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// SignedWeight returns the weight the tree reaches when exactly the signers for which
// isSigned returns true sign. Nested thresholds are honoured; subdigest leaves and
// pruned nodes contribute nothing.
func SignedWeight(t Topology, isSigned func(common.Address) bool) uint64 {
	switch n := t.(type) {
	case Node:
		return AddWeight(SignedWeight(n.Left, isSigned), SignedWeight(n.Right, isSigned))
	case SignerLeaf:
		if isSigned(n.Address) {
			return n.Weight
		}
	case SapientSignerLeaf:
		if isSigned(n.Address) {
			return n.Weight
		}
	case NestedLeaf:
		if SignedWeight(n.Tree, isSigned) >= n.Threshold {
			return n.Weight
		}
	}
	return 0
}

// MaxWeight returns the weight reached if every signer in the tree signed
func MaxWeight(t Topology) uint64 {
	return SignedWeight(t, func(common.Address) bool { return true })
}

// Prune replaces every subtree that holds no signer accepted by keep with a NodeLeaf
// carrying that subtree's hash. The root hash is unchanged.
func Prune(t Topology, keep func(common.Address) bool) (Topology, error) {
	if !containsSigner(t, keep) {
		switch t.(type) {
		case NodeLeaf, SubdigestLeaf, AnyAddressSubdigestLeaf:
			return t, nil
		}
		h, err := Hash(t)
		if err != nil {
			return nil, err
		}
		return NodeLeaf{Hash: h}, nil
	}

	switch n := t.(type) {
	case Node:
		left, err := Prune(n.Left, keep)
		if err != nil {
			return nil, err
		}
		right, err := Prune(n.Right, keep)
		if err != nil {
			return nil, err
		}
		return Node{Left: left, Right: right}, nil
	case NestedLeaf:
		tree, err := Prune(n.Tree, keep)
		if err != nil {
			return nil, err
		}
		return NestedLeaf{Tree: tree, Weight: n.Weight, Threshold: n.Threshold}, nil
	default:
		return t, nil
	}
}

func containsSigner(t Topology, keep func(common.Address) bool) bool {
	found := false
	Walk(t, func(n Topology) bool {
		switch leaf := n.(type) {
		case SignerLeaf:
			found = found || keep(leaf.Address)
		case SapientSignerLeaf:
			found = found || keep(leaf.Address)
		}
		return !found
	})
	return found
}

// Validate checks that every leaf fits the wire format
func Validate(t Topology) error {
	switch n := t.(type) {
	case nil:
		return fmt.Errorf("empty topology")
	case Node:
		if err := Validate(n.Left); err != nil {
			return err
		}
		return Validate(n.Right)
	case SignerLeaf:
		if n.Weight > MaxLeafWeight {
			return fmt.Errorf("signer %s weight %d exceeds %d", n.Address.Hex(), n.Weight, MaxLeafWeight)
		}
	case SapientSignerLeaf:
		if n.Weight > MaxLeafWeight {
			return fmt.Errorf("sapient signer %s weight %d exceeds %d", n.Address.Hex(), n.Weight, MaxLeafWeight)
		}
	case NestedLeaf:
		if n.Weight > MaxLeafWeight {
			return fmt.Errorf("nested weight %d exceeds %d", n.Weight, MaxLeafWeight)
		}
		if n.Threshold > MaxNestedThreshold {
			return fmt.Errorf("nested threshold %d exceeds %d", n.Threshold, MaxNestedThreshold)
		}
		return Validate(n.Tree)
	case SubdigestLeaf, AnyAddressSubdigestLeaf, NodeLeaf:
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
	return nil
}
