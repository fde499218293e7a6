package topology

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
)

// Pre-image prefixes; each leaf type hashes under its own tag
var (
	signerPrefix     = []byte("Sequence signer:\n")
	sapientPrefix    = []byte("Sequence sapient config:\n")
	subdigestPrefix  = []byte("Sequence static digest:\n")
	anyAddressPrefix = []byte("Sequence any address subdigest:\n")
	nestedPrefix     = []byte("Sequence nested config:\n")
)

// Hash returns the canonical hash of a topology
func Hash(t Topology) (common.Hash, error) {
	switch n := t.(type) {
	case Node:
		left, err := Hash(n.Left)
		if err != nil {
			return common.Hash{}, err
		}
		right, err := Hash(n.Right)
		if err != nil {
			return common.Hash{}, err
		}
		return HashPair(left, right), nil
	case Leaf:
		return HashLeaf(n)
	case nil:
		return common.Hash{}, fmt.Errorf("cannot hash an empty topology")
	default:
		return common.Hash{}, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

// HashLeaf returns the type-tagged hash of a single leaf
func HashLeaf(l Leaf) (common.Hash, error) {
	switch leaf := l.(type) {
	case SignerLeaf:
		return SignerLeafHash(leaf.Address, leaf.Weight), nil
	case SapientSignerLeaf:
		return SapientLeafHash(leaf.Address, leaf.Weight, leaf.ImageHash), nil
	case SubdigestLeaf:
		return crypto.Keccak256Hash(subdigestPrefix, leaf.Digest.Bytes()), nil
	case AnyAddressSubdigestLeaf:
		return crypto.Keccak256Hash(anyAddressPrefix, leaf.Digest.Bytes()), nil
	case NodeLeaf:
		return leaf.Hash, nil
	case NestedLeaf:
		inner, err := Hash(leaf.Tree)
		if err != nil {
			return common.Hash{}, err
		}
		return NestedLeafHash(inner, leaf.Threshold, leaf.Weight), nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, l)
	}
}

// SignerLeafHash hashes a signer address with its weight
func SignerLeafHash(address common.Address, weight uint64) common.Hash {
	return crypto.Keccak256Hash(signerPrefix, address.Bytes(), word(weight))
}

// SapientLeafHash hashes a sapient signer with the image hash it must prove
func SapientLeafHash(address common.Address, weight uint64, imageHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(sapientPrefix, address.Bytes(), word(weight), imageHash.Bytes())
}

// NestedLeafHash hashes a nested subtree root with its threshold and external weight
func NestedLeafHash(root common.Hash, threshold, weight uint64) common.Hash {
	return crypto.Keccak256Hash(nestedPrefix, root.Bytes(), word(threshold), word(weight))
}

// HashPair combines two subtree hashes, left first
func HashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

// FoldImageHash folds threshold, checkpoint and checkpointer into a topology root
func FoldImageHash(root common.Hash, threshold, checkpoint uint64, checkpointer *common.Address) common.Hash {
	h := crypto.Keccak256Hash(root.Bytes(), word(threshold))
	h = crypto.Keccak256Hash(h.Bytes(), word(checkpoint))

	var cp common.Address
	if checkpointer != nil {
		cp = *checkpointer
	}
	return crypto.Keccak256Hash(h.Bytes(), common.LeftPadBytes(cp.Bytes(), 32))
}

func word(v uint64) []byte {
	return math.U256Bytes(new(big.Int).SetUint64(v))
}
