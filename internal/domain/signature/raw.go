package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// Type is the scheme tag of a leaf signature
type Type string

const (
	TypeHash           Type = "hash"
	TypeEthSign        Type = "eth_sign"
	TypeERC1271        Type = "erc1271"
	TypeSapient        Type = "sapient"
	TypeSapientCompact Type = "sapient_compact"
)

// Signature is the payload attached to a signed leaf
type Signature interface {
	Type() Type
}

// HashSignature is an ECDSA signature over the raw digest
type HashSignature struct {
	R       common.Hash
	S       common.Hash
	YParity uint8
}

// EthSignSignature is an ECDSA signature over the personal-message wrapped digest
type EthSignSignature struct {
	R       common.Hash
	S       common.Hash
	YParity uint8
}

// ERC1271Signature is verified by calling isValidSignature on the signer contract
type ERC1271Signature struct {
	Data []byte
}

// SapientSignature is verified by the sub-configuration's own recovery routine
type SapientSignature struct {
	Data []byte
}

// SapientCompactSignature is a SapientSignature checked against the digest only
type SapientCompactSignature struct {
	Data []byte
}

func (HashSignature) Type() Type           { return TypeHash }
func (EthSignSignature) Type() Type        { return TypeEthSign }
func (ERC1271Signature) Type() Type        { return TypeERC1271 }
func (SapientSignature) Type() Type        { return TypeSapient }
func (SapientCompactSignature) Type() Type { return TypeSapientCompact }

// IsSapient reports whether s belongs on a sapient signer leaf
func IsSapient(s Signature) bool {
	switch s.(type) {
	case SapientSignature, SapientCompactSignature:
		return true
	default:
		return false
	}
}

// RawTopology mirrors topology.Topology with signatures attached to signer leaves
type RawTopology interface {
	isRawTopology()
}

// RawNode is an internal pair
type RawNode struct {
	Left  RawTopology
	Right RawTopology
}

// RawLeaf carries a leaf that has no signature: an unsigned signer or sapient signer,
// a subdigest, an any-address subdigest or a node leaf. Nested leaves use RawNestedLeaf.
type RawLeaf struct {
	Leaf topology.Leaf
}

// RawSignerLeaf is a signer leaf with a hash, eth_sign or erc1271 signature.
// Address is zero for decoded ECDSA leaves until the verifier recovers it.
type RawSignerLeaf struct {
	Address   common.Address
	Weight    uint64
	Signature Signature
}

// RawSapientSignerLeaf is a sapient signer leaf with a sapient or sapient_compact signature
type RawSapientSignerLeaf struct {
	Address   common.Address
	Weight    uint64
	ImageHash common.Hash
	Signature Signature
}

// RawNestedLeaf is a nested subtree with its own threshold
type RawNestedLeaf struct {
	Tree      RawTopology
	Weight    uint64
	Threshold uint64
}

func (RawNode) isRawTopology()              {}
func (RawLeaf) isRawTopology()              {}
func (RawSignerLeaf) isRawTopology()        {}
func (RawSapientSignerLeaf) isRawTopology() {}
func (RawNestedLeaf) isRawTopology()        {}

// RawConfiguration is the configuration a signature carries
type RawConfiguration struct {
	Threshold    uint64
	Checkpoint   uint64
	Checkpointer *common.Address
	Topology     RawTopology
}

// RawSignature is a decoded top-level wallet signature
type RawSignature struct {
	NoChainID        bool
	CheckpointerData []byte
	Configuration    RawConfiguration
	Suffix           []RawSignature
}

// Config returns the topology.Config the signature describes
func (s *RawSignature) Config() (*topology.Config, error) {
	tree, err := ToTopology(s.Configuration.Topology)
	if err != nil {
		return nil, err
	}
	return &topology.Config{
		Threshold:    s.Configuration.Threshold,
		Checkpoint:   s.Configuration.Checkpoint,
		Checkpointer: s.Configuration.Checkpointer,
		Topology:     tree,
	}, nil
}

// FillLeaves attaches signatures to the signer leaves of t. Leaves without a
// signature become RawLeaf.
func FillLeaves(t topology.Topology, signatures map[common.Address]Signature) (RawTopology, error) {
	switch n := t.(type) {
	case topology.Node:
		left, err := FillLeaves(n.Left, signatures)
		if err != nil {
			return nil, err
		}
		right, err := FillLeaves(n.Right, signatures)
		if err != nil {
			return nil, err
		}
		return RawNode{Left: left, Right: right}, nil
	case topology.SignerLeaf:
		sig, ok := signatures[n.Address]
		if !ok || sig == nil {
			return RawLeaf{Leaf: n}, nil
		}
		if IsSapient(sig) {
			return nil, fmt.Errorf("%w: %s signature for plain signer %s", domain.ErrUnencodable, sig.Type(), n.Address.Hex())
		}
		return RawSignerLeaf{Address: n.Address, Weight: n.Weight, Signature: sig}, nil
	case topology.SapientSignerLeaf:
		sig, ok := signatures[n.Address]
		if !ok || sig == nil {
			return RawLeaf{Leaf: n}, nil
		}
		if !IsSapient(sig) {
			return nil, fmt.Errorf("%w: %s signature for sapient signer %s", domain.ErrUnencodable, sig.Type(), n.Address.Hex())
		}
		return RawSapientSignerLeaf{Address: n.Address, Weight: n.Weight, ImageHash: n.ImageHash, Signature: sig}, nil
	case topology.NestedLeaf:
		tree, err := FillLeaves(n.Tree, signatures)
		if err != nil {
			return nil, err
		}
		return RawNestedLeaf{Tree: tree, Weight: n.Weight, Threshold: n.Threshold}, nil
	case topology.SubdigestLeaf, topology.AnyAddressSubdigestLeaf, topology.NodeLeaf:
		return RawLeaf{Leaf: n.(topology.Leaf)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

// ToTopology strips the signatures from raw. ECDSA leaves must already carry their
// recovered address.
func ToTopology(raw RawTopology) (topology.Topology, error) {
	switch n := raw.(type) {
	case RawNode:
		left, err := ToTopology(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ToTopology(n.Right)
		if err != nil {
			return nil, err
		}
		return topology.Node{Left: left, Right: right}, nil
	case RawLeaf:
		if n.Leaf == nil {
			return nil, fmt.Errorf("%w: empty raw leaf", domain.ErrUnknownLeafType)
		}
		return n.Leaf, nil
	case RawSignerLeaf:
		return topology.SignerLeaf{Address: n.Address, Weight: n.Weight}, nil
	case RawSapientSignerLeaf:
		return topology.SapientSignerLeaf{Address: n.Address, Weight: n.Weight, ImageHash: n.ImageHash}, nil
	case RawNestedLeaf:
		tree, err := ToTopology(n.Tree)
		if err != nil {
			return nil, err
		}
		return topology.NestedLeaf{Tree: tree, Weight: n.Weight, Threshold: n.Threshold}, nil
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, raw)
	}
}

// TrimRaw replaces every subtree that carries no signature and no subdigest with a
// node leaf of its hash. The image hash is unchanged.
func TrimRaw(raw RawTopology) (RawTopology, error) {
	keep, err := carriesProof(raw)
	if err != nil {
		return nil, err
	}
	if !keep {
		t, err := ToTopology(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := t.(topology.NodeLeaf); ok {
			return raw, nil
		}
		h, err := topology.Hash(t)
		if err != nil {
			return nil, err
		}
		return RawLeaf{Leaf: topology.NodeLeaf{Hash: h}}, nil
	}

	switch n := raw.(type) {
	case RawNode:
		left, err := TrimRaw(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := TrimRaw(n.Right)
		if err != nil {
			return nil, err
		}
		return RawNode{Left: left, Right: right}, nil
	case RawNestedLeaf:
		tree, err := TrimRaw(n.Tree)
		if err != nil {
			return nil, err
		}
		return RawNestedLeaf{Tree: tree, Weight: n.Weight, Threshold: n.Threshold}, nil
	default:
		return raw, nil
	}
}

func carriesProof(raw RawTopology) (bool, error) {
	switch n := raw.(type) {
	case RawNode:
		left, err := carriesProof(n.Left)
		if err != nil || left {
			return left, err
		}
		return carriesProof(n.Right)
	case RawSignerLeaf, RawSapientSignerLeaf:
		return true, nil
	case RawNestedLeaf:
		return carriesProof(n.Tree)
	case RawLeaf:
		switch n.Leaf.(type) {
		case topology.SubdigestLeaf, topology.AnyAddressSubdigestLeaf:
			return true, nil
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, raw)
	}
}

// Signed calls visit for every leaf that carries a signature, left to right
func Signed(raw RawTopology, visit func(RawTopology)) {
	switch n := raw.(type) {
	case RawNode:
		Signed(n.Left, visit)
		Signed(n.Right, visit)
	case RawNestedLeaf:
		Signed(n.Tree, visit)
	case RawSignerLeaf, RawSapientSignerLeaf:
		visit(n)
	}
}
