package topology

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/jsonx"
)

// Leaf type tags used by the JSON projection
const (
	TypeSigner              = "signer"
	TypeSapientSigner       = "sapient-signer"
	TypeSubdigest           = "subdigest"
	TypeAnyAddressSubdigest = "any-address-subdigest"
	TypeNode                = "node"
	TypeNested              = "nested"
)

type leafJSON struct {
	Type      string          `json:"type"`
	Address   *jsonx.Address  `json:"address,omitempty"`
	Weight    *jsonx.Uint64   `json:"weight,omitempty"`
	ImageHash *jsonx.Hash     `json:"imageHash,omitempty"`
	Digest    *jsonx.Hash     `json:"digest,omitempty"`
	Hash      *jsonx.Hash     `json:"hash,omitempty"`
	Threshold *jsonx.Uint64   `json:"threshold,omitempty"`
	Tree      json.RawMessage `json:"tree,omitempty"`
}

type configJSON struct {
	Threshold    jsonx.Uint64    `json:"threshold"`
	Checkpoint   jsonx.Uint64    `json:"checkpoint"`
	Checkpointer *jsonx.Address  `json:"checkpointer,omitempty"`
	Topology     json.RawMessage `json:"topology"`
}

// ToJSON projects a topology to JSON. Pairs become two element arrays.
func ToJSON(t Topology) (json.RawMessage, error) {
	switch n := t.(type) {
	case Node:
		left, err := ToJSON(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ToJSON(n.Right)
		if err != nil {
			return nil, err
		}
		return json.Marshal([]json.RawMessage{left, right})
	case Leaf:
		l, err := leafToJSON(n)
		if err != nil {
			return nil, err
		}
		return json.Marshal(l)
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

func leafToJSON(l Leaf) (*leafJSON, error) {
	switch leaf := l.(type) {
	case SignerLeaf:
		return &leafJSON{Type: TypeSigner, Address: addr(leaf.Address), Weight: uint64p(leaf.Weight)}, nil
	case SapientSignerLeaf:
		return &leafJSON{
			Type:      TypeSapientSigner,
			Address:   addr(leaf.Address),
			Weight:    uint64p(leaf.Weight),
			ImageHash: hash(leaf.ImageHash),
		}, nil
	case SubdigestLeaf:
		return &leafJSON{Type: TypeSubdigest, Digest: hash(leaf.Digest)}, nil
	case AnyAddressSubdigestLeaf:
		return &leafJSON{Type: TypeAnyAddressSubdigest, Digest: hash(leaf.Digest)}, nil
	case NodeLeaf:
		return &leafJSON{Type: TypeNode, Hash: hash(leaf.Hash)}, nil
	case NestedLeaf:
		tree, err := ToJSON(leaf.Tree)
		if err != nil {
			return nil, err
		}
		return &leafJSON{
			Type:      TypeNested,
			Weight:    uint64p(leaf.Weight),
			Threshold: uint64p(leaf.Threshold),
			Tree:      tree,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, l)
	}
}

// FromJSON parses a topology from its JSON projection
func FromJSON(data []byte) (Topology, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty topology")
	}

	if data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return nil, err
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("topology node must have exactly 2 children, got %d", len(pair))
		}
		left, err := FromJSON(pair[0])
		if err != nil {
			return nil, err
		}
		right, err := FromJSON(pair[1])
		if err != nil {
			return nil, err
		}
		return Node{Left: left, Right: right}, nil
	}

	var l leafJSON
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return leafFromJSON(&l)
}

func leafFromJSON(l *leafJSON) (Leaf, error) {
	switch l.Type {
	case TypeSigner:
		if l.Address == nil || l.Weight == nil {
			return nil, fmt.Errorf("signer leaf requires address and weight")
		}
		return SignerLeaf{Address: common.Address(*l.Address), Weight: uint64(*l.Weight)}, nil
	case TypeSapientSigner:
		if l.Address == nil || l.Weight == nil || l.ImageHash == nil {
			return nil, fmt.Errorf("sapient signer leaf requires address, weight and imageHash")
		}
		return SapientSignerLeaf{
			Address:   common.Address(*l.Address),
			Weight:    uint64(*l.Weight),
			ImageHash: common.Hash(*l.ImageHash),
		}, nil
	case TypeSubdigest:
		if l.Digest == nil {
			return nil, fmt.Errorf("subdigest leaf requires digest")
		}
		return SubdigestLeaf{Digest: common.Hash(*l.Digest)}, nil
	case TypeAnyAddressSubdigest:
		if l.Digest == nil {
			return nil, fmt.Errorf("any-address-subdigest leaf requires digest")
		}
		return AnyAddressSubdigestLeaf{Digest: common.Hash(*l.Digest)}, nil
	case TypeNode:
		if l.Hash == nil {
			return nil, fmt.Errorf("node leaf requires hash")
		}
		return NodeLeaf{Hash: common.Hash(*l.Hash)}, nil
	case TypeNested:
		if l.Weight == nil || l.Threshold == nil || len(l.Tree) == 0 {
			return nil, fmt.Errorf("nested leaf requires weight, threshold and tree")
		}
		tree, err := FromJSON(l.Tree)
		if err != nil {
			return nil, fmt.Errorf("nested tree: %w", err)
		}
		return NestedLeaf{Tree: tree, Weight: uint64(*l.Weight), Threshold: uint64(*l.Threshold)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownLeafType, l.Type)
	}
}

// MarshalJSON implements json.Marshaler
func (c Config) MarshalJSON() ([]byte, error) {
	tree, err := ToJSON(c.Topology)
	if err != nil {
		return nil, err
	}
	out := configJSON{
		Threshold:  jsonx.Uint64(c.Threshold),
		Checkpoint: jsonx.Uint64(c.Checkpoint),
		Topology:   tree,
	}
	if c.Checkpointer != nil {
		out.Checkpointer = addr(*c.Checkpointer)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Config) UnmarshalJSON(data []byte) error {
	var in configJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	tree, err := FromJSON(in.Topology)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	*c = Config{
		Threshold:  uint64(in.Threshold),
		Checkpoint: uint64(in.Checkpoint),
		Topology:   tree,
	}
	if in.Checkpointer != nil {
		cp := common.Address(*in.Checkpointer)
		c.Checkpointer = &cp
	}
	return nil
}

// ConfigFromJSON parses a configuration from JSON
func ConfigFromJSON(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func addr(a common.Address) *jsonx.Address {
	v := jsonx.Address(a)
	return &v
}

func hash(h common.Hash) *jsonx.Hash {
	v := jsonx.Hash(h)
	return &v
}

func uint64p(u uint64) *jsonx.Uint64 {
	v := jsonx.Uint64(u)
	return &v
}
