package signature

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/jsonx"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

type signatureJSON struct {
	Type    Type           `json:"type"`
	R       *jsonx.Hash    `json:"r,omitempty"`
	S       *jsonx.Hash    `json:"s,omitempty"`
	YParity *uint8         `json:"yParity,omitempty"`
	Data    *hexutil.Bytes `json:"data,omitempty"`
}

type rawLeafJSON struct {
	Type      string          `json:"type"`
	Address   *jsonx.Address  `json:"address,omitempty"`
	Weight    *jsonx.Uint64   `json:"weight,omitempty"`
	ImageHash *jsonx.Hash     `json:"imageHash,omitempty"`
	Threshold *jsonx.Uint64   `json:"threshold,omitempty"`
	Tree      json.RawMessage `json:"tree,omitempty"`
	Signature *signatureJSON  `json:"signature,omitempty"`
}

type rawConfigurationJSON struct {
	Threshold    jsonx.Uint64    `json:"threshold"`
	Checkpoint   jsonx.Uint64    `json:"checkpoint"`
	Checkpointer *jsonx.Address  `json:"checkpointer,omitempty"`
	Topology     json.RawMessage `json:"topology"`
}

type rawSignatureJSON struct {
	NoChainID        bool                 `json:"noChainId"`
	CheckpointerData *hexutil.Bytes       `json:"checkpointerData,omitempty"`
	Configuration    rawConfigurationJSON `json:"configuration"`
	Suffix           []json.RawMessage    `json:"suffix,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (s RawSignature) MarshalJSON() ([]byte, error) {
	tree, err := TopologyToJSON(s.Configuration.Topology)
	if err != nil {
		return nil, err
	}
	out := rawSignatureJSON{
		NoChainID: s.NoChainID,
		Configuration: rawConfigurationJSON{
			Threshold:  jsonx.Uint64(s.Configuration.Threshold),
			Checkpoint: jsonx.Uint64(s.Configuration.Checkpoint),
			Topology:   tree,
		},
	}
	if s.Configuration.Checkpointer != nil {
		cp := jsonx.Address(*s.Configuration.Checkpointer)
		out.Configuration.Checkpointer = &cp
	}
	if len(s.CheckpointerData) > 0 {
		data := hexutil.Bytes(s.CheckpointerData)
		out.CheckpointerData = &data
	}
	for i, suffix := range s.Suffix {
		enc, err := json.Marshal(suffix)
		if err != nil {
			return nil, fmt.Errorf("suffix %d: %w", i, err)
		}
		out.Suffix = append(out.Suffix, enc)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *RawSignature) UnmarshalJSON(data []byte) error {
	var in rawSignatureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	tree, err := TopologyFromJSON(in.Configuration.Topology)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	*s = RawSignature{
		NoChainID: in.NoChainID,
		Configuration: RawConfiguration{
			Threshold:  uint64(in.Configuration.Threshold),
			Checkpoint: uint64(in.Configuration.Checkpoint),
			Topology:   tree,
		},
	}
	if in.Configuration.Checkpointer != nil {
		cp := common.Address(*in.Configuration.Checkpointer)
		s.Configuration.Checkpointer = &cp
	}
	if in.CheckpointerData != nil && len(*in.CheckpointerData) > 0 {
		s.CheckpointerData = *in.CheckpointerData
	}
	for i, raw := range in.Suffix {
		var suffix RawSignature
		if err := json.Unmarshal(raw, &suffix); err != nil {
			return fmt.Errorf("suffix %d: %w", i, err)
		}
		s.Suffix = append(s.Suffix, suffix)
	}
	return nil
}

// TopologyToJSON projects a raw tree to JSON. Unsigned leaves use the topology
// projection; signed leaves add a "signature" object.
func TopologyToJSON(t RawTopology) (json.RawMessage, error) {
	switch n := t.(type) {
	case RawNode:
		left, err := TopologyToJSON(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := TopologyToJSON(n.Right)
		if err != nil {
			return nil, err
		}
		return json.Marshal([]json.RawMessage{left, right})
	case RawLeaf:
		if _, nested := n.Leaf.(topology.NestedLeaf); nested || n.Leaf == nil {
			return nil, fmt.Errorf("%w: raw leaf cannot hold %T", domain.ErrUnknownLeafType, n.Leaf)
		}
		return topology.ToJSON(n.Leaf)
	case RawSignerLeaf:
		sig, err := signatureToJSON(n.Signature)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rawLeafJSON{
			Type:      topology.TypeSigner,
			Address:   lo.ToPtr(jsonx.Address(n.Address)),
			Weight:    lo.ToPtr(jsonx.Uint64(n.Weight)),
			Signature: sig,
		})
	case RawSapientSignerLeaf:
		sig, err := signatureToJSON(n.Signature)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rawLeafJSON{
			Type:      topology.TypeSapientSigner,
			Address:   lo.ToPtr(jsonx.Address(n.Address)),
			Weight:    lo.ToPtr(jsonx.Uint64(n.Weight)),
			ImageHash: lo.ToPtr(jsonx.Hash(n.ImageHash)),
			Signature: sig,
		})
	case RawNestedLeaf:
		tree, err := TopologyToJSON(n.Tree)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rawLeafJSON{
			Type:      topology.TypeNested,
			Weight:    lo.ToPtr(jsonx.Uint64(n.Weight)),
			Threshold: lo.ToPtr(jsonx.Uint64(n.Threshold)),
			Tree:      tree,
		})
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

// TopologyFromJSON parses a raw tree from its JSON projection
func TopologyFromJSON(data []byte) (RawTopology, error) {
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
		left, err := TopologyFromJSON(pair[0])
		if err != nil {
			return nil, err
		}
		right, err := TopologyFromJSON(pair[1])
		if err != nil {
			return nil, err
		}
		return RawNode{Left: left, Right: right}, nil
	}

	var l rawLeafJSON
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}

	switch {
	case l.Type == topology.TypeNested:
		if l.Weight == nil || l.Threshold == nil || len(l.Tree) == 0 {
			return nil, fmt.Errorf("nested leaf requires weight, threshold and tree")
		}
		tree, err := TopologyFromJSON(l.Tree)
		if err != nil {
			return nil, fmt.Errorf("nested tree: %w", err)
		}
		return RawNestedLeaf{Tree: tree, Weight: uint64(*l.Weight), Threshold: uint64(*l.Threshold)}, nil
	case l.Signature == nil:
		leaf, err := topology.FromJSON(data)
		if err != nil {
			return nil, err
		}
		return RawLeaf{Leaf: leaf.(topology.Leaf)}, nil
	}

	sig, err := signatureFromJSON(l.Signature)
	if err != nil {
		return nil, err
	}
	if l.Address == nil || l.Weight == nil {
		return nil, fmt.Errorf("signed leaf requires address and weight")
	}
	switch l.Type {
	case topology.TypeSigner:
		if IsSapient(sig) {
			return nil, fmt.Errorf("%s signature on a signer leaf", sig.Type())
		}
		return RawSignerLeaf{Address: common.Address(*l.Address), Weight: uint64(*l.Weight), Signature: sig}, nil
	case topology.TypeSapientSigner:
		if !IsSapient(sig) {
			return nil, fmt.Errorf("%s signature on a sapient signer leaf", sig.Type())
		}
		if l.ImageHash == nil {
			return nil, fmt.Errorf("sapient signer leaf requires imageHash")
		}
		return RawSapientSignerLeaf{
			Address:   common.Address(*l.Address),
			Weight:    uint64(*l.Weight),
			ImageHash: common.Hash(*l.ImageHash),
			Signature: sig,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q cannot carry a signature", domain.ErrUnknownLeafType, l.Type)
	}
}

func signatureToJSON(s Signature) (*signatureJSON, error) {
	switch sig := s.(type) {
	case HashSignature:
		return ecdsaJSON(TypeHash, sig.R, sig.S, sig.YParity), nil
	case EthSignSignature:
		return ecdsaJSON(TypeEthSign, sig.R, sig.S, sig.YParity), nil
	case ERC1271Signature:
		return bytesJSON(TypeERC1271, sig.Data), nil
	case SapientSignature:
		return bytesJSON(TypeSapient, sig.Data), nil
	case SapientCompactSignature:
		return bytesJSON(TypeSapientCompact, sig.Data), nil
	default:
		return nil, fmt.Errorf("unknown signature %T", s)
	}
}

func signatureFromJSON(s *signatureJSON) (Signature, error) {
	switch s.Type {
	case TypeHash, TypeEthSign:
		if s.R == nil || s.S == nil || s.YParity == nil {
			return nil, fmt.Errorf("%s signature requires r, s and yParity", s.Type)
		}
		if *s.YParity > 1 {
			return nil, fmt.Errorf("invalid yParity %d", *s.YParity)
		}
		if s.Type == TypeHash {
			return HashSignature{R: common.Hash(*s.R), S: common.Hash(*s.S), YParity: *s.YParity}, nil
		}
		return EthSignSignature{R: common.Hash(*s.R), S: common.Hash(*s.S), YParity: *s.YParity}, nil
	case TypeERC1271, TypeSapient, TypeSapientCompact:
		var data []byte
		if s.Data != nil && len(*s.Data) > 0 {
			data = *s.Data
		}
		switch s.Type {
		case TypeERC1271:
			return ERC1271Signature{Data: data}, nil
		case TypeSapient:
			return SapientSignature{Data: data}, nil
		default:
			return SapientCompactSignature{Data: data}, nil
		}
	default:
		return nil, fmt.Errorf("unknown signature type %q", s.Type)
	}
}

func ecdsaJSON(t Type, r, s common.Hash, yParity uint8) *signatureJSON {
	return &signatureJSON{
		Type:    t,
		R:       lo.ToPtr(jsonx.Hash(r)),
		S:       lo.ToPtr(jsonx.Hash(s)),
		YParity: lo.ToPtr(yParity),
	}
}

func bytesJSON(t Type, data []byte) *signatureJSON {
	b := hexutil.Bytes(data)
	return &signatureJSON{Type: t, Data: &b}
}
