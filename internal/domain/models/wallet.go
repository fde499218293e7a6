package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
)

// DeployContext describes how a wallet's counterfactual address was derived
type DeployContext struct {
	Factory      common.Address `json:"factory"`
	Stage1       common.Address `json:"stage1"`
	Stage2       common.Address `json:"stage2,omitempty"`
	CreationCode hexutil.Bytes  `json:"creationCode,omitempty"`
}

// Deploy records the configuration a wallet was deployed (or derived) with
type Deploy struct {
	Wallet    common.Address `json:"wallet"`
	ImageHash common.Hash    `json:"imageHash"`
	Context   DeployContext  `json:"context"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ConfigUpdate is a signed move of a wallet from one configuration to the next
type ConfigUpdate struct {
	Wallet        common.Address `json:"wallet"`
	FromImageHash common.Hash    `json:"fromImageHash"`
	ImageHash     common.Hash    `json:"imageHash"`
	Checkpoint    uint64         `json:"checkpoint"`
	Signature     hexutil.Bytes  `json:"signature"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Witness is the latest signature a signer produced for a wallet. It lets a
// configuration be reconstructed from the signers that are known to have used it.
type Witness struct {
	Wallet  common.Address
	Signer  common.Address
	ChainID uint64
	Payload payload.Payload
	// Leaf is the signed leaf as it appeared in the wallet signature
	Leaf      signature.RawTopology
	CreatedAt time.Time
}

// StoredPayload is a payload kept so its digest can be resolved later
type StoredPayload struct {
	OpHash    common.Hash
	Wallet    common.Address
	ChainID   uint64
	Payload   payload.Payload
	CreatedAt time.Time
}

type witnessJSON struct {
	Wallet    common.Address  `json:"wallet"`
	Signer    common.Address  `json:"signer"`
	ChainID   uint64          `json:"chainId"`
	Payload   json.RawMessage `json:"payload"`
	Leaf      json.RawMessage `json:"leaf"`
	CreatedAt time.Time       `json:"createdAt"`
}

type storedPayloadJSON struct {
	OpHash    common.Hash     `json:"opHash"`
	Wallet    common.Address  `json:"wallet"`
	ChainID   uint64          `json:"chainId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (w Witness) MarshalJSON() ([]byte, error) {
	p, err := payload.ToJSON(w.Payload)
	if err != nil {
		return nil, err
	}
	leaf, err := signature.TopologyToJSON(w.Leaf)
	if err != nil {
		return nil, err
	}
	return json.Marshal(witnessJSON{
		Wallet:    w.Wallet,
		Signer:    w.Signer,
		ChainID:   w.ChainID,
		Payload:   p,
		Leaf:      leaf,
		CreatedAt: w.CreatedAt,
	})
}

func (w *Witness) UnmarshalJSON(data []byte) error {
	var in witnessJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p, err := payload.FromJSON(in.Payload)
	if err != nil {
		return fmt.Errorf("invalid witness payload: %w", err)
	}
	leaf, err := signature.TopologyFromJSON(in.Leaf)
	if err != nil {
		return fmt.Errorf("invalid witness leaf: %w", err)
	}
	*w = Witness{
		Wallet:    in.Wallet,
		Signer:    in.Signer,
		ChainID:   in.ChainID,
		Payload:   p,
		Leaf:      leaf,
		CreatedAt: in.CreatedAt,
	}
	return nil
}

func (s StoredPayload) MarshalJSON() ([]byte, error) {
	p, err := payload.ToJSON(s.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedPayloadJSON{
		OpHash:    s.OpHash,
		Wallet:    s.Wallet,
		ChainID:   s.ChainID,
		Payload:   p,
		CreatedAt: s.CreatedAt,
	})
}

func (s *StoredPayload) UnmarshalJSON(data []byte) error {
	var in storedPayloadJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p, err := payload.FromJSON(in.Payload)
	if err != nil {
		return fmt.Errorf("invalid stored payload: %w", err)
	}
	*s = StoredPayload{
		OpHash:    in.OpHash,
		Wallet:    in.Wallet,
		ChainID:   in.ChainID,
		Payload:   p,
		CreatedAt: in.CreatedAt,
	}
	return nil
}
