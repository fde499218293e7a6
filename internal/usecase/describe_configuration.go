package usecase

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// ConfigurationDescription summarizes a configuration and its hashes
type ConfigurationDescription struct {
	ImageHash    common.Hash                  `json:"imageHash"`
	Root         common.Hash                  `json:"root"`
	Threshold    uint64                       `json:"threshold"`
	Checkpoint   uint64                       `json:"checkpoint"`
	Checkpointer *common.Address              `json:"checkpointer,omitempty"`
	MaxWeight    uint64                       `json:"maxWeight"`
	Reachable    bool                         `json:"reachable"`
	Signers      []common.Address             `json:"signers"`
	Sapient      []topology.SapientSignerLeaf `json:"sapient,omitempty"`
}

// DescribeConfiguration validates a configuration and computes its image hash
type DescribeConfiguration struct{}

// NewDescribeConfiguration creates a new DescribeConfiguration use case
func NewDescribeConfiguration() *DescribeConfiguration {
	return &DescribeConfiguration{}
}

// Run executes the describe configuration use case. Unreachable thresholds are
// reported, not rejected: pruned trees can hide weight.
func (uc *DescribeConfiguration) Run(ctx context.Context, cfg *topology.Config) (*ConfigurationDescription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	root, err := topology.Hash(cfg.Topology)
	if err != nil {
		return nil, err
	}
	maxWeight := topology.MaxWeight(cfg.Topology)
	return &ConfigurationDescription{
		ImageHash:    topology.FoldImageHash(root, cfg.Threshold, cfg.Checkpoint, cfg.Checkpointer),
		Root:         root,
		Threshold:    cfg.Threshold,
		Checkpoint:   cfg.Checkpoint,
		Checkpointer: cfg.Checkpointer,
		MaxWeight:    maxWeight,
		Reachable:    maxWeight >= cfg.Threshold,
		Signers:      topology.SignerAddresses(cfg.Topology),
		Sapient:      topology.SapientSigners(cfg.Topology),
	}, nil
}
