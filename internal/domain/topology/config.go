package topology

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Config is a wallet's signer configuration. It is content addressed by its image
// hash and never mutated; later configurations carry a higher checkpoint.
type Config struct {
	Threshold    uint64
	Checkpoint   uint64
	Checkpointer *common.Address
	Topology     Topology
}

// ImageHash returns the canonical hash of the configuration
func (c *Config) ImageHash() (common.Hash, error) {
	root, err := Hash(c.Topology)
	if err != nil {
		return common.Hash{}, err
	}
	return FoldImageHash(root, c.Threshold, c.Checkpoint, c.Checkpointer), nil
}

// Validate checks the configuration fits the wire format
func (c *Config) Validate() error {
	if c.Threshold == 0 {
		return fmt.Errorf("threshold must be greater than zero")
	}
	if c.Threshold > MaxThreshold {
		return fmt.Errorf("threshold %d exceeds %d", c.Threshold, MaxThreshold)
	}
	if c.Checkpoint > MaxCheckpoint {
		return fmt.Errorf("checkpoint %d exceeds %d", c.Checkpoint, uint64(MaxCheckpoint))
	}
	if err := Validate(c.Topology); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	return nil
}

// Reachable reports whether the threshold can be met by the signers in the tree
func (c *Config) Reachable() bool {
	return MaxWeight(c.Topology) >= c.Threshold
}
