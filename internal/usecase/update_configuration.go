package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// UpdateConfigurationParams contains parameters for moving a wallet to a new configuration
type UpdateConfigurationParams struct {
	Wallet    common.Address
	ChainID   *big.Int
	NewConfig *topology.Config
	// Signature is the current configuration's signature over the update
	Signature []byte
}

// UpdateConfigurationResult contains the result of a configuration update
type UpdateConfigurationResult struct {
	Update    *models.ConfigUpdate
	Previous  *topology.Config
	Recovered *RecoveredSignature
}

// UpdateConfiguration verifies and records a configuration update. Updates run one
// at a time so the current configuration cannot change between check and save.
type UpdateConfiguration struct {
	state   StateProvider
	recover *RecoverSignature
	log     *slog.Logger

	mu sync.Mutex
}

// NewUpdateConfiguration creates a new UpdateConfiguration use case
func NewUpdateConfiguration(state StateProvider, recover *RecoverSignature, log *slog.Logger) *UpdateConfiguration {
	return &UpdateConfiguration{
		state:   state,
		recover: recover,
		log:     log.With("component", "update"),
	}
}

// Run executes the update configuration use case. A checkpoint that does not move
// forward is rejected before anything is verified or stored.
func (uc *UpdateConfiguration) Run(ctx context.Context, params UpdateConfigurationParams) (*UpdateConfigurationResult, error) {
	if params.NewConfig == nil {
		return nil, fmt.Errorf("no configuration given")
	}
	if err := params.NewConfig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	currentHash, err := uc.recover.latestImageHash(ctx, params.Wallet)
	if err != nil {
		return nil, err
	}
	current, err := uc.state.GetConfiguration(ctx, currentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load current configuration %s: %w", currentHash.Hex(), err)
	}
	if params.NewConfig.Checkpoint <= current.Checkpoint {
		return nil, fmt.Errorf("%w: checkpoint %d must be above %d", domain.ErrCheckpointRegression, params.NewConfig.Checkpoint, current.Checkpoint)
	}

	newHash, err := params.NewConfig.ImageHash()
	if err != nil {
		return nil, err
	}
	recovered, err := uc.recover.Run(ctx, RecoverSignatureParams{
		Wallet:            params.Wallet,
		ChainID:           params.ChainID,
		Payload:           &payload.ConfigUpdate{ImageHash: newHash},
		Encoded:           params.Signature,
		ExpectedImageHash: &currentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("update signature rejected: %w", err)
	}

	update := &models.ConfigUpdate{
		Wallet:        params.Wallet,
		FromImageHash: currentHash,
		ImageHash:     newHash,
		Checkpoint:    params.NewConfig.Checkpoint,
		Signature:     params.Signature,
		CreatedAt:     time.Now(),
	}
	// The store re-checks the checkpoint; nothing else is written if it refuses.
	// Saving the same update again is a no-op, so a retry completes a partial write.
	if err := uc.state.SaveUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to save update: %w", err)
	}
	if err := uc.state.SaveConfiguration(ctx, params.NewConfig); err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}
	if err := uc.state.SaveTree(ctx, params.NewConfig.Topology); err != nil {
		return nil, fmt.Errorf("failed to save tree: %w", err)
	}

	uc.log.Info("configuration updated",
		"wallet", params.Wallet.Hex(),
		"from", currentHash.Hex(),
		"to", newHash.Hex(),
		"checkpoint", params.NewConfig.Checkpoint,
	)
	return &UpdateConfigurationResult{
		Update:    update,
		Previous:  current,
		Recovered: recovered,
	}, nil
}
