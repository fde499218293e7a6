package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// InitWalletParams contains parameters for registering a wallet
type InitWalletParams struct {
	Wallet  common.Address
	Config  *topology.Config
	Context models.DeployContext
}

// InitWalletResult contains the result of registering a wallet
type InitWalletResult struct {
	Deploy             *models.Deploy
	AlreadyInitialized bool
	Unreachable        bool
	Steps              []InitStep
}

// InitStep represents a step in the initialization process
type InitStep struct {
	Name    string
	Success bool
	Message string
	Error   error
}

// InitWallet records the configuration a wallet starts from
type InitWallet struct {
	state    StateProvider
	progress ProgressSink
}

// NewInitWallet creates a new init wallet use case
func NewInitWallet(state StateProvider, progress ProgressSink) *InitWallet {
	return &InitWallet{
		state:    state,
		progress: progress,
	}
}

// Run stores the initial configuration, its tree and the deploy record. Running it
// again with the same configuration is a no-op; a different one is rejected.
func (uc *InitWallet) Run(ctx context.Context, params InitWalletParams) (*InitWalletResult, error) {
	result := &InitWalletResult{}

	if err := params.Config.Validate(); err != nil {
		result.Steps = append(result.Steps, InitStep{Name: "Validate Configuration", Error: err})
		return result, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	imageHash, err := params.Config.ImageHash()
	if err != nil {
		return result, err
	}
	result.Unreachable = !params.Config.Reachable()
	result.Steps = append(result.Steps, InitStep{
		Name:    "Validate Configuration",
		Success: true,
		Message: fmt.Sprintf("Image hash %s", imageHash.Hex()),
	})

	existing, err := uc.state.GetDeploy(ctx, params.Wallet)
	switch {
	case err == nil && existing.ImageHash == imageHash:
		result.Deploy = existing
		result.AlreadyInitialized = true
		result.Steps = append(result.Steps, InitStep{Name: "Record Deploy", Success: true, Message: "Wallet already initialized"})
		return result, nil
	case err == nil:
		return result, fmt.Errorf("wallet %s is already initialized with %s", params.Wallet.Hex(), existing.ImageHash.Hex())
	case !errors.Is(err, domain.ErrNotFound):
		return result, fmt.Errorf("failed to load deploy: %w", err)
	}

	uc.progress.Info(fmt.Sprintf("Recording configuration %s", imageHash.Hex()))
	if err := uc.state.SaveConfiguration(ctx, params.Config); err != nil {
		return result, fmt.Errorf("failed to save configuration: %w", err)
	}
	if err := uc.state.SaveTree(ctx, params.Config.Topology); err != nil {
		return result, fmt.Errorf("failed to save tree: %w", err)
	}
	result.Steps = append(result.Steps, InitStep{Name: "Save Configuration", Success: true})

	deploy := &models.Deploy{
		Wallet:    params.Wallet,
		ImageHash: imageHash,
		Context:   params.Context,
		CreatedAt: time.Now(),
	}
	if err := uc.state.SaveDeploy(ctx, deploy); err != nil {
		return result, fmt.Errorf("failed to save deploy: %w", err)
	}
	result.Deploy = deploy
	result.Steps = append(result.Steps, InitStep{Name: "Record Deploy", Success: true})
	return result, nil
}
