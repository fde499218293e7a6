package signers

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

const factoryABI = `[{"type":"function","name":"deploy","stateMutability":"payable","inputs":[{"name":"mainModule","type":"address"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"contract","type":"address"}]}]`

var factory = lo.Must(abi.JSON(strings.NewReader(factoryABI)))

// NestedWalletSigner signs as a wallet that is itself a sapient signer of the outer
// wallet. It runs its own round over the inner configuration and returns the encoded
// inner signature.
type NestedWalletSigner struct {
	address      common.Address
	config       *topology.Config
	orchestrator *usecase.Orchestrator
	deploy       *models.DeployContext
	prune        bool
	log          *slog.Logger
}

// NewNestedWalletSigner creates a nested wallet signer. The orchestrator must have
// backends for the inner signers.
func NewNestedWalletSigner(address common.Address, cfg *topology.Config, orchestrator *usecase.Orchestrator, deploy *models.DeployContext, prune bool, log *slog.Logger) (*NestedWalletSigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: nested wallet %s: %v", domain.ErrInvalidConfiguration, address.Hex(), err)
	}
	return &NestedWalletSigner{
		address:      address,
		config:       cfg,
		orchestrator: orchestrator,
		deploy:       deploy,
		prune:        prune,
		log:          log.With("signer", "nested", "address", address.Hex()),
	}, nil
}

// Address returns the nested wallet address
func (n *NestedWalletSigner) Address() common.Address {
	return n.address
}

// ImageHash returns the image hash of the inner configuration
func (n *NestedWalletSigner) ImageHash(ctx context.Context) (common.Hash, error) {
	return n.config.ImageHash()
}

// Sign collects inner signatures over the same digest until the inner threshold is met
func (n *NestedWalletSigner) Sign(ctx context.Context, req *usecase.SignRequest) (signature.Signature, error) {
	candidates := lo.Intersect(topology.SignerAddresses(n.config.Topology), n.orchestrator.Signers())
	candidates = lo.Without(candidates, n.address)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no inner signer of %s has a backend", n.address.Hex())
	}

	round, err := n.orchestrator.Sign(ctx, usecase.SignRequest{
		Wallet:  req.Wallet,
		ChainID: req.ChainID,
		Payload: req.Payload,
		Digest:  req.Digest,
	}, candidates, usecase.ThresholdReached(n.config))
	if err != nil {
		return nil, err
	}

	signed := round.Signatures()
	weight := topology.SignedWeight(n.config.Topology, func(addr common.Address) bool {
		_, ok := signed[addr]
		return ok
	})
	if weight < n.config.Threshold {
		return nil, &domain.InsufficientWeightError{Weight: weight, Threshold: n.config.Threshold}
	}

	tree, err := signature.FillLeaves(n.config.Topology, signed)
	if err != nil {
		return nil, err
	}
	if n.prune {
		if tree, err = signature.TrimRaw(tree); err != nil {
			return nil, err
		}
	}
	encoded, err := signature.Encode(&signature.RawSignature{
		Configuration: signature.RawConfiguration{
			Threshold:    n.config.Threshold,
			Checkpoint:   n.config.Checkpoint,
			Checkpointer: n.config.Checkpointer,
			Topology:     tree,
		},
	})
	if err != nil {
		return nil, err
	}
	n.log.Debug("nested signature collected", "round", round.RoundID, "weight", weight, "threshold", n.config.Threshold)
	return signature.SapientSignature{Data: encoded}, nil
}

// BuildDeployTransaction returns the factory call that deploys the nested wallet
// with its inner configuration, or nil when no deploy context is known
func (n *NestedWalletSigner) BuildDeployTransaction(ctx context.Context, chainID *big.Int) (*usecase.DeployTransaction, error) {
	if n.deploy == nil || n.deploy.Factory == (common.Address{}) {
		return nil, nil
	}
	imageHash, err := n.config.ImageHash()
	if err != nil {
		return nil, err
	}
	data, err := factory.Pack("deploy", n.deploy.Stage1, imageHash)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deploy call: %w", err)
	}
	return &usecase.DeployTransaction{To: n.deploy.Factory, Data: data}, nil
}

var (
	_ usecase.SapientSigner    = (*NestedWalletSigner)(nil)
	_ usecase.DeployableSigner = (*NestedWalletSigner)(nil)
)
