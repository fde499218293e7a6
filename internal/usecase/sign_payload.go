package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// SignPayloadParams contains parameters for signing a payload with a wallet
type SignPayloadParams struct {
	Wallet    common.Address
	ChainID   *big.Int
	Payload   payload.Payload
	NoChainID bool

	// Config defaults to the wallet's latest known configuration
	Config *topology.Config
	// Signers restricts the round to these signers; empty asks every signer of the
	// configuration that has a backend
	Signers []common.Address
	// Prune collapses branches without signatures into node leaves
	Prune            bool
	CheckpointerData []byte
}

// SignedEnvelope is the result of a signing round
type SignedEnvelope struct {
	Signature []byte
	Raw       *signature.RawSignature
	OpHash    common.Hash
	ImageHash common.Hash
	Weight    uint64
	Threshold uint64
	Deferred  []common.Address
	Round     RoundSnapshot
}

// SignPayload collects signatures for a payload until the wallet threshold is met,
// encodes them and verifies the result
type SignPayload struct {
	orchestrator *Orchestrator
	recover      *RecoverSignature
	state        StateProvider
	progress     ProgressSink
	log          *slog.Logger
}

// NewSignPayload creates a new SignPayload use case
func NewSignPayload(orchestrator *Orchestrator, recover *RecoverSignature, state StateProvider, progress ProgressSink, log *slog.Logger) *SignPayload {
	return &SignPayload{
		orchestrator: orchestrator,
		recover:      recover,
		state:        state,
		progress:     progress,
		log:          log.With("component", "sign"),
	}
}

// Run executes the sign payload use case. When the collected weight stays below the
// threshold the partial envelope is returned together with an InsufficientWeightError.
func (uc *SignPayload) Run(ctx context.Context, params SignPayloadParams) (*SignedEnvelope, error) {
	cfg := params.Config
	if cfg == nil {
		var err error
		if cfg, err = uc.loadConfig(ctx, params.Wallet); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if !cfg.Reachable() {
		return nil, fmt.Errorf("%w: threshold %d is above the total weight of the tree", domain.ErrInvalidConfiguration, cfg.Threshold)
	}
	imageHash, err := cfg.ImageHash()
	if err != nil {
		return nil, err
	}

	chainID := params.ChainID
	if chainID == nil || params.NoChainID {
		chainID = new(big.Int)
	}
	opHash, err := payload.Hash(params.Wallet, chainID, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}

	if uc.state != nil {
		if err := uc.state.SavePayload(ctx, &models.StoredPayload{
			OpHash:    opHash,
			Wallet:    params.Wallet,
			ChainID:   chainID.Uint64(),
			Payload:   params.Payload,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("failed to save payload: %w", err)
		}
	}

	candidates := params.Signers
	if len(candidates) == 0 {
		candidates = lo.Intersect(topology.SignerAddresses(cfg.Topology), uc.orchestrator.Signers())
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no signer of configuration %s has a backend", domain.ErrSigner, imageHash.Hex())
	}

	uc.progress.OnProgress(ctx, ProgressEvent{
		Stage:   "signing",
		Total:   len(candidates),
		Message: fmt.Sprintf("Collecting signatures for %s", opHash.Hex()),
		Spinner: true,
	})
	round, err := uc.orchestrator.Sign(ctx, SignRequest{
		Wallet:  params.Wallet,
		ChainID: chainID,
		Payload: params.Payload,
		Digest:  opHash,
	}, candidates, ThresholdReached(cfg))
	if err != nil {
		return nil, err
	}
	for _, st := range round.Ordered() {
		if st.State == SignerError {
			uc.progress.Error(fmt.Sprintf("%s: %v", st.Address.Hex(), st.Err))
		}
	}

	tree, err := signature.FillLeaves(cfg.Topology, round.Signatures())
	if err != nil {
		return nil, err
	}
	if params.Prune {
		if tree, err = signature.TrimRaw(tree); err != nil {
			return nil, err
		}
	}
	raw := &signature.RawSignature{
		NoChainID:        params.NoChainID,
		CheckpointerData: params.CheckpointerData,
		Configuration: signature.RawConfiguration{
			Threshold:    cfg.Threshold,
			Checkpoint:   cfg.Checkpoint,
			Checkpointer: cfg.Checkpointer,
			Topology:     tree,
		},
	}
	encoded, err := signature.Encode(raw)
	if err != nil {
		return nil, err
	}

	recovered, verr := uc.recover.Run(ctx, RecoverSignatureParams{
		Wallet:            params.Wallet,
		ChainID:           params.ChainID,
		Payload:           params.Payload,
		Signature:         raw,
		ExpectedImageHash: &imageHash,
	})
	if verr != nil && !errors.Is(verr, domain.ErrInsufficientWeight) {
		return nil, verr
	}

	envelope := &SignedEnvelope{
		Signature: encoded,
		Raw:       recovered.Raw,
		OpHash:    opHash,
		ImageHash: imageHash,
		Weight:    recovered.Weight,
		Threshold: recovered.Threshold,
		Deferred:  recovered.Deferred,
		Round:     *round,
	}
	uc.progress.OnProgress(ctx, ProgressEvent{
		Stage:   "signed",
		Current: round.Count(SignerSigned),
		Total:   len(candidates),
		Message: fmt.Sprintf("Weight %d of %d", envelope.Weight, envelope.Threshold),
	})
	if verr != nil {
		return envelope, verr
	}

	if uc.state != nil {
		if err := uc.state.SaveWitnesses(ctx, params.Wallet, chainID.Uint64(), params.Payload, recovered.Raw.Configuration.Topology); err != nil {
			return nil, fmt.Errorf("failed to save witnesses: %w", err)
		}
	}
	uc.log.Info("payload signed", "wallet", params.Wallet.Hex(), "opHash", opHash.Hex(), "weight", envelope.Weight, "threshold", envelope.Threshold)
	return envelope, nil
}

func (uc *SignPayload) loadConfig(ctx context.Context, wallet common.Address) (*topology.Config, error) {
	if uc.state == nil {
		return nil, fmt.Errorf("no configuration given and no state provider")
	}
	imageHash, err := uc.recover.latestImageHash(ctx, wallet)
	if err != nil {
		return nil, err
	}
	cfg, err := uc.state.GetConfiguration(ctx, imageHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", imageHash.Hex(), err)
	}
	return cfg, nil
}
