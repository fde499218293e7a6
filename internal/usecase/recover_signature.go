package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// SapientVerifiers maps sapient signer contracts to the verifier that understands them.
// Sapient leaves of unregistered addresses are treated as nested wallets.
type SapientVerifiers map[common.Address]SapientVerifier

// RecoverSignatureParams contains parameters for recovering a wallet signature
type RecoverSignatureParams struct {
	Wallet  common.Address
	ChainID *big.Int
	Payload payload.Payload

	// Exactly one of Signature and Encoded is set
	Signature *signature.RawSignature
	Encoded   []byte

	// ExpectedImageHash is the configuration the signature must prove. When nil it
	// is resolved from the deploy record and the latest configuration update.
	ExpectedImageHash *common.Hash
}

// RecoveredLink is one verified block of a chained signature
type RecoveredLink struct {
	ImageHash  common.Hash
	Checkpoint uint64
	Weight     uint64
	Threshold  uint64
}

// RecoveredSignature is a signature with every signer recovered and its weight summed
type RecoveredSignature struct {
	// Raw is the input signature with recovered signer addresses filled in
	Raw       *signature.RawSignature
	Config    *topology.Config
	ImageHash common.Hash
	Weight    uint64
	Threshold uint64
	OpHash    common.Hash
	// Deferred lists ERC-1271 signers whose signatures could not be checked
	Deferred []common.Address
	// Chain holds the suffix links in order; the last one proves ExpectedImageHash
	Chain []RecoveredLink
}

// Valid reports whether the primary signature reaches its threshold
func (r *RecoveredSignature) Valid() bool {
	return r.Weight >= r.Threshold
}

// RecoverSignature verifies wallet signatures against a configuration image hash
type RecoverSignature struct {
	state    StateProvider
	erc1271  ERC1271Validator
	verifier SapientVerifiers
	log      *slog.Logger
}

// NewRecoverSignature creates a new RecoverSignature use case. erc1271 may be nil,
// in which case contract signatures are counted and reported as deferred.
func NewRecoverSignature(state StateProvider, erc1271 ERC1271Validator, verifiers SapientVerifiers, log *slog.Logger) *RecoverSignature {
	if verifiers == nil {
		verifiers = SapientVerifiers{}
	}
	return &RecoverSignature{
		state:    state,
		erc1271:  erc1271,
		verifier: verifiers,
		log:      log.With("component", "recover"),
	}
}

// Run recovers the signature and checks it proves the expected configuration with
// enough weight. Hash mismatches fail with ErrInvalidConfiguration, missing weight
// with an InsufficientWeightError carrying the recovered result.
func (uc *RecoverSignature) Run(ctx context.Context, params RecoverSignatureParams) (*RecoveredSignature, error) {
	raw := params.Signature
	if raw == nil {
		if len(params.Encoded) == 0 {
			return nil, fmt.Errorf("no signature given")
		}
		decoded, err := signature.Decode(params.Encoded)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}

	expected := params.ExpectedImageHash
	if expected == nil {
		h, err := uc.latestImageHash(ctx, params.Wallet)
		if err != nil {
			return nil, err
		}
		expected = &h
	}

	res, err := uc.Recover(ctx, params.Wallet, params.ChainID, params.Payload, raw)
	if err != nil {
		return nil, err
	}

	proven := res.ImageHash
	if len(res.Chain) > 0 {
		proven = res.Chain[len(res.Chain)-1].ImageHash
	}
	if proven != *expected {
		return res, fmt.Errorf("%w: signature proves %s, wallet is at %s", domain.ErrInvalidConfiguration, proven.Hex(), expected.Hex())
	}
	if !res.Valid() {
		return res, &domain.InsufficientWeightError{Weight: res.Weight, Threshold: res.Threshold}
	}
	for i, link := range res.Chain {
		if link.Weight < link.Threshold {
			uc.log.Debug("suffix below threshold", "index", i, "weight", link.Weight, "threshold", link.Threshold)
			return res, &domain.InsufficientWeightError{Weight: link.Weight, Threshold: link.Threshold}
		}
	}
	return res, nil
}

// Recover recovers every signer of raw and sums the weights without comparing the
// result against any stored configuration. Suffix signatures are verified in order,
// each over the configuration update to the image hash proven by the block before it.
func (uc *RecoverSignature) Recover(ctx context.Context, wallet common.Address, chainID *big.Int, p payload.Payload, raw *signature.RawSignature) (*RecoveredSignature, error) {
	res, err := uc.recoverSingle(ctx, wallet, chainID, p, raw)
	if err != nil {
		return nil, err
	}

	prevHash, prevCheckpoint := res.ImageHash, res.Config.Checkpoint
	for i := range raw.Suffix {
		update := &payload.ConfigUpdate{ImageHash: prevHash}
		link, err := uc.recoverSingle(ctx, wallet, chainID, update, &raw.Suffix[i])
		if err != nil {
			return nil, fmt.Errorf("suffix %d: %w", i, err)
		}
		if link.Config.Checkpoint >= prevCheckpoint {
			return nil, fmt.Errorf("%w: suffix %d checkpoint %d is not below %d", domain.ErrCheckpointRegression, i, link.Config.Checkpoint, prevCheckpoint)
		}
		res.Raw.Suffix[i] = *link.Raw
		res.Deferred = append(res.Deferred, link.Deferred...)
		res.Chain = append(res.Chain, RecoveredLink{
			ImageHash:  link.ImageHash,
			Checkpoint: link.Config.Checkpoint,
			Weight:     link.Weight,
			Threshold:  link.Threshold,
		})
		prevHash, prevCheckpoint = link.ImageHash, link.Config.Checkpoint
	}
	return res, nil
}

func (uc *RecoverSignature) recoverSingle(ctx context.Context, wallet common.Address, chainID *big.Int, p payload.Payload, raw *signature.RawSignature) (*RecoveredSignature, error) {
	chain := chainID
	if raw.NoChainID {
		chain = new(big.Int)
	}
	opHash, err := payload.Hash(wallet, chain, p)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}
	anyHash, err := payload.Hash(common.Address{}, chain, p)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}

	r := &recovery{
		uc:      uc,
		wallet:  wallet,
		chainID: chain,
		payload: p,
		opHash:  opHash,
		anyHash: anyHash,
	}
	tree, weight, err := r.walk(ctx, raw.Configuration.Topology)
	if err != nil {
		return nil, err
	}

	out := &signature.RawSignature{
		NoChainID:        raw.NoChainID,
		CheckpointerData: raw.CheckpointerData,
		Configuration:    raw.Configuration,
		Suffix:           append([]signature.RawSignature(nil), raw.Suffix...),
	}
	out.Configuration.Topology = tree

	cfg, err := out.Config()
	if err != nil {
		return nil, err
	}
	imageHash, err := cfg.ImageHash()
	if err != nil {
		return nil, err
	}

	uc.log.Debug("recovered signature",
		"wallet", wallet.Hex(),
		"opHash", opHash.Hex(),
		"imageHash", imageHash.Hex(),
		"weight", weight,
		"threshold", cfg.Threshold,
	)
	return &RecoveredSignature{
		Raw:       out,
		Config:    cfg,
		ImageHash: imageHash,
		Weight:    weight,
		Threshold: cfg.Threshold,
		OpHash:    opHash,
		Deferred:  r.deferred,
	}, nil
}

// latestImageHash is the image hash of the newest configuration known for wallet
func (uc *RecoverSignature) latestImageHash(ctx context.Context, wallet common.Address) (common.Hash, error) {
	if uc.state == nil {
		return common.Hash{}, fmt.Errorf("no expected image hash and no state provider")
	}
	deploy, err := uc.state.GetDeploy(ctx, wallet)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to load deploy of %s: %w", wallet.Hex(), err)
	}
	updates, err := uc.state.GetConfigurationUpdates(ctx, wallet, deploy.ImageHash, UpdateOptions{})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("failed to load configuration updates: %w", err)
	}
	if len(updates) > 0 {
		return updates[len(updates)-1].ImageHash, nil
	}
	return deploy.ImageHash, nil
}

type recovery struct {
	uc       *RecoverSignature
	wallet   common.Address
	chainID  *big.Int
	payload  payload.Payload
	opHash   common.Hash
	anyHash  common.Hash
	deferred []common.Address
}

func (r *recovery) walk(ctx context.Context, t signature.RawTopology) (signature.RawTopology, uint64, error) {
	switch n := t.(type) {
	case signature.RawNode:
		left, lw, err := r.walk(ctx, n.Left)
		if err != nil {
			return nil, 0, err
		}
		right, rw, err := r.walk(ctx, n.Right)
		if err != nil {
			return nil, 0, err
		}
		return signature.RawNode{Left: left, Right: right}, topology.AddWeight(lw, rw), nil

	case signature.RawLeaf:
		switch leaf := n.Leaf.(type) {
		case topology.SubdigestLeaf:
			if leaf.Digest == r.opHash {
				return n, math.MaxUint64, nil
			}
		case topology.AnyAddressSubdigestLeaf:
			if leaf.Digest == r.anyHash {
				return n, math.MaxUint64, nil
			}
		case topology.SignerLeaf, topology.SapientSignerLeaf, topology.NodeLeaf:
		default:
			return nil, 0, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, n.Leaf)
		}
		return n, 0, nil

	case signature.RawSignerLeaf:
		addr, err := r.recoverSigner(ctx, n)
		if err != nil {
			return nil, 0, err
		}
		n.Address = addr
		return n, n.Weight, nil

	case signature.RawSapientSignerLeaf:
		ok, err := r.verifySapient(ctx, n)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return n, 0, nil
		}
		return n, n.Weight, nil

	case signature.RawNestedLeaf:
		tree, inner, err := r.walk(ctx, n.Tree)
		if err != nil {
			return nil, 0, err
		}
		n.Tree = tree
		if inner < n.Threshold {
			return n, 0, nil
		}
		return n, n.Weight, nil

	default:
		return nil, 0, fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

func (r *recovery) recoverSigner(ctx context.Context, leaf signature.RawSignerLeaf) (common.Address, error) {
	var (
		digest []byte
		rsv    []byte
	)
	switch sig := leaf.Signature.(type) {
	case signature.HashSignature:
		digest, rsv = r.opHash[:], sig.RSV()
	case signature.EthSignSignature:
		digest, rsv = accounts.TextHash(r.opHash[:]), sig.RSV()
	case signature.ERC1271Signature:
		if leaf.Address == (common.Address{}) {
			return common.Address{}, fmt.Errorf("%w: erc1271 leaf without signer address", domain.ErrInvalidSignature)
		}
		if r.uc.erc1271 == nil {
			r.deferred = append(r.deferred, leaf.Address)
			return leaf.Address, nil
		}
		ok, err := r.uc.erc1271.IsValidSignature(ctx, leaf.Address, r.opHash, sig.Data)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to validate erc1271 signature of %s: %w", leaf.Address.Hex(), err)
		}
		if !ok {
			return common.Address{}, fmt.Errorf("%w: erc1271 rejected by %s", domain.ErrInvalidSignature, leaf.Address.Hex())
		}
		return leaf.Address, nil
	default:
		return common.Address{}, fmt.Errorf("%w: %T on signer leaf", domain.ErrUnknownLeafType, leaf.Signature)
	}

	pub, err := crypto.SigToPub(digest, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	if leaf.Address != (common.Address{}) && leaf.Address != addr {
		return common.Address{}, fmt.Errorf("%w: recovered %s for leaf %s", domain.ErrInvalidSignature, addr.Hex(), leaf.Address.Hex())
	}
	return addr, nil
}

// verifySapient reports whether the sapient leaf's signature proves its image hash
// with enough weight. A proof for a different image hash is ErrInvalidConfiguration.
func (r *recovery) verifySapient(ctx context.Context, leaf signature.RawSapientSignerLeaf) (bool, error) {
	var data []byte
	switch sig := leaf.Signature.(type) {
	case signature.SapientSignature:
		data = sig.Data
	case signature.SapientCompactSignature:
		data = sig.Data
	default:
		return false, fmt.Errorf("%w: %T on sapient leaf", domain.ErrUnknownLeafType, leaf.Signature)
	}

	if v, ok := r.uc.verifier[leaf.Address]; ok {
		got, err := v.RecoverSapientSignature(ctx, &SapientRequest{
			Wallet:  r.wallet,
			ChainID: r.chainID,
			Payload: r.payload,
			Digest:  r.opHash,
			Leaf:    leaf,
		})
		if err != nil {
			return false, err
		}
		if got != leaf.ImageHash {
			return false, fmt.Errorf("%w: sapient signer %s proved %s, leaf commits to %s", domain.ErrInvalidConfiguration, leaf.Address.Hex(), got.Hex(), leaf.ImageHash.Hex())
		}
		return true, nil
	}

	inner, err := signature.Decode(data)
	if err != nil {
		return false, fmt.Errorf("nested signature of %s: %w", leaf.Address.Hex(), err)
	}
	nested, err := r.uc.Recover(ctx, r.wallet, r.chainID, r.payload, inner)
	if err != nil {
		return false, fmt.Errorf("nested signature of %s: %w", leaf.Address.Hex(), err)
	}
	r.deferred = append(r.deferred, nested.Deferred...)
	if nested.ImageHash != leaf.ImageHash {
		return false, fmt.Errorf("%w: nested signature of %s proves %s, leaf commits to %s", domain.ErrInvalidConfiguration, leaf.Address.Hex(), nested.ImageHash.Hex(), leaf.ImageHash.Hex())
	}
	return nested.Valid(), nil
}

func recoverHashSigner(digest common.Hash, sig signature.HashSignature) (common.Address, error) {
	pub, err := crypto.SigToPub(digest[:], sig.RSV())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
