package usecase

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// State ports

// UpdateOptions controls which configuration updates are returned
type UpdateOptions struct {
	// AllUpdates returns every update after the starting image hash instead of only the latest
	AllUpdates bool
}

// StateProvider persists configurations, deploys, witnesses, updates, trees and payloads.
// Reads return domain.ErrNotFound when nothing is stored. Writes are idempotent upserts.
type StateProvider interface {
	GetConfiguration(ctx context.Context, imageHash common.Hash) (*topology.Config, error)
	SaveConfiguration(ctx context.Context, cfg *topology.Config) error

	GetDeploy(ctx context.Context, wallet common.Address) (*models.Deploy, error)
	SaveDeploy(ctx context.Context, deploy *models.Deploy) error

	GetWitnessFor(ctx context.Context, wallet, signer common.Address) (*models.Witness, error)
	SaveWitnesses(ctx context.Context, wallet common.Address, chainID uint64, p payload.Payload, signatures signature.RawTopology) error

	GetConfigurationUpdates(ctx context.Context, wallet common.Address, fromImageHash common.Hash, opts UpdateOptions) ([]*models.ConfigUpdate, error)
	SaveUpdate(ctx context.Context, update *models.ConfigUpdate) error

	GetTree(ctx context.Context, rootHash common.Hash) (topology.Topology, error)
	SaveTree(ctx context.Context, tree topology.Topology) error

	GetPayload(ctx context.Context, opHash common.Hash) (*models.StoredPayload, error)
	SavePayload(ctx context.Context, stored *models.StoredPayload) error
}

// LocalConfigRepository handles local config persistence
type LocalConfigRepository interface {
	Exists() bool
	Load(ctx context.Context) (*config.LocalConfig, error)
	Save(ctx context.Context, config *config.LocalConfig) error
	GetPath() string
}

// Signer ports

// SignRequest is what a signer backend is asked to sign
type SignRequest struct {
	RoundID string
	Wallet  common.Address
	ChainID *big.Int
	Payload payload.Payload
	// Digest is payload.Hash(Wallet, ChainID, Payload)
	Digest common.Hash
}

// Signer is the capability every signer backend has
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, req *SignRequest) (signature.Signature, error)
}

// SapientSigner is a signer whose leaf commits to an image hash
type SapientSigner interface {
	Signer
	ImageHash(ctx context.Context) (common.Hash, error)
}

// EligibilityChecker is implemented by signers that may refuse a request outright
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, req *SignRequest) error
}

// DeployTransaction is a transaction that must be executed before a signer can be used on chain
type DeployTransaction struct {
	To   common.Address
	Data []byte
}

// DeployableSigner is implemented by signers backed by a contract that may not be deployed yet
type DeployableSigner interface {
	BuildDeployTransaction(ctx context.Context, chainID *big.Int) (*DeployTransaction, error)
}

// KeySigner signs raw digests with a key it holds
type KeySigner interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest common.Hash) (signature.HashSignature, error)
}

// Verification ports

// ERC1271Validator checks contract signatures through isValidSignature
type ERC1271Validator interface {
	IsValidSignature(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error)
}

// SapientRequest is a sapient signature to verify
type SapientRequest struct {
	Wallet  common.Address
	ChainID *big.Int
	Payload payload.Payload
	Digest  common.Hash
	Leaf    signature.RawSapientSignerLeaf
}

// SapientVerifier recovers the image hash a sapient signature proves
type SapientVerifier interface {
	RecoverSapientSignature(ctx context.Context, req *SapientRequest) (common.Hash, error)
}

// UsageReader reads cumulative session usage
type UsageReader interface {
	GetUsage(ctx context.Context, wallet common.Address, key common.Hash) (*uint256.Int, error)
}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage    string
	Current  int
	Total    int
	Message  string
	Spinner  bool
	Metadata interface{}
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}
