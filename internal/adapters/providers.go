package adapters

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/wire"
	"github.com/trebuchet-org/treb-wallet/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-wallet/internal/adapters/fs"
	"github.com/trebuchet-org/treb-wallet/internal/adapters/repository/state"
	"github.com/trebuchet-org/treb-wallet/internal/adapters/signers"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// ProvideStateRepository opens the file-backed wallet state under the data directory
func ProvideStateRepository(cfg *config.RuntimeConfig) (*state.FileRepository, error) {
	return state.NewFileRepository(cfg.DataDir)
}

// ProvideUsageReader returns the chain reader when a session manager is configured.
// Without one, usage counters start at zero.
func ProvideUsageReader(cfg *config.RuntimeConfig, reader *blockchain.ChainReader) usecase.UsageReader {
	if cfg.Wallet == nil || cfg.Wallet.Session.Manager == "" {
		return nil
	}
	return reader
}

// ProvideERC1271Validator returns the chain reader when an RPC endpoint is configured.
// Without one, contract signatures are reported as deferred.
func ProvideERC1271Validator(cfg *config.RuntimeConfig, reader *blockchain.ChainReader) usecase.ERC1271Validator {
	if cfg.Network == nil || cfg.Network.RPCURL == "" {
		return nil
	}
	return reader
}

// ProvideSapientVerifiers registers the session verifier for the configured session manager
func ProvideSapientVerifiers(cfg *config.RuntimeConfig, usage usecase.UsageReader) usecase.SapientVerifiers {
	verifiers := usecase.SapientVerifiers{}
	if cfg.Wallet != nil && common.IsHexAddress(cfg.Wallet.Session.Manager) {
		verifiers[common.HexToAddress(cfg.Wallet.Session.Manager)] = usecase.NewSessionVerifier(usage)
	}
	return verifiers
}

// ProvideOrchestrator creates an orchestrator with no backends; the signer factory
// registers them
func ProvideOrchestrator(log *slog.Logger) *usecase.Orchestrator {
	return usecase.NewOrchestrator(nil, log)
}

// StateSet provides file-based state persistence
var StateSet = wire.NewSet(
	ProvideStateRepository,
	wire.Bind(new(usecase.StateProvider), new(*state.FileRepository)),
)

// FSSet provides filesystem-based implementations
var FSSet = wire.NewSet(
	fs.NewLocalConfigStoreAdapter,
	wire.Bind(new(usecase.LocalConfigRepository), new(*fs.LocalConfigStoreAdapter)),
)

// BlockchainSet provides RPC-backed implementations
var BlockchainSet = wire.NewSet(
	blockchain.NewChainReader,
	ProvideUsageReader,
	ProvideERC1271Validator,
	ProvideSapientVerifiers,
)

// SignerSet provides the orchestrator and the signer backend factory
var SignerSet = wire.NewSet(
	ProvideOrchestrator,
	signers.NewFactory,
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	StateSet,
	FSSet,
	BlockchainSet,
	SignerSet,
)
