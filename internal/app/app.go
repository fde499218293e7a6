package app

import (
	"log/slog"

	"github.com/trebuchet-org/treb-wallet/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-wallet/internal/adapters/signers"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// Shared dependencies
	Orchestrator *usecase.Orchestrator
	Signers      *signers.Factory
	Chain        *blockchain.ChainReader
	State        usecase.StateProvider
	Progress     usecase.ProgressSink

	// Use cases
	DescribeConfiguration *usecase.DescribeConfiguration
	RecoverSignature      *usecase.RecoverSignature
	SignPayload           *usecase.SignPayload
	UpdateConfiguration   *usecase.UpdateConfiguration
	AuthorizeSessionCall  *usecase.AuthorizeSessionCall
	InitWallet            *usecase.InitWallet
	ShowConfig            *usecase.ShowConfig
	SetConfig             *usecase.SetConfig
	RemoveConfig          *usecase.RemoveConfig
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	orchestrator *usecase.Orchestrator,
	signerFactory *signers.Factory,
	chain *blockchain.ChainReader,
	state usecase.StateProvider,
	progress usecase.ProgressSink,
	describeConfiguration *usecase.DescribeConfiguration,
	recoverSignature *usecase.RecoverSignature,
	signPayload *usecase.SignPayload,
	updateConfiguration *usecase.UpdateConfiguration,
	authorizeSessionCall *usecase.AuthorizeSessionCall,
	initWallet *usecase.InitWallet,
	showConfig *usecase.ShowConfig,
	setConfig *usecase.SetConfig,
	removeConfig *usecase.RemoveConfig,
) (*App, error) {
	return &App{
		Config:                cfg,
		Log:                   log,
		Orchestrator:          orchestrator,
		Signers:               signerFactory,
		Chain:                 chain,
		State:                 state,
		Progress:              progress,
		DescribeConfiguration: describeConfiguration,
		RecoverSignature:      recoverSignature,
		SignPayload:           signPayload,
		UpdateConfiguration:   updateConfiguration,
		AuthorizeSessionCall:  authorizeSessionCall,
		InitWallet:            initWallet,
		ShowConfig:            showConfig,
		SetConfig:             setConfig,
		RemoveConfig:          removeConfig,
	}, nil
}
