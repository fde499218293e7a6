//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-wallet/internal/adapters"
	"github.com/trebuchet-org/treb-wallet/internal/config"
	"github.com/trebuchet-org/treb-wallet/internal/logging"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// InitApp creates a fully wired App instance
func InitApp(v *viper.Viper, sink usecase.ProgressSink) (*App, error) {
	wire.Build(
		config.ConfigSet,
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.NewDescribeConfiguration,
		usecase.NewRecoverSignature,
		usecase.NewSignPayload,
		usecase.NewUpdateConfiguration,
		usecase.NewAuthorizeSessionCall,
		usecase.NewInitWallet,
		usecase.NewShowConfig,
		usecase.NewSetConfig,
		usecase.NewRemoveConfig,

		// App
		NewApp,
	)
	return nil, nil
}
