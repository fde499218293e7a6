package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var (
		configFile   string
		factory      string
		stage1       string
		stage2       string
		creationCode string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Register a wallet and the configuration it starts from",
		Long: `Record the configuration a wallet was deployed (or derived) with, so that
signatures can be verified against it and later updates chained from it.

The configuration defaults to [wallet] config in wallet.toml. Running init
again with the same configuration is a no-op.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			wallet, err := walletAddress(app)
			if err != nil {
				return err
			}

			if configFile == "" {
				configFile = app.Config.Wallet.Wallet.Config
			}
			if configFile == "" {
				return fmt.Errorf("no configuration: pass --config or set [wallet] config in wallet.toml")
			}
			cfg, err := loadConfigFile(cmd, configFile)
			if err != nil {
				return err
			}

			params := usecase.InitWalletParams{Wallet: wallet, Config: cfg}
			if params.Context, err = deployContext(factory, stage1, stage2, creationCode); err != nil {
				return err
			}

			result, err := app.InitWallet.Run(cmd.Context(), params)
			renderer := render.NewWalletRenderer(cmd.OutOrStdout())
			if err != nil {
				// Still render partial results even on error
				if result != nil {
					_ = renderer.RenderInit(result)
				}
				return err
			}
			return renderer.RenderInit(result)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Initial configuration JSON")
	cmd.Flags().StringVar(&factory, "factory", "", "Factory that deployed the wallet")
	cmd.Flags().StringVar(&stage1, "stage1", "", "Stage 1 implementation")
	cmd.Flags().StringVar(&stage2, "stage2", "", "Stage 2 implementation")
	cmd.Flags().StringVar(&creationCode, "creation-code", "", "Wallet creation code as hex")

	return cmd
}

func deployContext(factory, stage1, stage2, creationCode string) (models.DeployContext, error) {
	var dc models.DeployContext
	var err error
	if factory != "" {
		if dc.Factory, err = parseAddress(factory); err != nil {
			return dc, err
		}
	}
	if stage1 != "" {
		if dc.Stage1, err = parseAddress(stage1); err != nil {
			return dc, err
		}
	}
	if stage2 != "" {
		if dc.Stage2, err = parseAddress(stage2); err != nil {
			return dc, err
		}
	}
	if creationCode != "" {
		if dc.CreationCode, err = hexutil.Decode(creationCode); err != nil {
			return dc, fmt.Errorf("invalid creation code: %w", err)
		}
	}
	return dc, nil
}
