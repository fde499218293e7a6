package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// NewUpdateCmd creates the update command
func NewUpdateCmd() *cobra.Command {
	var (
		configFile string
		sig        string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Move a wallet to a new configuration",
		Long: `Verify that the wallet's current configuration signed the move to a new
configuration and record the update. The new configuration must carry a
higher checkpoint than the current one.

Produce the signature with "sign" over a config-update payload, then:
  treb-wallet update --config next.json --signature 0x...`,
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
			cfg, err := loadConfigFile(cmd, configFile)
			if err != nil {
				return err
			}
			encoded, err := readHex(cmd, sig)
			if err != nil {
				return err
			}

			result, err := app.UpdateConfiguration.Run(cmd.Context(), usecase.UpdateConfigurationParams{
				Wallet:    wallet,
				ChainID:   chainID(app),
				NewConfig: cfg,
				Signature: encoded,
			})
			if err != nil {
				return err
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			renderer := render.NewWalletRenderer(cmd.OutOrStdout())
			return emit[*usecase.UpdateConfigurationResult](cmd, format, render.RendererFunc[*usecase.UpdateConfigurationResult](renderer.RenderUpdate), result, result.Update)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "New configuration JSON")
	cmd.Flags().StringVar(&sig, "signature", "", "Signature of the current configuration as hex, @file or -")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("signature")

	return cmd
}
