package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// NewConfigCmd creates the config command
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect wallet configurations and manage local config",
		Long: `Inspect wallet configurations and manage local overrides stored in
.treb/config.local.json.

Local overrides select the wallet, RPC endpoint and default signers used
when the matching flags are not given.

Available subcommands:
  config           Show current config
  config hash      Compute the image hash of a configuration file
  config set       Set a local config value
  config remove    Remove a local config value

When run without subcommands, displays the current config.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd)
		},
	}
	addOutputFlag(cmd)

	cmd.AddCommand(NewConfigHashCmd())
	cmd.AddCommand(NewConfigSetCmd())
	cmd.AddCommand(NewConfigRemoveCmd())

	return cmd
}

// NewConfigHashCmd creates the config hash subcommand
func NewConfigHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <config.json>",
		Short: "Compute the image hash of a configuration",
		Long: `Validate a wallet configuration and print its image hash, tree root and
signer summary. Use "-" to read the configuration from stdin.

Examples:
  treb-wallet config hash wallet-config.json
  cat wallet-config.json | treb-wallet config hash -`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfigFile(cmd, args[0])
			if err != nil {
				return err
			}

			desc, err := app.DescribeConfiguration.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			renderer := render.NewConfigRenderer(cmd.OutOrStdout())
			return emit[*usecase.ConfigurationDescription](cmd, format, render.RendererFunc[*usecase.ConfigurationDescription](renderer.RenderDescription), desc, nil)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

// NewConfigSetCmd creates the config set subcommand
func NewConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a local config value",
		Long: `Set a config value in .treb/config.local.json.
Available keys: wallet (w), network (rpc), signers (s)

Examples:
  treb-wallet config set wallet 0x1234...
  treb-wallet config set network https://sepolia.example
  treb-wallet config set signers deployer,guard`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.SetConfig.Run(cmd.Context(), usecase.SetConfigParams{
				Key:   args[0],
				Value: args[1],
			})
			if err != nil {
				return err
			}

			return render.NewConfigRenderer(cmd.OutOrStdout()).RenderSet(result)
		},
	}
}

// NewConfigRemoveCmd creates the config remove subcommand
func NewConfigRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a local config value",
		Long: `Remove a config value from .treb/config.local.json so wallet.toml applies again.

Examples:
  treb-wallet config remove wallet
  treb-wallet config remove signers`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.RemoveConfig.Run(cmd.Context(), usecase.RemoveConfigParams{
				Key: args[0],
			})
			if err != nil {
				return err
			}

			return render.NewConfigRenderer(cmd.OutOrStdout()).RenderRemove(result)
		},
	}
}

// showConfig displays the current configuration
func showConfig(cmd *cobra.Command) error {
	app, err := getApp(cmd)
	if err != nil {
		return err
	}

	result, err := app.ShowConfig.Run(cmd.Context())
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd, app)
	if err != nil {
		return err
	}
	renderer := render.NewConfigRenderer(cmd.OutOrStdout())
	return emit[*usecase.ShowConfigResult](cmd, format, render.RendererFunc[*usecase.ShowConfigResult](renderer.RenderConfig), result, map[string]any{
		"source":  result.Runtime.ConfigSource,
		"local":   result.Local,
		"network": result.Runtime.Network,
		"wallet":  result.Runtime.Wallet.Wallet,
		"session": result.Runtime.Wallet.Session,
		"signers": result.Runtime.Signers,
	})
}
