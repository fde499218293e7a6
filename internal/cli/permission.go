package cli

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// NewPermissionCmd creates the permission command group
func NewPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Evaluate session permissions",
	}
	cmd.AddCommand(NewPermissionCheckCmd())
	return cmd
}

// NewPermissionCheckCmd creates the permission check subcommand
func NewPermissionCheckCmd() *cobra.Command {
	var (
		sessionFile string
		to          string
		data        string
		value       string
		usage       map[string]string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a session may sign a call",
		Long: `Evaluate a call against a session's permissions without signing it.

Cumulative usage is read from the session manager when one is configured
with an RPC endpoint. --usage overrides it with explicit counters, given
as <usage key>=<value>.

Examples:
  treb-wallet permission check --session session.json --to 0x... --data 0xa9059cbb...
  treb-wallet permission check --session session.json --to 0x... --value 1000 --usage 0xkey=500`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			raw, err := readInput(cmd, sessionFile)
			if err != nil {
				return err
			}
			session, err := permission.SessionFromJSON(raw)
			if err != nil {
				return fmt.Errorf("invalid session in %s: %w", sessionFile, err)
			}

			target, err := parseAddress(to)
			if err != nil {
				return err
			}
			call := payload.Call{To: target, Value: new(big.Int)}
			if data != "" {
				if call.Data, err = readHex(cmd, data); err != nil {
					return err
				}
			}
			if value != "" {
				v, ok := new(big.Int).SetString(value, 0)
				if !ok || v.Sign() < 0 {
					return fmt.Errorf("invalid value %q", value)
				}
				call.Value = v
			}

			// Without a wallet the usage lookups use the zero address
			var wallet common.Address
			if app.Config.Wallet.Wallet.Address != "" {
				if wallet, err = walletAddress(app); err != nil {
					return err
				}
			}

			checker := app.AuthorizeSessionCall
			if len(usage) > 0 {
				counters, err := parseUsage(usage)
				if err != nil {
					return err
				}
				checker = usecase.NewAuthorizeSessionCall(counters, app.Log)
			}

			check := &render.PermissionCheck{Signer: session.Signer, To: target}
			res, err := checker.Check(cmd.Context(), usecase.AuthorizeSessionCallParams{
				Wallet:  wallet,
				ChainID: chainID(app),
				Call:    call,
				Session: session,
			})
			switch {
			case err == nil:
				check.Allowed = true
				check.PermissionIndex = res.PermissionIndex
				check.Increments = res.Increments
			case permission.IsDenied(err), errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrInvalidChainID):
				check.Reason = err.Error()
			default:
				return err
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			return emit[*render.PermissionCheck](cmd, format, render.NewPermissionRenderer(cmd.OutOrStdout()), check, nil)
		},
	}

	cmd.Flags().StringVar(&sessionFile, "session", "", "Session permissions JSON file")
	cmd.Flags().StringVar(&to, "to", "", "Call target")
	cmd.Flags().StringVar(&data, "data", "", "Call data as hex, @file or -")
	cmd.Flags().StringVar(&value, "value", "", "Call value in wei")
	cmd.Flags().StringToStringVar(&usage, "usage", nil, "Usage counter override as <key>=<value> (repeatable)")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
