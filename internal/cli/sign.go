package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/app"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// roundObserver is implemented by progress sinks that follow signing rounds
type roundObserver interface {
	Observe(usecase.RoundSnapshot)
}

// NewSignCmd creates the sign command
func NewSignCmd() *cobra.Command {
	var (
		payloadFile string
		configFile  string
		signerNames []string
		noPrune     bool
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Collect signatures for a payload until the threshold is met",
		Long: `Ask the configured signers to sign a payload concurrently and encode the
wallet signature as soon as their weight reaches the threshold.

Signers come from wallet.toml. --signer restricts the round to the named
signers; without it the defaults from config.local.json apply, and
otherwise every configured signer that appears in the configuration is asked.

Examples:
  treb-wallet sign --payload calls.json
  treb-wallet sign --payload calls.json --signer deployer --signer guard
  treb-wallet sign --payload update.json --config current.json --no-prune`,
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
			chain, err := requireChainID(app)
			if err != nil {
				return err
			}
			p, err := loadPayloadFile(cmd, payloadFile)
			if err != nil {
				return err
			}

			params := usecase.SignPayloadParams{
				Wallet:    wallet,
				ChainID:   chain,
				Payload:   p,
				NoChainID: app.Config.Wallet.Wallet.NoChainID,
				Prune:     app.Config.Wallet.PruneSignatures() && !noPrune,
			}
			if configFile != "" {
				if params.Config, err = loadConfigFile(cmd, configFile); err != nil {
					return err
				}
			}

			names := signerNames
			if len(names) == 0 {
				names = app.Config.Signers
			}
			if params.Signers, err = buildSigners(app, names); err != nil {
				return err
			}

			if obs, ok := app.Progress.(roundObserver); ok {
				unsubscribe := app.Orchestrator.Subscribe(obs.Observe)
				defer unsubscribe()
			}

			env, signErr := app.SignPayload.Run(cmd.Context(), params)
			if signErr != nil && (env == nil || !errors.Is(signErr, domain.ErrInsufficientWeight)) {
				return signErr
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			if err := emit[*usecase.SignedEnvelope](cmd, format, render.NewSignRenderer(cmd.OutOrStdout()), env, envelopeJSON(env)); err != nil {
				return err
			}
			return signErr
		},
	}

	cmd.Flags().StringVarP(&payloadFile, "payload", "p", "", "Payload JSON file to sign (- for stdin)")
	cmd.Flags().StringVar(&configFile, "config", "", "Configuration JSON to sign with (defaults to the wallet's latest)")
	cmd.Flags().StringArrayVar(&signerNames, "signer", nil, "Signer from wallet.toml to ask (repeatable)")
	cmd.Flags().BoolVar(&noPrune, "no-prune", false, "Keep unsigned branches in the encoded signature")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

// buildSigners registers every configured signer, since nested signers reach their
// inner signers through the orchestrator, and returns the addresses of the named
// ones. It returns nil when names is empty.
func buildSigners(a *app.App, names []string) ([]common.Address, error) {
	all := lo.Keys(a.Config.Wallet.Signers)
	sort.Strings(all)
	built, err := a.Signers.Build(a.Config.Wallet, all)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	byName := make(map[string]common.Address, len(all))
	for i, name := range all {
		byName[name] = built[i].Address()
	}
	out := make([]common.Address, 0, len(names))
	for _, name := range lo.Uniq(names) {
		addr, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("signer %q is not configured", name)
		}
		out = append(out, addr)
	}
	return out, nil
}

type envelopeOutput struct {
	Signature hexutil.Bytes      `json:"signature"`
	OpHash    common.Hash        `json:"opHash"`
	ImageHash common.Hash        `json:"imageHash"`
	Weight    uint64             `json:"weight"`
	Threshold uint64             `json:"threshold"`
	Deferred  []common.Address   `json:"deferred,omitempty"`
	Signers   []signerStatusJSON `json:"signers"`
}

type signerStatusJSON struct {
	Address common.Address      `json:"address"`
	State   usecase.SignerState `json:"state"`
	Error   string              `json:"error,omitempty"`
}

func envelopeJSON(env *usecase.SignedEnvelope) *envelopeOutput {
	return &envelopeOutput{
		Signature: env.Signature,
		OpHash:    env.OpHash,
		ImageHash: env.ImageHash,
		Weight:    env.Weight,
		Threshold: env.Threshold,
		Deferred:  env.Deferred,
		Signers: lo.Map(env.Round.Ordered(), func(st usecase.SignerStatus, _ int) signerStatusJSON {
			out := signerStatusJSON{Address: st.Address, State: st.State}
			if st.Err != nil {
				out.Error = st.Err.Error()
			}
			return out
		}),
	}
}
