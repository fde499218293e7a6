package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// NewSignatureCmd creates the signature command group
func NewSignatureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signature",
		Short: "Decode, encode and verify wallet signatures",
	}

	cmd.AddCommand(NewSignatureDecodeCmd())
	cmd.AddCommand(NewSignatureEncodeCmd())
	cmd.AddCommand(NewSignatureRecoverCmd())

	return cmd
}

// NewSignatureDecodeCmd creates the signature decode subcommand
func NewSignatureDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <hex|@file|->",
		Short: "Decode an encoded wallet signature",
		Long: `Decode an encoded wallet signature into its configuration tree.
ECDSA signer addresses are only known after verification; use
"signature recover" to fill them in.

With --output json the result is the JSON form accepted by "signature encode".`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			data, err := readHex(cmd, args[0])
			if err != nil {
				return err
			}

			raw, err := signature.Decode(data)
			if err != nil {
				return err
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			renderer := render.NewSignatureRenderer(cmd.OutOrStdout())
			return emit[*signature.RawSignature](cmd, format, render.RendererFunc[*signature.RawSignature](renderer.RenderDecoded), raw, nil)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

// NewSignatureEncodeCmd creates the signature encode subcommand
func NewSignatureEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <signature.json>",
		Short: "Encode a wallet signature from its JSON form",
		Long: `Encode a wallet signature from the JSON form printed by
"signature decode --output json". Use "-" to read from stdin.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var raw signature.RawSignature
			if err := raw.UnmarshalJSON(data); err != nil {
				return fmt.Errorf("invalid signature in %s: %w", args[0], err)
			}
			encoded, err := signature.Encode(&raw)
			if err != nil {
				return err
			}

			return render.NewSignatureRenderer(cmd.OutOrStdout()).RenderEncoded(encoded)
		},
	}
}

// NewSignatureRecoverCmd creates the signature recover subcommand
func NewSignatureRecoverCmd() *cobra.Command {
	var (
		payloadFile string
		digest      string
		imageHash   string
		anyConfig   bool
	)

	cmd := &cobra.Command{
		Use:   "recover <hex|@file|->",
		Short: "Verify a wallet signature and recover its signers",
		Long: `Recover every signer of a wallet signature, sum their weights and check
the result against the wallet's configuration.

The signed payload is given as a payload JSON file (--payload) or as an
opaque digest (--digest). The expected configuration is taken from
--image-hash, or from the wallet's deploy record and latest update. Use
--any-config to report the weight without comparing configurations.

Examples:
  treb-wallet signature recover 0x... --payload calls.json
  treb-wallet signature recover @sig.hex --digest 0xabc... --wallet 0x... --chain-id 1`,
		Args:         cobra.ExactArgs(1),
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
			encoded, err := readHex(cmd, args[0])
			if err != nil {
				return err
			}

			var p payload.Payload
			switch {
			case payloadFile != "" && digest != "":
				return fmt.Errorf("--payload and --digest are mutually exclusive")
			case payloadFile != "":
				if p, err = loadPayloadFile(cmd, payloadFile); err != nil {
					return err
				}
			case digest != "":
				d, err := parseHash(digest)
				if err != nil {
					return err
				}
				p = payload.FromDigest(d)
			default:
				return fmt.Errorf("one of --payload or --digest is required")
			}

			var rec *usecase.RecoveredSignature
			if anyConfig {
				raw, err := signature.Decode(encoded)
				if err != nil {
					return err
				}
				rec, err = app.RecoverSignature.Recover(cmd.Context(), wallet, chainID(app), p, raw)
				if err != nil {
					return err
				}
			} else {
				params := usecase.RecoverSignatureParams{
					Wallet:  wallet,
					ChainID: chainID(app),
					Payload: p,
					Encoded: encoded,
				}
				if imageHash != "" {
					h, err := parseHash(imageHash)
					if err != nil {
						return err
					}
					params.ExpectedImageHash = &h
				}
				var verr error
				rec, verr = app.RecoverSignature.Run(cmd.Context(), params)
				if verr != nil && (rec == nil || !errors.Is(verr, domain.ErrInsufficientWeight)) {
					return verr
				}
			}

			format, err := outputFormat(cmd, app)
			if err != nil {
				return err
			}
			renderer := render.NewSignatureRenderer(cmd.OutOrStdout())
			if err := emit[*usecase.RecoveredSignature](cmd, format, render.RendererFunc[*usecase.RecoveredSignature](renderer.RenderRecovered), rec, recoveredJSON(rec)); err != nil {
				return err
			}
			if !rec.Valid() {
				return &domain.InsufficientWeightError{Weight: rec.Weight, Threshold: rec.Threshold}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadFile, "payload", "", "Payload JSON file that was signed")
	cmd.Flags().StringVar(&digest, "digest", "", "Opaque 32-byte digest that was signed")
	cmd.Flags().StringVar(&imageHash, "image-hash", "", "Configuration image hash the signature must prove")
	cmd.Flags().BoolVar(&anyConfig, "any-config", false, "Do not compare against the wallet's configuration")
	addOutputFlag(cmd)

	return cmd
}

type recoveredOutput struct {
	Valid     bool                    `json:"valid"`
	OpHash    common.Hash             `json:"opHash"`
	ImageHash common.Hash             `json:"imageHash"`
	Weight    uint64                  `json:"weight"`
	Threshold uint64                  `json:"threshold"`
	Deferred  []common.Address        `json:"deferred,omitempty"`
	Chain     []usecase.RecoveredLink `json:"chain,omitempty"`
	Signers   []recoveredSigner       `json:"signers"`
	Signature *signature.RawSignature `json:"signature"`
}

type recoveredSigner struct {
	Address common.Address `json:"address"`
	Type    signature.Type `json:"type"`
	Weight  uint64         `json:"weight"`
}

func recoveredJSON(rec *usecase.RecoveredSignature) *recoveredOutput {
	out := &recoveredOutput{
		Valid:     rec.Valid(),
		OpHash:    rec.OpHash,
		ImageHash: rec.ImageHash,
		Weight:    rec.Weight,
		Threshold: rec.Threshold,
		Deferred:  rec.Deferred,
		Chain:     rec.Chain,
		Signers:   []recoveredSigner{},
		Signature: rec.Raw,
	}
	signature.Signed(rec.Raw.Configuration.Topology, func(leaf signature.RawTopology) {
		switch n := leaf.(type) {
		case signature.RawSignerLeaf:
			out.Signers = append(out.Signers, recoveredSigner{Address: n.Address, Type: n.Signature.Type(), Weight: n.Weight})
		case signature.RawSapientSignerLeaf:
			out.Signers = append(out.Signers, recoveredSigner{Address: n.Address, Type: n.Signature.Type(), Weight: n.Weight})
		}
	})
	return out
}

