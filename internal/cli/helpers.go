package cli

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-wallet/internal/app"
	"github.com/trebuchet-org/treb-wallet/internal/cli/render"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// readInput returns the contents of path, or of stdin when path is "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readHex decodes a hex argument. "-" reads stdin and "@path" reads a file; the
// 0x prefix is optional.
func readHex(cmd *cobra.Command, arg string) ([]byte, error) {
	raw := arg
	if arg == "-" || strings.HasPrefix(arg, "@") {
		data, err := readInput(cmd, strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	out, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return out, nil
}

func loadConfigFile(cmd *cobra.Command, path string) (*topology.Config, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	cfg, err := topology.ConfigFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func loadPayloadFile(cmd *cobra.Command, path string) (payload.Payload, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	p, err := payload.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid payload in %s: %w", path, err)
	}
	return p, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid 32-byte hash %q", s)
	}
	return common.BytesToHash(b), nil
}

// walletAddress returns the wallet from --wallet or wallet.toml
func walletAddress(a *app.App) (common.Address, error) {
	addr := a.Config.Wallet.Wallet.Address
	if addr == "" {
		return common.Address{}, fmt.Errorf("no wallet address: set [wallet] address in wallet.toml or pass --wallet")
	}
	return parseAddress(addr)
}

// chainID returns the configured chain id, or nil when none is set
func chainID(a *app.App) *big.Int {
	if a.Config.Network == nil || a.Config.Network.ChainID == 0 {
		return nil
	}
	return new(big.Int).SetUint64(a.Config.Network.ChainID)
}

// requireChainID fails unless a chain id is set or the wallet signs without one
func requireChainID(a *app.App) (*big.Int, error) {
	if id := chainID(a); id != nil {
		return id, nil
	}
	if a.Config.Wallet.Wallet.NoChainID {
		return new(big.Int), nil
	}
	return nil, fmt.Errorf("no chain id: set [wallet] chain_id in wallet.toml or pass --chain-id")
}

func outputFormat(cmd *cobra.Command, a *app.App) (render.Format, error) {
	if f := cmd.Flag("output"); f != nil && f.Changed {
		return render.ParseFormat(f.Value.String())
	}
	if a != nil && a.Config.JSON {
		return render.FormatJSON, nil
	}
	return render.FormatText, nil
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
}

// emit renders v as text, or structured when the format asks for it. structured
// replaces v in JSON and YAML output when set.
func emit[T any](cmd *cobra.Command, format render.Format, r render.Renderer[T], v T, structured any) error {
	if format == render.FormatText {
		return r.Render(v)
	}
	if structured == nil {
		structured = v
	}
	return render.WriteStructured(cmd.OutOrStdout(), structured, format)
}

func formatCommandError(err error) string {
	return render.FormatError(err.Error())
}

// staticUsage serves usage counters given on the command line
type staticUsage map[common.Hash]*uint256.Int

func (s staticUsage) GetUsage(ctx context.Context, wallet common.Address, key common.Hash) (*uint256.Int, error) {
	if v, ok := s[key]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func parseUsage(values map[string]string) (staticUsage, error) {
	out := make(staticUsage, len(values))
	for k, v := range values {
		key, err := parseHash(k)
		if err != nil {
			return nil, fmt.Errorf("invalid usage key: %w", err)
		}
		n, err := uint256.FromDecimal(v)
		if err != nil {
			if n, err = uint256.FromHex(v); err != nil {
				return nil, fmt.Errorf("invalid usage value %q for %s", v, k)
			}
		}
		out[key] = n
	}
	return out, nil
}
