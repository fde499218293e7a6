package render

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// ConfigRenderer renders config-related output
type ConfigRenderer struct {
	out io.Writer
}

// NewConfigRenderer creates a new config renderer
func NewConfigRenderer(out io.Writer) *ConfigRenderer {
	return &ConfigRenderer{
		out: out,
	}
}

// RenderConfig renders the resolved configuration and the local overrides
func (r *ConfigRenderer) RenderConfig(result *usecase.ShowConfigResult) error {
	rt := result.Runtime

	fmt.Fprintln(r.out, "📋 Current config:")
	wallet := "(not set)"
	if rt.Wallet.Wallet.Address != "" {
		wallet = rt.Wallet.Wallet.Address
	}
	fmt.Fprintf(r.out, "Wallet:    %s\n", wallet)
	if rt.Network != nil {
		fmt.Fprintf(r.out, "Network:   %s (chain %d)\n", rt.Network.Name, rt.Network.ChainID)
	} else {
		fmt.Fprintf(r.out, "Network:   %s\n", "(not set)")
	}
	if rt.Wallet.Session.Manager != "" {
		fmt.Fprintf(r.out, "Sessions:  %s\n", rt.Wallet.Session.Manager)
	}
	if len(rt.Signers) > 0 {
		fmt.Fprintf(r.out, "Signers:   %v\n", rt.Signers)
	}

	if len(rt.Wallet.Signers) > 0 {
		fmt.Fprintln(r.out)
		r.renderSigners(rt.Wallet.Signers)
	}

	if rt.ConfigSource != "" {
		fmt.Fprintf(r.out, "\n📦 Config source: %s\n", rt.ConfigSource)
	} else {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, FormatWarning("No wallet.toml found; signers and wallet must come from flags"))
	}
	if result.Exists {
		fmt.Fprintf(r.out, "📁 config file: %s\n", getRelativePath(result.ConfigPath))
	}

	return nil
}

func (r *ConfigRenderer) renderSigners(signers map[string]config.SignerConfig) {
	names := lo.Keys(signers)
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Signer", "Type", "Address", "Details"})
	for _, name := range names {
		sc := signers[name]
		t.AppendRow(table.Row{name, Title(string(sc.Type)), sc.Address, signerDetails(sc)})
	}
	t.Render()
}

func signerDetails(sc config.SignerConfig) string {
	switch sc.Type {
	case config.SignerTypePrivateKey:
		if sc.Scheme != "" {
			return "scheme " + sc.Scheme
		}
		return "scheme hash"
	case config.SignerTypeGuard:
		return sc.URL
	case config.SignerTypeNested:
		return fmt.Sprintf("%s via %v", sc.Config, sc.Signers)
	case config.SignerTypeSession:
		return sc.Permissions
	default:
		return ""
	}
}

// RenderSet renders the result of setting a configuration value
func (r *ConfigRenderer) RenderSet(result *usecase.SetConfigResult) error {
	fmt.Fprintf(r.out, "✅ Set %s to: %s\n", result.Key, result.Value)
	fmt.Fprintf(r.out, "📁 config saved to: %s\n", getRelativePath(result.ConfigPath))
	return nil
}

// RenderRemove renders the result of removing a configuration value
func (r *ConfigRenderer) RenderRemove(result *usecase.RemoveConfigResult) error {
	switch result.Key {
	case config.ConfigKeyWallet:
		fmt.Fprintf(r.out, "✅ Removed wallet override (wallet.toml applies)\n")
	case config.ConfigKeyNetwork:
		fmt.Fprintf(r.out, "✅ Removed network override (wallet.toml applies)\n")
	case config.ConfigKeySigners:
		fmt.Fprintf(r.out, "✅ Removed default signers (all configured signers are asked)\n")
	}

	fmt.Fprintf(r.out, "📁 config saved to: %s\n", getRelativePath(result.ConfigPath))
	return nil
}

// RenderDescription renders a configuration's hashes and signer summary
func (r *ConfigRenderer) RenderDescription(desc *usecase.ConfigurationDescription) error {
	fmt.Fprintf(r.out, "Image hash:  %s\n", hashStyle.Sprint(desc.ImageHash.Hex()))
	fmt.Fprintf(r.out, "Tree root:   %s\n", desc.Root.Hex())
	fmt.Fprintf(r.out, "Threshold:   %d of %d\n", desc.Threshold, desc.MaxWeight)
	fmt.Fprintf(r.out, "Checkpoint:  %d\n", desc.Checkpoint)
	if desc.Checkpointer != nil {
		fmt.Fprintf(r.out, "Checkpointer: %s\n", desc.Checkpointer.Hex())
	}
	fmt.Fprintf(r.out, "Signers:     %d", len(desc.Signers))
	if len(desc.Sapient) > 0 {
		fmt.Fprintf(r.out, " (%d sapient)", len(desc.Sapient))
	}
	fmt.Fprintln(r.out)
	if !desc.Reachable {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("threshold %d exceeds the visible weight %d", desc.Threshold, desc.MaxWeight)))
	}
	return nil
}

