package render

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// WalletRenderer renders wallet registration and configuration updates
type WalletRenderer struct {
	out io.Writer
}

// NewWalletRenderer creates a new wallet renderer
func NewWalletRenderer(out io.Writer) *WalletRenderer {
	return &WalletRenderer{out: out}
}

// RenderInit renders the init wallet result
func (r *WalletRenderer) RenderInit(result *usecase.InitWalletResult) error {
	for _, step := range result.Steps {
		if step.Error == nil && step.Success {
			msg := step.Name
			if step.Message != "" {
				msg = step.Name + ": " + step.Message
			}
			fmt.Fprintln(r.out, FormatSuccess(msg))
			continue
		}
		color.New(color.FgRed).Fprintf(r.out, "❌ %s\n", step.Name)
		if step.Message != "" {
			fmt.Fprintf(r.out, "   %s\n", step.Message)
		}
		if step.Error != nil {
			fmt.Fprintf(r.out, "   %s\n", step.Error.Error())
		}
	}

	if result.Unreachable {
		fmt.Fprintln(r.out, FormatWarning("Threshold exceeds the visible weight of the tree"))
	}
	if result.Deploy == nil {
		return nil
	}

	fmt.Fprintln(r.out)
	if result.AlreadyInitialized {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("Wallet %s was already initialized", result.Deploy.Wallet.Hex())))
	} else {
		color.New(color.FgGreen, color.Bold).Fprintf(r.out, "🎉 Wallet %s initialized\n", result.Deploy.Wallet.Hex())
	}
	fmt.Fprintf(r.out, "Image hash: %s\n", hashStyle.Sprint(result.Deploy.ImageHash.Hex()))
	return nil
}

// RenderUpdate renders an accepted configuration update
func (r *WalletRenderer) RenderUpdate(result *usecase.UpdateConfigurationResult) error {
	u := result.Update
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Wallet %s updated", u.Wallet.Hex())))
	fmt.Fprintf(r.out, "From:       %s (checkpoint %d)\n", u.FromImageHash.Hex(), result.Previous.Checkpoint)
	fmt.Fprintf(r.out, "To:         %s\n", hashStyle.Sprint(u.ImageHash.Hex()))
	if result.Recovered != nil {
		fmt.Fprintf(r.out, "Signed by:  weight %d of %d\n", result.Recovered.Weight, result.Recovered.Threshold)
	}
	return nil
}
