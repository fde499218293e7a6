package render

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// SignRenderer renders the result of a signing round
type SignRenderer struct {
	out io.Writer
}

// NewSignRenderer creates a new sign renderer
func NewSignRenderer(out io.Writer) *SignRenderer {
	return &SignRenderer{out: out}
}

// Render prints each signer's outcome, the collected weight and the encoded signature
func (r *SignRenderer) Render(env *usecase.SignedEnvelope) error {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Signer", "State", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, st := range env.Round.Ordered() {
		detail := ""
		switch {
		case st.Err != nil:
			detail = st.Err.Error()
		case st.Signature != nil:
			detail = Title(string(st.Signature.Type()))
		}
		t.AppendRow(table.Row{shortAddress(st.Address), stateLabel(st.State), detail})
	}
	t.Render()
	fmt.Fprintln(r.out)

	if env.Weight >= env.Threshold {
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Threshold reached: weight %d of %d", env.Weight, env.Threshold)))
	} else {
		fmt.Fprintln(r.out, FormatError(fmt.Sprintf("Threshold not reached: weight %d of %d", env.Weight, env.Threshold)))
	}
	fmt.Fprintf(r.out, "Digest:     %s\n", env.OpHash.Hex())
	fmt.Fprintf(r.out, "Image hash: %s\n", hashStyle.Sprint(env.ImageHash.Hex()))
	if len(env.Deferred) > 0 {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("%d ERC-1271 signature(s) not checked", len(env.Deferred))))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, hexutil.Encode(env.Signature))
	return nil
}

func stateLabel(s usecase.SignerState) string {
	label := Title(string(s))
	switch s {
	case usecase.SignerSigned:
		return successStyle.Sprint(label)
	case usecase.SignerError:
		return errorStyle.Sprint(label)
	default:
		return warningStyle.Sprint(label)
	}
}

var _ Renderer[*usecase.SignedEnvelope] = (*SignRenderer)(nil)
