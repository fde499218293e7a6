package render

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
)

// PermissionCheck is the outcome of checking one call against a session
type PermissionCheck struct {
	Signer          common.Address              `json:"signer"`
	To              common.Address              `json:"to"`
	Allowed         bool                        `json:"allowed"`
	PermissionIndex int                         `json:"permissionIndex"`
	Increments      []permission.UsageIncrement `json:"increments,omitempty"`
	Reason          string                      `json:"reason,omitempty"`
}

// PermissionRenderer renders session permission checks
type PermissionRenderer struct {
	out io.Writer
}

// NewPermissionRenderer creates a new permission renderer
func NewPermissionRenderer(out io.Writer) *PermissionRenderer {
	return &PermissionRenderer{out: out}
}

// Render prints whether the call is allowed and the usage it would record
func (r *PermissionRenderer) Render(check *PermissionCheck) error {
	if !check.Allowed {
		fmt.Fprintln(r.out, FormatError(fmt.Sprintf("Call to %s denied", check.To.Hex())))
		fmt.Fprintf(r.out, "   %s\n", check.Reason)
		return nil
	}

	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Call to %s allowed by permission #%d", check.To.Hex(), check.PermissionIndex)))
	if len(check.Increments) == 0 {
		return nil
	}

	fmt.Fprintln(r.out)
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Usage Key", "New Total"})
	for _, inc := range check.Increments {
		t.AppendRow(table.Row{inc.Key.Hex(), inc.Total.Dec()})
	}
	t.Render()
	return nil
}

var _ Renderer[*PermissionCheck] = (*PermissionRenderer)(nil)
