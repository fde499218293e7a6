package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// SignatureRenderer renders decoded and recovered wallet signatures
type SignatureRenderer struct {
	out io.Writer
}

// NewSignatureRenderer creates a new signature renderer
func NewSignatureRenderer(out io.Writer) *SignatureRenderer {
	return &SignatureRenderer{out: out}
}

// RenderDecoded prints the signature structure as an indented tree
func (r *SignatureRenderer) RenderDecoded(raw *signature.RawSignature) error {
	r.renderSignature(raw, "")
	for i := range raw.Suffix {
		fmt.Fprintln(r.out)
		sectionHeaderStyle.Fprintf(r.out, "Chained signature #%d\n", i+1)
		r.renderSignature(&raw.Suffix[i], "")
	}
	return nil
}

func (r *SignatureRenderer) renderSignature(raw *signature.RawSignature, indent string) {
	cfg := raw.Configuration
	fmt.Fprintf(r.out, "%sThreshold:  %d\n", indent, cfg.Threshold)
	fmt.Fprintf(r.out, "%sCheckpoint: %d\n", indent, cfg.Checkpoint)
	if cfg.Checkpointer != nil {
		fmt.Fprintf(r.out, "%sCheckpointer: %s (%d bytes of data)\n", indent, cfg.Checkpointer.Hex(), len(raw.CheckpointerData))
	}
	if raw.NoChainID {
		fmt.Fprintf(r.out, "%sChain ID:   %s\n", indent, faintStyle.Sprint("not bound"))
	}
	fmt.Fprintf(r.out, "%sTree:\n", indent)
	r.renderTree(cfg.Topology, indent+"  ")
}

func (r *SignatureRenderer) renderTree(t signature.RawTopology, indent string) {
	switch n := t.(type) {
	case signature.RawNode:
		fmt.Fprintf(r.out, "%s┬\n", indent)
		r.renderTree(n.Left, indent+"│ ")
		r.renderTree(n.Right, indent+"  ")
	case signature.RawNestedLeaf:
		fmt.Fprintf(r.out, "%snested weight=%d threshold=%d\n", indent, n.Weight, n.Threshold)
		r.renderTree(n.Tree, indent+"  ")
	case signature.RawSignerLeaf:
		addr := addressStyle.Sprint(n.Address.Hex())
		if n.Address == (common.Address{}) {
			addr = faintStyle.Sprint("(recovered on verify)")
		}
		fmt.Fprintf(r.out, "%s%s signer %s weight=%d\n", indent, successStyle.Sprint("✓"), addr, n.Weight)
		fmt.Fprintf(r.out, "%s  %s\n", indent, describeSignature(n.Signature))
	case signature.RawSapientSignerLeaf:
		fmt.Fprintf(r.out, "%s%s sapient %s weight=%d image=%s\n", indent, successStyle.Sprint("✓"),
			addressStyle.Sprint(n.Address.Hex()), n.Weight, hashStyle.Sprint(n.ImageHash.Hex()))
		fmt.Fprintf(r.out, "%s  %s\n", indent, describeSignature(n.Signature))
	case signature.RawLeaf:
		fmt.Fprintf(r.out, "%s%s\n", indent, faintStyle.Sprint(describeLeaf(n.Leaf)))
	default:
		fmt.Fprintf(r.out, "%s%T\n", indent, t)
	}
}

func describeLeaf(l topology.Leaf) string {
	switch leaf := l.(type) {
	case topology.SignerLeaf:
		return fmt.Sprintf("○ signer %s weight=%d", leaf.Address.Hex(), leaf.Weight)
	case topology.SapientSignerLeaf:
		return fmt.Sprintf("○ sapient %s weight=%d image=%s", leaf.Address.Hex(), leaf.Weight, leaf.ImageHash.Hex())
	case topology.SubdigestLeaf:
		return fmt.Sprintf("subdigest %s", leaf.Digest.Hex())
	case topology.AnyAddressSubdigestLeaf:
		return fmt.Sprintf("any-address subdigest %s", leaf.Digest.Hex())
	case topology.NodeLeaf:
		return fmt.Sprintf("node %s", leaf.Hash.Hex())
	default:
		return fmt.Sprintf("%T", l)
	}
}

func describeSignature(s signature.Signature) string {
	switch sig := s.(type) {
	case signature.HashSignature:
		return fmt.Sprintf("%s r=%s s=%s v=%d", Title(string(sig.Type())), sig.R.Hex(), sig.S.Hex(), sig.YParity)
	case signature.EthSignSignature:
		return fmt.Sprintf("%s r=%s s=%s v=%d", Title(string(sig.Type())), sig.R.Hex(), sig.S.Hex(), sig.YParity)
	case signature.ERC1271Signature:
		return fmt.Sprintf("ERC-1271 %s", abbreviate(sig.Data))
	case signature.SapientSignature:
		return fmt.Sprintf("%s %s", Title(string(sig.Type())), abbreviate(sig.Data))
	case signature.SapientCompactSignature:
		return fmt.Sprintf("%s %s", Title(string(sig.Type())), abbreviate(sig.Data))
	default:
		return fmt.Sprintf("%T", s)
	}
}

func abbreviate(data []byte) string {
	h := hexutil.Encode(data)
	if len(h) <= 42 {
		return h
	}
	return fmt.Sprintf("%s…%s (%d bytes)", h[:22], h[len(h)-16:], len(data))
}

// RenderRecovered prints the verification outcome, the signers that count and the
// configuration chain
func (r *SignatureRenderer) RenderRecovered(rec *usecase.RecoveredSignature) error {
	status := FormatSuccess(fmt.Sprintf("Valid: weight %d of %d", rec.Weight, rec.Threshold))
	if !rec.Valid() {
		status = FormatError(fmt.Sprintf("Insufficient weight: %d of %d", rec.Weight, rec.Threshold))
	}
	fmt.Fprintln(r.out, status)
	fmt.Fprintf(r.out, "Digest:     %s\n", rec.OpHash.Hex())
	fmt.Fprintf(r.out, "Image hash: %s\n", hashStyle.Sprint(rec.ImageHash.Hex()))

	rows := signedRows(rec.Raw.Configuration.Topology)
	if len(rows) > 0 {
		fmt.Fprintln(r.out)
		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Signer", "Type", "Weight"})
		for _, row := range rows {
			t.AppendRow(row)
		}
		t.Render()
	}

	if len(rec.Chain) > 1 {
		fmt.Fprintln(r.out)
		sectionHeaderStyle.Fprintln(r.out, "Configuration chain")
		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Image Hash", "Checkpoint", "Weight"})
		for i, link := range rec.Chain {
			t.AppendRow(table.Row{i, link.ImageHash.Hex(), link.Checkpoint, fmt.Sprintf("%d/%d", link.Weight, link.Threshold)})
		}
		t.Render()
	}

	if len(rec.Deferred) > 0 {
		deferred := make([]string, len(rec.Deferred))
		for i, addr := range rec.Deferred {
			deferred[i] = addr.Hex()
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, FormatWarning("ERC-1271 signatures not checked (no RPC): "+strings.Join(deferred, ", ")))
	}
	return nil
}

func signedRows(t signature.RawTopology) []table.Row {
	var rows []table.Row
	signature.Signed(t, func(leaf signature.RawTopology) {
		switch n := leaf.(type) {
		case signature.RawSignerLeaf:
			rows = append(rows, table.Row{n.Address.Hex(), Title(string(n.Signature.Type())), n.Weight})
		case signature.RawSapientSignerLeaf:
			rows = append(rows, table.Row{n.Address.Hex(), Title(string(n.Signature.Type())), n.Weight})
		}
	})
	return rows
}

// RenderEncoded prints an encoded signature
func (r *SignatureRenderer) RenderEncoded(encoded []byte) error {
	fmt.Fprintln(r.out, hexutil.Encode(encoded))
	return nil
}
