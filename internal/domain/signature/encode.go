package signature

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// Header bits of a top-level signature
const (
	headerChained        = 0x01
	headerNoChainID      = 0x02
	headerCheckpointMask = 0x1c
	headerThreshold16    = 0x20
	headerCheckpointer   = 0x40
	headerReserved       = 0x80
)

// Tree item discriminators (high nibble of the item's first byte)
const (
	flagHash           = 0x0
	flagAddress        = 0x1
	flagERC1271        = 0x2
	flagNode           = 0x3
	flagBranch         = 0x4
	flagSubdigest      = 0x5
	flagNested         = 0x6
	flagEthSign        = 0x7
	flagAnyAddress     = 0x8
	flagSapient        = 0x9
	flagSapientCompact = 0xa
)

const maxUint24 = 1<<24 - 1

// Encode serializes sig into its wire form. Suffix signatures are appended in order.
func Encode(sig *RawSignature) ([]byte, error) {
	if sig == nil {
		return nil, fmt.Errorf("%w: nil signature", domain.ErrUnencodable)
	}
	if len(sig.Suffix) == 0 {
		return encodeSingle(sig)
	}

	var buf bytes.Buffer
	buf.WriteByte(headerChained)

	blocks := make([]*RawSignature, 0, len(sig.Suffix)+1)
	blocks = append(blocks, sig)
	for i := range sig.Suffix {
		if len(sig.Suffix[i].Suffix) > 0 {
			return nil, fmt.Errorf("%w: suffix %d has its own suffix", domain.ErrUnencodable, i)
		}
		blocks = append(blocks, &sig.Suffix[i])
	}

	for i, block := range blocks {
		enc, err := encodeSingle(block)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if err := writeLength(&buf, len(enc), 3); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

func encodeSingle(sig *RawSignature) ([]byte, error) {
	cfg := sig.Configuration
	if cfg.Threshold > topology.MaxThreshold {
		return nil, fmt.Errorf("%w: threshold %d exceeds %d", domain.ErrUnencodable, cfg.Threshold, topology.MaxThreshold)
	}
	if cfg.Checkpoint > topology.MaxCheckpoint {
		return nil, fmt.Errorf("%w: checkpoint %d exceeds %d", domain.ErrUnencodable, cfg.Checkpoint, uint64(topology.MaxCheckpoint))
	}
	if cfg.Checkpointer == nil && len(sig.CheckpointerData) > 0 {
		return nil, fmt.Errorf("%w: checkpointer data without checkpointer", domain.ErrUnencodable)
	}

	checkpointWidth := minWidth(cfg.Checkpoint)
	header := byte(checkpointWidth << 2)
	if sig.NoChainID {
		header |= headerNoChainID
	}
	thresholdWidth := 1
	if cfg.Threshold > 0xff {
		header |= headerThreshold16
		thresholdWidth = 2
	}
	if cfg.Checkpointer != nil {
		header |= headerCheckpointer
	}

	var buf bytes.Buffer
	buf.WriteByte(header)
	if cfg.Checkpointer != nil {
		buf.Write(cfg.Checkpointer.Bytes())
		if err := writeLength(&buf, len(sig.CheckpointerData), 3); err != nil {
			return nil, fmt.Errorf("checkpointer data: %w", err)
		}
		buf.Write(sig.CheckpointerData)
	}
	writeUint(&buf, cfg.Checkpoint, checkpointWidth)
	writeUint(&buf, cfg.Threshold, thresholdWidth)

	if cfg.Topology == nil {
		return nil, fmt.Errorf("%w: empty topology", domain.ErrUnencodable)
	}
	if err := encodeTree(&buf, cfg.Topology); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTopology serializes a raw tree without a header
func EncodeTopology(t RawTopology) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTree(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeTree writes the left child flat and wraps a right child pair in a branch,
// so that folding the decoded item list to the left rebuilds the same shape.
func encodeTree(buf *bytes.Buffer, t RawTopology) error {
	node, ok := t.(RawNode)
	if !ok {
		return encodeItem(buf, t)
	}
	if err := encodeTree(buf, node.Left); err != nil {
		return err
	}
	right, ok := node.Right.(RawNode)
	if !ok {
		return encodeItem(buf, node.Right)
	}

	inner, err := EncodeTopology(right)
	if err != nil {
		return err
	}
	width := minWidth(uint64(len(inner)))
	if width > 3 {
		return fmt.Errorf("%w: branch of %d bytes", domain.ErrUnencodable, len(inner))
	}
	buf.WriteByte(flagBranch<<4 | byte(width))
	writeUint(buf, uint64(len(inner)), width)
	buf.Write(inner)
	return nil
}

func encodeItem(buf *bytes.Buffer, t RawTopology) error {
	switch n := t.(type) {
	case RawLeaf:
		return encodeUnsigned(buf, n.Leaf)
	case RawSignerLeaf:
		return encodeSigner(buf, n)
	case RawSapientSignerLeaf:
		return encodeSapient(buf, n)
	case RawNestedLeaf:
		return encodeNested(buf, n)
	case nil:
		return fmt.Errorf("%w: nil subtree", domain.ErrUnencodable)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, t)
	}
}

func encodeUnsigned(buf *bytes.Buffer, l topology.Leaf) error {
	switch leaf := l.(type) {
	case topology.SignerLeaf:
		if err := writeWeightNibble(buf, flagAddress, leaf.Weight); err != nil {
			return err
		}
		buf.Write(leaf.Address.Bytes())
	case topology.SapientSignerLeaf:
		if err := writeWeightBits(buf, flagSapient<<4, leaf.Weight); err != nil {
			return err
		}
		buf.Write(leaf.Address.Bytes())
		buf.Write(leaf.ImageHash.Bytes())
	case topology.NodeLeaf:
		buf.WriteByte(flagNode << 4)
		buf.Write(leaf.Hash.Bytes())
	case topology.SubdigestLeaf:
		buf.WriteByte(flagSubdigest << 4)
		buf.Write(leaf.Digest.Bytes())
	case topology.AnyAddressSubdigestLeaf:
		buf.WriteByte(flagAnyAddress << 4)
		buf.Write(leaf.Digest.Bytes())
	case topology.NestedLeaf:
		return fmt.Errorf("%w: nested leaf must be a RawNestedLeaf", domain.ErrUnencodable)
	case nil:
		return fmt.Errorf("%w: empty raw leaf", domain.ErrUnencodable)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownLeafType, l)
	}
	return nil
}

func encodeSigner(buf *bytes.Buffer, leaf RawSignerLeaf) error {
	switch sig := leaf.Signature.(type) {
	case HashSignature:
		if err := writeWeightNibble(buf, flagHash, leaf.Weight); err != nil {
			return err
		}
		return writeCompactECDSA(buf, sig.R, sig.S, sig.YParity)
	case EthSignSignature:
		if err := writeWeightNibble(buf, flagEthSign, leaf.Weight); err != nil {
			return err
		}
		return writeCompactECDSA(buf, sig.R, sig.S, sig.YParity)
	case ERC1271Signature:
		width := minWidth(uint64(len(sig.Data)))
		if width > 3 {
			return fmt.Errorf("%w: erc1271 signature of %d bytes", domain.ErrUnencodable, len(sig.Data))
		}
		if err := writeWeightBits(buf, flagERC1271<<4|byte(width)<<2, leaf.Weight); err != nil {
			return err
		}
		buf.Write(leaf.Address.Bytes())
		writeUint(buf, uint64(len(sig.Data)), width)
		buf.Write(sig.Data)
		return nil
	case nil:
		return encodeUnsigned(buf, topology.SignerLeaf{Address: leaf.Address, Weight: leaf.Weight})
	default:
		return fmt.Errorf("%w: %s signature on a signer leaf", domain.ErrUnencodable, sig.Type())
	}
}

func encodeSapient(buf *bytes.Buffer, leaf RawSapientSignerLeaf) error {
	var (
		flag byte
		data []byte
	)
	switch sig := leaf.Signature.(type) {
	case SapientSignature:
		flag, data = flagSapient, sig.Data
	case SapientCompactSignature:
		flag, data = flagSapientCompact, sig.Data
	case nil:
		return encodeUnsigned(buf, topology.SapientSignerLeaf{Address: leaf.Address, Weight: leaf.Weight, ImageHash: leaf.ImageHash})
	default:
		return fmt.Errorf("%w: %s signature on a sapient leaf", domain.ErrUnencodable, sig.Type())
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty sapient signature for %s", domain.ErrUnencodable, leaf.Address.Hex())
	}
	width := minWidth(uint64(len(data)))
	if width > 3 {
		return fmt.Errorf("%w: sapient signature of %d bytes", domain.ErrUnencodable, len(data))
	}
	if err := writeWeightBits(buf, flag<<4|byte(width)<<2, leaf.Weight); err != nil {
		return err
	}
	buf.Write(leaf.Address.Bytes())
	buf.Write(leaf.ImageHash.Bytes())
	writeUint(buf, uint64(len(data)), width)
	buf.Write(data)
	return nil
}

func encodeNested(buf *bytes.Buffer, leaf RawNestedLeaf) error {
	if leaf.Weight > topology.MaxLeafWeight {
		return fmt.Errorf("%w: nested weight %d exceeds %d", domain.ErrUnencodable, leaf.Weight, topology.MaxLeafWeight)
	}
	if leaf.Threshold > topology.MaxNestedThreshold {
		return fmt.Errorf("%w: nested threshold %d exceeds %d", domain.ErrUnencodable, leaf.Threshold, topology.MaxNestedThreshold)
	}
	if leaf.Tree == nil {
		return fmt.Errorf("%w: nested leaf without tree", domain.ErrUnencodable)
	}
	inner, err := EncodeTopology(leaf.Tree)
	if err != nil {
		return err
	}
	if len(inner) > maxUint24 {
		return fmt.Errorf("%w: nested tree of %d bytes", domain.ErrUnencodable, len(inner))
	}

	flag := byte(flagNested << 4)
	if leaf.Weight >= 1 && leaf.Weight <= 3 {
		flag |= byte(leaf.Weight)
	}
	if leaf.Threshold >= 1 && leaf.Threshold <= 3 {
		flag |= byte(leaf.Threshold) << 2
	}
	buf.WriteByte(flag)
	if flag&0x03 == 0 {
		buf.WriteByte(byte(leaf.Weight))
	}
	if flag&0x0c == 0 {
		writeUint(buf, leaf.Threshold, 2)
	}
	writeUint(buf, uint64(len(inner)), 3)
	buf.Write(inner)
	return nil
}

// writeWeightNibble writes a flag whose low nibble holds weights 1..15; other
// weights are written as a trailing byte after a zero nibble.
func writeWeightNibble(buf *bytes.Buffer, flag byte, weight uint64) error {
	if weight > topology.MaxLeafWeight {
		return fmt.Errorf("%w: weight %d exceeds %d", domain.ErrUnencodable, weight, topology.MaxLeafWeight)
	}
	if weight >= 1 && weight <= 0x0f {
		buf.WriteByte(flag<<4 | byte(weight))
		return nil
	}
	buf.WriteByte(flag << 4)
	buf.WriteByte(byte(weight))
	return nil
}

// writeWeightBits is writeWeightNibble for items that only spare two bits for the weight
func writeWeightBits(buf *bytes.Buffer, flag byte, weight uint64) error {
	if weight > topology.MaxLeafWeight {
		return fmt.Errorf("%w: weight %d exceeds %d", domain.ErrUnencodable, weight, topology.MaxLeafWeight)
	}
	if weight >= 1 && weight <= 3 {
		buf.WriteByte(flag | byte(weight))
		return nil
	}
	buf.WriteByte(flag)
	buf.WriteByte(byte(weight))
	return nil
}

func writeCompactECDSA(buf *bytes.Buffer, r, s common.Hash, yParity uint8) error {
	b, err := Compact(r, s, yParity)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func writeLength(buf *bytes.Buffer, n int, width int) error {
	if n < 0 || uint64(n) >= 1<<(8*uint(width)) {
		return fmt.Errorf("%w: length %d does not fit %d bytes", domain.ErrUnencodable, n, width)
	}
	writeUint(buf, uint64(n), width)
	return nil
}

func writeUint(buf *bytes.Buffer, v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

// minWidth is the number of bytes needed to hold v; zero needs none
func minWidth(v uint64) int {
	w := 0
	for v > 0 {
		w++
		v >>= 8
	}
	return w
}
