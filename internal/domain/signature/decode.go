package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// Decode parses a wire-form signature. It reconstructs the typed tree only and never
// recovers signer addresses; the whole input must be consumed.
func Decode(data []byte) (*RawSignature, error) {
	if len(data) == 0 {
		return nil, structural(0, "empty signature")
	}
	if data[0]&headerChained == 0 {
		return decodeSingle(data, 0)
	}
	if data[0] != headerChained {
		return nil, structural(0, fmt.Sprintf("chained header 0x%02x has extra bits set", data[0]))
	}

	c := &cursor{data: data, off: 1}
	var blocks []*RawSignature
	for c.remaining() > 0 {
		start := c.off
		block, err := c.sized(3, "signature block")
		if err != nil {
			return nil, err
		}
		if len(block) == 0 {
			return nil, structural(start, "empty signature block")
		}
		if block[0]&headerChained != 0 {
			return nil, structural(start+3, "chained signature inside a chain")
		}
		sig, err := decodeSingle(block, start+3)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, sig)
	}
	if len(blocks) == 0 {
		return nil, structural(1, "chained signature without blocks")
	}

	primary := blocks[0]
	for _, s := range blocks[1:] {
		primary.Suffix = append(primary.Suffix, *s)
	}
	return primary, nil
}

func decodeSingle(data []byte, base int) (*RawSignature, error) {
	c := &cursor{data: data, base: base}
	header, err := c.readByte("header")
	if err != nil {
		return nil, err
	}
	if header&headerReserved != 0 {
		return nil, structural(base, fmt.Sprintf("reserved header bit set in 0x%02x", header))
	}

	sig := &RawSignature{NoChainID: header&headerNoChainID != 0}
	if header&headerCheckpointer != 0 {
		addr, err := c.address("checkpointer")
		if err != nil {
			return nil, err
		}
		sig.Configuration.Checkpointer = &addr
		if sig.CheckpointerData, err = c.sized(3, "checkpointer data"); err != nil {
			return nil, err
		}
	}

	checkpointWidth := int(header&headerCheckpointMask) >> 2
	if sig.Configuration.Checkpoint, err = c.readUint(checkpointWidth, "checkpoint"); err != nil {
		return nil, err
	}
	thresholdWidth := 1
	if header&headerThreshold16 != 0 {
		thresholdWidth = 2
	}
	if sig.Configuration.Threshold, err = c.readUint(thresholdWidth, "threshold"); err != nil {
		return nil, err
	}

	tree, _, err := DecodeTopology(data[c.off:], base+c.off)
	if err != nil {
		return nil, err
	}
	sig.Configuration.Topology = tree
	return sig, nil
}

// DecodeTopology parses a header-less tree occupying all of data and returns the
// tree with the number of bytes consumed. base offsets error positions.
func DecodeTopology(data []byte, base int) (RawTopology, int, error) {
	if len(data) == 0 {
		return nil, 0, structural(base, "empty tree")
	}

	var acc RawTopology
	off := 0
	for off < len(data) {
		item, n, err := decodeItem(data[off:], base+off)
		if err != nil {
			return nil, 0, err
		}
		off += n
		if acc == nil {
			acc = item
		} else {
			acc = RawNode{Left: acc, Right: item}
		}
	}
	return acc, off, nil
}

func decodeItem(data []byte, base int) (RawTopology, int, error) {
	c := &cursor{data: data, base: base}
	first, err := c.readByte("item flag")
	if err != nil {
		return nil, 0, err
	}
	flag, low := first>>4, first&0x0f

	var item RawTopology
	switch flag {
	case flagHash, flagEthSign:
		weight, err := c.weight(uint64(low), "signer weight")
		if err != nil {
			return nil, 0, err
		}
		r, err := c.hash("r")
		if err != nil {
			return nil, 0, err
		}
		s, err := c.hash("yParityAndS")
		if err != nil {
			return nil, 0, err
		}
		yParity := s[0] >> 7
		s[0] &= 0x7f
		if flag == flagHash {
			item = RawSignerLeaf{Weight: weight, Signature: HashSignature{R: r, S: s, YParity: yParity}}
		} else {
			item = RawSignerLeaf{Weight: weight, Signature: EthSignSignature{R: r, S: s, YParity: yParity}}
		}

	case flagAddress:
		weight, err := c.weight(uint64(low), "signer weight")
		if err != nil {
			return nil, 0, err
		}
		addr, err := c.address("signer address")
		if err != nil {
			return nil, 0, err
		}
		item = RawLeaf{Leaf: topology.SignerLeaf{Address: addr, Weight: weight}}

	case flagERC1271:
		weight, err := c.weight(uint64(low&0x03), "erc1271 weight")
		if err != nil {
			return nil, 0, err
		}
		addr, err := c.address("erc1271 address")
		if err != nil {
			return nil, 0, err
		}
		sigData, err := c.sized(int(low>>2), "erc1271 signature")
		if err != nil {
			return nil, 0, err
		}
		item = RawSignerLeaf{Address: addr, Weight: weight, Signature: ERC1271Signature{Data: sigData}}

	case flagNode:
		h, err := c.hash("node hash")
		if err != nil {
			return nil, 0, err
		}
		item = RawLeaf{Leaf: topology.NodeLeaf{Hash: h}}

	case flagBranch:
		if low == 0 || low > 3 {
			return nil, 0, structural(base, fmt.Sprintf("invalid branch length width %d", low))
		}
		start := c.off
		content, err := c.sized(int(low), "branch")
		if err != nil {
			return nil, 0, err
		}
		if item, _, err = DecodeTopology(content, base+start+int(low)); err != nil {
			return nil, 0, err
		}

	case flagSubdigest, flagAnyAddress:
		d, err := c.hash("subdigest")
		if err != nil {
			return nil, 0, err
		}
		if flag == flagSubdigest {
			item = RawLeaf{Leaf: topology.SubdigestLeaf{Digest: d}}
		} else {
			item = RawLeaf{Leaf: topology.AnyAddressSubdigestLeaf{Digest: d}}
		}

	case flagNested:
		weight, err := c.weight(uint64(low&0x03), "nested weight")
		if err != nil {
			return nil, 0, err
		}
		threshold := uint64(low >> 2)
		if threshold == 0 {
			if threshold, err = c.readUint(2, "nested threshold"); err != nil {
				return nil, 0, err
			}
		}
		start := c.off
		content, err := c.sized(3, "nested tree")
		if err != nil {
			return nil, 0, err
		}
		tree, _, err := DecodeTopology(content, base+start+3)
		if err != nil {
			return nil, 0, err
		}
		item = RawNestedLeaf{Tree: tree, Weight: weight, Threshold: threshold}

	case flagSapient, flagSapientCompact:
		weight, err := c.weight(uint64(low&0x03), "sapient weight")
		if err != nil {
			return nil, 0, err
		}
		addr, err := c.address("sapient address")
		if err != nil {
			return nil, 0, err
		}
		imageHash, err := c.hash("sapient image hash")
		if err != nil {
			return nil, 0, err
		}
		width := int(low >> 2)
		if width == 0 {
			if flag == flagSapientCompact {
				return nil, 0, structural(base, "compact sapient item without signature")
			}
			item = RawLeaf{Leaf: topology.SapientSignerLeaf{Address: addr, Weight: weight, ImageHash: imageHash}}
			break
		}
		sigData, err := c.sized(width, "sapient signature")
		if err != nil {
			return nil, 0, err
		}
		if len(sigData) == 0 {
			return nil, 0, structural(base, "empty sapient signature")
		}
		var sig Signature = SapientSignature{Data: sigData}
		if flag == flagSapientCompact {
			sig = SapientCompactSignature{Data: sigData}
		}
		item = RawSapientSignerLeaf{Address: addr, Weight: weight, ImageHash: imageHash, Signature: sig}

	default:
		return nil, 0, fmt.Errorf("%w: discriminator 0x%x at byte %d", domain.ErrUnknownLeafType, flag, base)
	}
	return item, c.off, nil
}

// cursor reads fixed and length-prefixed fields from one item
type cursor struct {
	data []byte
	off  int
	base int
}

func (c *cursor) remaining() int {
	return len(c.data) - c.off
}

func (c *cursor) take(n int, what string) ([]byte, error) {
	if n > c.remaining() {
		return nil, structural(c.base+c.off, fmt.Sprintf("truncated %s: need %d bytes, have %d", what, n, c.remaining()))
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) readByte(what string) (byte, error) {
	b, err := c.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readUint(width int, what string) (uint64, error) {
	b, err := c.take(width, what)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

// weight returns inline when it is non-zero, otherwise reads a trailing weight byte
func (c *cursor) weight(inline uint64, what string) (uint64, error) {
	if inline != 0 {
		return inline, nil
	}
	b, err := c.readByte(what)
	return uint64(b), err
}

func (c *cursor) address(what string) (common.Address, error) {
	b, err := c.take(common.AddressLength, what)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

func (c *cursor) hash(what string) (common.Hash, error) {
	b, err := c.take(common.HashLength, what)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}

// sized reads a width-byte length prefix and then that many bytes. A zero length
// yields nil.
func (c *cursor) sized(width int, what string) ([]byte, error) {
	prefixAt := c.off
	n, err := c.readUint(width, what+" length")
	if err != nil {
		return nil, err
	}
	if n > uint64(c.remaining()) {
		return nil, structural(c.base+prefixAt, fmt.Sprintf("%s length %d exceeds remaining %d bytes", what, n, c.remaining()))
	}
	if n == 0 {
		return nil, nil
	}
	b, _ := c.take(int(n), what)
	return common.CopyBytes(b), nil
}

func structural(offset int, reason string) error {
	return &domain.StructuralDecodeError{Offset: offset, Reason: reason}
}
