package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func ecdsa(seed byte, parity uint8) HashSignature {
	r := common.BytesToHash(bytes.Repeat([]byte{seed}, 32))
	s := common.BytesToHash(bytes.Repeat([]byte{seed}, 32))
	s[0] &= 0x7f
	return HashSignature{R: r, S: s, YParity: parity}
}

func ethSign(seed byte, parity uint8) EthSignSignature {
	h := ecdsa(seed, parity)
	return EthSignSignature{R: h.R, S: h.S, YParity: h.YParity}
}

func unsigned(addr common.Address, weight uint64) RawLeaf {
	return RawLeaf{Leaf: topology.SignerLeaf{Address: addr, Weight: weight}}
}

func roundTripCases() map[string]*RawSignature {
	checkpointer := common.HexToAddress("0xc0ffee0000000000000000000000000000000000")

	return map[string]*RawSignature{
		"single unsigned leaf": {
			Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 1)},
		},
		"weights needing a trailing byte": {
			Configuration: RawConfiguration{
				Threshold: 300,
				Topology: RawNode{
					Left:  unsigned(alice, 0),
					Right: RawNode{Left: unsigned(bob, 15), Right: unsigned(carol, 255)},
				},
			},
		},
		"all leaf kinds": {
			NoChainID: true,
			Configuration: RawConfiguration{
				Threshold:  2,
				Checkpoint: 1<<48 + 5,
				Topology: RawNode{
					Left: RawNode{
						Left: RawNode{
							Left:  RawSignerLeaf{Weight: 1, Signature: ecdsa(0x11, 0)},
							Right: RawSignerLeaf{Weight: 200, Signature: ethSign(0x22, 1)},
						},
						Right: RawNode{
							Left:  RawSignerLeaf{Address: carol, Weight: 3, Signature: ERC1271Signature{Data: []byte{0xde, 0xad}}},
							Right: RawSignerLeaf{Address: bob, Weight: 4, Signature: ERC1271Signature{}},
						},
					},
					Right: RawNode{
						Left: RawNode{
							Left:  RawLeaf{Leaf: topology.NodeLeaf{Hash: common.HexToHash("0x01")}},
							Right: RawLeaf{Leaf: topology.SubdigestLeaf{Digest: common.HexToHash("0x02")}},
						},
						Right: RawNode{
							Left: RawLeaf{Leaf: topology.AnyAddressSubdigestLeaf{Digest: common.HexToHash("0x03")}},
							Right: RawNode{
								Left:  RawLeaf{Leaf: topology.SapientSignerLeaf{Address: alice, Weight: 2, ImageHash: common.HexToHash("0x04")}},
								Right: RawSapientSignerLeaf{Address: bob, Weight: 9, ImageHash: common.HexToHash("0x05"), Signature: SapientSignature{Data: bytes.Repeat([]byte{0xab}, 300)}},
							},
						},
					},
				},
			},
		},
		"nested thresholds": {
			Configuration: RawConfiguration{
				Threshold: 1,
				Topology: RawNode{
					Left: RawNestedLeaf{
						Tree:      RawNode{Left: RawSignerLeaf{Weight: 1, Signature: ecdsa(0x33, 1)}, Right: unsigned(bob, 1)},
						Weight:    2,
						Threshold: 3,
					},
					Right: RawNode{
						Left: RawNestedLeaf{
							Tree:      RawNestedLeaf{Tree: unsigned(carol, 1), Weight: 0, Threshold: 0},
							Weight:    16,
							Threshold: 65535,
						},
						Right: RawSapientSignerLeaf{Address: carol, Weight: 1, ImageHash: common.HexToHash("0x06"), Signature: SapientCompactSignature{Data: []byte{0x01}}},
					},
				},
			},
		},
		"checkpointer with data": {
			CheckpointerData: []byte{0x01, 0x02, 0x03},
			Configuration: RawConfiguration{
				Threshold:    1,
				Checkpoint:   7,
				Checkpointer: &checkpointer,
				Topology:     RawSignerLeaf{Weight: 1, Signature: ecdsa(0x44, 0)},
			},
		},
		"suffix signatures": {
			Configuration: RawConfiguration{Threshold: 1, Topology: RawSignerLeaf{Weight: 1, Signature: ecdsa(0x55, 0)}},
			Suffix: []RawSignature{
				{Configuration: RawConfiguration{Threshold: 2, Checkpoint: 1, Topology: unsigned(alice, 2)}},
				{NoChainID: true, Configuration: RawConfiguration{Threshold: 3, Checkpoint: 2, Topology: unsigned(bob, 3)}},
			},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for name, sig := range roundTripCases() {
		t.Run(name, func(t *testing.T) {
			enc, err := Encode(sig)
			require.NoError(t, err)

			dec, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, sig, dec)

			again, err := Encode(dec)
			require.NoError(t, err)
			assert.Equal(t, enc, again)
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	node := common.HexToHash("0xff")
	sig := &RawSignature{
		Configuration: RawConfiguration{
			Threshold:  1,
			Checkpoint: 0x0102,
			Topology:   RawNode{Left: unsigned(alice, 1), Right: RawLeaf{Leaf: topology.NodeLeaf{Hash: node}}},
		},
	}

	enc, err := Encode(sig)
	require.NoError(t, err)

	var want []byte
	want = append(want, 0x08, 0x01, 0x02, 0x01)
	want = append(want, 0x11)
	want = append(want, alice.Bytes()...)
	want = append(want, 0x30)
	want = append(want, node.Bytes()...)
	assert.Equal(t, want, enc)

	t.Run("right pair is wrapped in a branch", func(t *testing.T) {
		tree := RawNode{
			Left:  unsigned(alice, 1),
			Right: RawNode{Left: unsigned(bob, 1), Right: unsigned(carol, 1)},
		}
		enc, err := EncodeTopology(tree)
		require.NoError(t, err)

		require.Len(t, enc, 21+2+42)
		assert.Equal(t, byte(0x41), enc[21])
		assert.Equal(t, byte(42), enc[22])
	})

	t.Run("yParity is folded into s", func(t *testing.T) {
		h := ecdsa(0x01, 1)
		enc, err := EncodeTopology(RawSignerLeaf{Weight: 1, Signature: h})
		require.NoError(t, err)
		require.Len(t, enc, 65)
		assert.Equal(t, byte(0x01), enc[0])
		assert.Equal(t, byte(0x81), enc[33])
	})
}

func TestEncode_Rejects(t *testing.T) {
	highS := ecdsa(0x01, 0)
	highS.S[0] |= 0x80

	tests := []struct {
		name string
		sig  *RawSignature
	}{
		{"nil", nil},
		{"threshold overflow", &RawSignature{Configuration: RawConfiguration{Threshold: 1 << 16, Topology: unsigned(alice, 1)}}},
		{"checkpoint overflow", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Checkpoint: 1 << 56, Topology: unsigned(alice, 1)}}},
		{"weight overflow", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 256)}}},
		{"nested threshold overflow", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: RawNestedLeaf{Tree: unsigned(alice, 1), Weight: 1, Threshold: 1 << 16}}}},
		{"high s", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: RawSignerLeaf{Weight: 1, Signature: highS}}}},
		{"empty sapient data", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: RawSapientSignerLeaf{Address: alice, Weight: 1, Signature: SapientSignature{}}}}},
		{"sapient signature on signer", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: RawSignerLeaf{Address: alice, Weight: 1, Signature: SapientSignature{Data: []byte{1}}}}}},
		{"raw leaf wrapping nested", &RawSignature{Configuration: RawConfiguration{Threshold: 1, Topology: RawLeaf{Leaf: topology.NestedLeaf{Tree: topology.SignerLeaf{Address: alice, Weight: 1}}}}}},
		{"nil topology", &RawSignature{Configuration: RawConfiguration{Threshold: 1}}},
		{"checkpointer data without checkpointer", &RawSignature{CheckpointerData: []byte{1}, Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 1)}}},
		{"nested suffix", &RawSignature{
			Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 1)},
			Suffix: []RawSignature{{
				Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 1)},
				Suffix:        []RawSignature{{Configuration: RawConfiguration{Threshold: 1, Topology: unsigned(alice, 1)}}},
			}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.sig)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrUnencodable), "unexpected error: %v", err)
		})
	}
}

func TestDecode_StructuralErrors(t *testing.T) {
	valid, err := Encode(roundTripCases()["all leaf kinds"])
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"header only", []byte{0x00}},
		{"truncated threshold", []byte{0x20, 0x01}},
		{"truncated address", append([]byte{0x00, 0x01, 0x11}, alice.Bytes()[:10]...)},
		{"truncated signature", valid[:len(valid)-1]},
		{"branch length past end", []byte{0x00, 0x01, 0x41, 0x05, 0x30}},
		{"branch with zero width", []byte{0x00, 0x01, 0x40}},
		{"reserved header bit", []byte{0x80, 0x01, 0x30}},
		{"chained header with extra bits", []byte{0x03, 0x00, 0x00, 0x01, 0x00}},
		{"empty chained block", []byte{0x01, 0x00, 0x00, 0x00}},
		{"compact sapient without data", append(append([]byte{0x00, 0x01, 0xa1}, alice.Bytes()...), make([]byte, 32)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			var structural *domain.StructuralDecodeError
			assert.True(t, errors.As(err, &structural), "unexpected error: %v", err)
		})
	}
}

func TestDecode_UnknownDiscriminator(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0xb0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownLeafType))

	var structural *domain.StructuralDecodeError
	assert.False(t, errors.As(err, &structural))
}

func TestDecode_SuffixOrderIsPreserved(t *testing.T) {
	sig := roundTripCases()["suffix signatures"]
	sig.Suffix[0], sig.Suffix[1] = sig.Suffix[1], sig.Suffix[0]

	enc, err := Encode(sig)
	require.NoError(t, err)
	dec, err := Decode(enc)
	require.NoError(t, err)

	require.Len(t, dec.Suffix, 2)
	assert.Equal(t, uint64(3), dec.Suffix[0].Configuration.Threshold)
	assert.Equal(t, uint64(2), dec.Suffix[1].Configuration.Threshold)
	assert.Equal(t, byte(headerChained), enc[0])
}

func TestFillAndTrim_PreserveImageHash(t *testing.T) {
	tree, err := topology.FromLeaves(
		topology.SignerLeaf{Address: alice, Weight: 1},
		topology.SignerLeaf{Address: bob, Weight: 1},
		topology.NestedLeaf{
			Tree:      topology.Node{Left: topology.SignerLeaf{Address: carol, Weight: 1}, Right: topology.SubdigestLeaf{Digest: common.HexToHash("0x09")}},
			Weight:    1,
			Threshold: 1,
		},
		topology.SapientSignerLeaf{Address: carol, Weight: 1, ImageHash: common.HexToHash("0x0a")},
	)
	require.NoError(t, err)
	want, err := topology.Hash(tree)
	require.NoError(t, err)

	raw, err := FillLeaves(tree, map[common.Address]Signature{alice: ecdsa(0x01, 0)})
	require.NoError(t, err)

	trimmed, err := TrimRaw(raw)
	require.NoError(t, err)

	back, err := ToTopology(trimmed)
	require.NoError(t, err)
	got, err := topology.Hash(back)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, []common.Address{alice}, topology.Signers(back))

	var signed int
	Signed(trimmed, func(RawTopology) { signed++ })
	assert.Equal(t, 1, signed)

	t.Run("mismatched scheme is rejected", func(t *testing.T) {
		_, err := FillLeaves(tree, map[common.Address]Signature{alice: SapientSignature{Data: []byte{1}}})
		assert.True(t, errors.Is(err, domain.ErrUnencodable))
	})
}

func TestRawSignatureJSON_RoundTrip(t *testing.T) {
	for name, sig := range roundTripCases() {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(sig)
			require.NoError(t, err)

			var restored RawSignature
			require.NoError(t, json.Unmarshal(data, &restored))
			assert.Equal(t, sig, &restored)
		})
	}
}
