package topology

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigJSON_RoundTrip(t *testing.T) {
	checkpointer := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")

	configs := []*Config{
		{
			Threshold:  1,
			Checkpoint: 0,
			Topology:   SignerLeaf{Address: alice, Weight: 1},
		},
		{
			Threshold:    3,
			Checkpoint:   1 << 40,
			Checkpointer: &checkpointer,
			Topology: Node{
				Left: Node{
					Left:  SignerLeaf{Address: alice, Weight: 2},
					Right: SapientSignerLeaf{Address: bob, Weight: 1, ImageHash: common.HexToHash("0xfeed")},
				},
				Right: Node{
					Left: NestedLeaf{
						Tree:      Node{Left: SignerLeaf{Address: carol, Weight: 1}, Right: NodeLeaf{Hash: common.HexToHash("0x01")}},
						Weight:    4,
						Threshold: 1,
					},
					Right: Node{
						Left:  SubdigestLeaf{Digest: common.HexToHash("0x02")},
						Right: AnyAddressSubdigestLeaf{Digest: common.HexToHash("0x03")},
					},
				},
			},
		},
	}

	for _, cfg := range configs {
		data, err := json.Marshal(cfg)
		require.NoError(t, err)

		restored, err := ConfigFromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, cfg, restored)

		want, err := cfg.ImageHash()
		require.NoError(t, err)
		got, err := restored.ImageHash()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConfigJSON_Format(t *testing.T) {
	cfg := Config{
		Threshold:  2,
		Checkpoint: 5,
		Topology:   Node{Left: SignerLeaf{Address: common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), Weight: 1}, Right: NodeLeaf{Hash: common.HexToHash("0xff")}},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"threshold": "2",
		"checkpoint": "5",
		"topology": [
			{"type": "signer", "address": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "weight": "1"},
			{"type": "node", "hash": "0x00000000000000000000000000000000000000000000000000000000000000ff"}
		]
	}`, string(data))
}

func TestFromJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"unknown type", `{"type":"mystery"}`},
		{"pair with three children", `[{"type":"node","hash":"0x0000000000000000000000000000000000000000000000000000000000000001"},{"type":"node","hash":"0x0000000000000000000000000000000000000000000000000000000000000001"},{"type":"node","hash":"0x0000000000000000000000000000000000000000000000000000000000000001"}]`},
		{"signer without weight", `{"type":"signer","address":"0x1111111111111111111111111111111111111111"}`},
		{"short hash", `{"type":"node","hash":"0x01"}`},
		{"bad address", `{"type":"signer","address":"0x11","weight":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestConfigJSON_AcceptsBareNumbers(t *testing.T) {
	cfg, err := ConfigFromJSON([]byte(`{"threshold":1,"checkpoint":2,"topology":{"type":"signer","address":"0x1111111111111111111111111111111111111111","weight":3}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.Threshold)
	assert.Equal(t, uint64(2), cfg.Checkpoint)
	assert.Equal(t, SignerLeaf{Address: alice, Weight: 3}, cfg.Topology)
}
