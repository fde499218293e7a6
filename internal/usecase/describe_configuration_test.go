package usecase

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

func TestDescribeConfiguration_Run(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	b := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	module := common.HexToAddress("0x0000000000000000000000000000000000005e55")

	tests := []struct {
		name          string
		cfg           *topology.Config
		wantReachable bool
		wantMax       uint64
		wantErr       error
	}{
		{
			name: "reachable",
			cfg: &topology.Config{
				Threshold:  2,
				Checkpoint: 7,
				Topology: topology.Node{
					Left:  topology.SignerLeaf{Address: a, Weight: 1},
					Right: topology.SapientSignerLeaf{Address: module, Weight: 1, ImageHash: common.HexToHash("0x01")},
				},
			},
			wantReachable: true,
			wantMax:       2,
		},
		{
			name: "unreachable is reported",
			cfg: &topology.Config{
				Threshold: 5,
				Topology: topology.Node{
					Left:  topology.SignerLeaf{Address: a, Weight: 1},
					Right: topology.SignerLeaf{Address: b, Weight: 2},
				},
			},
			wantMax: 3,
		},
		{
			name:    "zero threshold",
			cfg:     &topology.Config{Topology: topology.SignerLeaf{Address: a, Weight: 1}},
			wantErr: domain.ErrInvalidConfiguration,
		},
	}

	uc := NewDescribeConfiguration()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := uc.Run(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			imageHash, err := tt.cfg.ImageHash()
			require.NoError(t, err)
			assert.Equal(t, imageHash, desc.ImageHash)
			assert.Equal(t, tt.wantReachable, desc.Reachable)
			assert.Equal(t, tt.wantMax, desc.MaxWeight)
			assert.Equal(t, tt.cfg.Checkpoint, desc.Checkpoint)
			assert.Equal(t, topology.SignerAddresses(tt.cfg.Topology), desc.Signers)
		})
	}
}
