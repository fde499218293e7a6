package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
)

func TestLocalConfigStoreAdapter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content *string
		want    *config.LocalConfig
		wantErr bool
	}{
		{name: "missing file gives defaults", want: config.DefaultLocalConfig()},
		{name: "empty file gives defaults", content: ptr(""), want: config.DefaultLocalConfig()},
		{
			name:    "stored selection",
			content: ptr(`{"wallet":"0x000000000000000000000000000000000000beef","signers":"alice,bob"}`),
			want:    &config.LocalConfig{Wallet: "0x000000000000000000000000000000000000beef", Signers: "alice,bob"},
		},
		{name: "invalid json", content: ptr("{"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewLocalConfigStoreAdapter(&config.RuntimeConfig{DataDir: dir})
			if tt.content != nil {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json"), []byte(*tt.content), 0644))
			}

			got, err := store.Load(ctx)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("save then load", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), ".treb")
		store := NewLocalConfigStoreAdapter(&config.RuntimeConfig{DataDir: dir})
		assert.False(t, store.Exists())

		cfg := config.DefaultLocalConfig()
		cfg.Set(config.ConfigKeyNetwork, "http://localhost:8545")
		require.NoError(t, store.Save(ctx, cfg))
		assert.True(t, store.Exists())
		assert.Equal(t, filepath.Join(dir, "config.local.json"), store.GetPath())

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8545", loaded.Get(config.ConfigKeyNetwork))
	})
}

func ptr(s string) *string { return &s }
