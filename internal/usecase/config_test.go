package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
)

type mockLocalConfigRepository struct {
	mock.Mock
}

func (m *mockLocalConfigRepository) Exists() bool {
	return m.Called().Bool(0)
}

func (m *mockLocalConfigRepository) Load(ctx context.Context) (*config.LocalConfig, error) {
	args := m.Called(ctx)
	cfg, _ := args.Get(0).(*config.LocalConfig)
	return cfg, args.Error(1)
}

func (m *mockLocalConfigRepository) Save(ctx context.Context, cfg *config.LocalConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *mockLocalConfigRepository) GetPath() string {
	return m.Called().String(0)
}

func TestSetConfig_Run(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		want    config.LocalConfig
		wantKey config.ConfigKey
		wantErr string
	}{
		{
			name:    "wallet",
			key:     "wallet",
			value:   "0x000000000000000000000000000000000000bEEF",
			want:    config.LocalConfig{Wallet: "0x000000000000000000000000000000000000bEEF"},
			wantKey: config.ConfigKeyWallet,
		},
		{
			name:    "alias and case",
			key:     "RPC",
			value:   "http://localhost:8545",
			want:    config.LocalConfig{Network: "http://localhost:8545"},
			wantKey: config.ConfigKeyNetwork,
		},
		{
			name:    "signers",
			key:     "s",
			value:   "deployer,guard",
			want:    config.LocalConfig{Signers: "deployer,guard"},
			wantKey: config.ConfigKeySigners,
		},
		{
			name:    "unknown key",
			key:     "namespace",
			value:   "x",
			wantErr: "unknown config key: namespace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockLocalConfigRepository{}
			if tt.wantErr == "" {
				store.On("Load", mock.Anything).Return(config.DefaultLocalConfig(), nil)
				store.On("Save", mock.Anything, mock.MatchedBy(func(c *config.LocalConfig) bool {
					return *c == tt.want
				})).Return(nil)
				store.On("GetPath").Return("/work/.treb/config.local.json")
			}

			res, err := NewSetConfig(store).Run(context.Background(), SetConfigParams{Key: tt.key, Value: tt.value})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, res.Key)
			assert.Equal(t, "/work/.treb/config.local.json", res.ConfigPath)
			store.AssertExpectations(t)
		})
	}
}

func TestRemoveConfig_Run(t *testing.T) {
	t.Run("clears the value", func(t *testing.T) {
		store := &mockLocalConfigRepository{}
		store.On("Exists").Return(true)
		store.On("Load", mock.Anything).Return(&config.LocalConfig{Wallet: "0xbeef", Network: "http://a"}, nil)
		store.On("Save", mock.Anything, &config.LocalConfig{Network: "http://a"}).Return(nil)
		store.On("GetPath").Return("/work/.treb/config.local.json")

		res, err := NewRemoveConfig(store).Run(context.Background(), RemoveConfigParams{Key: "w"})
		require.NoError(t, err)
		assert.Equal(t, config.ConfigKeyWallet, res.Key)
		assert.Equal(t, "0xbeef", res.RemovedValue)
		store.AssertExpectations(t)
	})

	t.Run("no config file", func(t *testing.T) {
		store := &mockLocalConfigRepository{}
		store.On("Exists").Return(false)
		store.On("GetPath").Return("/nowhere/.treb/config.local.json")

		_, err := NewRemoveConfig(store).Run(context.Background(), RemoveConfigParams{Key: "wallet"})
		assert.ErrorContains(t, err, "no config file found")
	})
}

func TestShowConfig_Run(t *testing.T) {
	store := &mockLocalConfigRepository{}
	store.On("Exists").Return(true)
	store.On("Load", mock.Anything).Return(&config.LocalConfig{Signers: "deployer"}, nil)
	store.On("GetPath").Return("/work/.treb/config.local.json")
	runtime := &config.RuntimeConfig{ProjectRoot: "/work"}

	res, err := NewShowConfig(store, runtime).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "deployer", res.Local.Signers)
	assert.Same(t, runtime, res.Runtime)
}
