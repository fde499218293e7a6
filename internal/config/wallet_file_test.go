package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
)

const (
	walletAddr  = "0x000000000000000000000000000000000000bEEF"
	managerAddr = "0x0000000000000000000000000000000000005e55"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadWalletFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadWalletFile(t.TempDir())
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("expands env from .env", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ".env", "WALLET_TEST_DEPLOYER_KEY=0xabc\nWALLET_TEST_GUARD_TOKEN=sekret\n")
		writeFile(t, dir, WalletFileName, `
[wallet]
address = "`+walletAddr+`"
chain_id = 10
prune = false

[session]
manager = "`+managerAddr+`"
usage_base_slot = "0x02"

[signers.deployer]
type = "private_key"
private_key = "${WALLET_TEST_DEPLOYER_KEY}"
scheme = "eth_sign"

[signers.guard]
type = "guard"
address = "`+managerAddr+`"
url = "https://guard.example"
token = "${WALLET_TEST_GUARD_TOKEN}"

[signers.inner]
type = "nested"
address = "0x00000000000000000000000000000000000000a1"
config = "inner.json"
signers = ["deployer"]
`)
		t.Cleanup(func() {
			os.Unsetenv("WALLET_TEST_DEPLOYER_KEY")
			os.Unsetenv("WALLET_TEST_GUARD_TOKEN")
		})

		cfg, err := LoadWalletFile(dir)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, uint64(10), cfg.Wallet.ChainID)
		assert.False(t, cfg.PruneSignatures())
		assert.Equal(t, "0xabc", cfg.Signers["deployer"].PrivateKey)
		assert.Equal(t, "eth_sign", cfg.Signers["deployer"].Scheme)
		assert.Equal(t, "sekret", cfg.Signers["guard"].Token)
		assert.Equal(t, []string{"deployer"}, cfg.Signers["inner"].Signers)
		assert.Equal(t, "0x02", cfg.Session.UsageBaseSlot)
	})

	t.Run("parse error", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, WalletFileName, "[wallet\n")
		_, err := LoadWalletFile(dir)
		assert.ErrorContains(t, err, "failed to parse")
	})
}

func TestValidateWalletFile(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.WalletFileConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg: config.WalletFileConfig{
				Session: config.SessionSection{Manager: managerAddr},
				Signers: map[string]config.SignerConfig{
					"a": {Type: config.SignerTypePrivateKey, PrivateKey: "0x01"},
					"s": {Type: config.SignerTypeSession, PrivateKey: "0x02", Permissions: "session.json"},
					"n": {Type: config.SignerTypeNested, Address: walletAddr, Config: "n.json", Signers: []string{"a"}},
				},
			},
		},
		{
			name:    "bad wallet address",
			cfg:     config.WalletFileConfig{Wallet: config.WalletSection{Address: "wallet"}},
			wantErr: "wallet.address",
		},
		{
			name:    "bad manager",
			cfg:     config.WalletFileConfig{Session: config.SessionSection{Manager: "0x1"}},
			wantErr: "session.manager",
		},
		{
			name:    "missing type",
			cfg:     config.WalletFileConfig{Signers: map[string]config.SignerConfig{"a": {PrivateKey: "0x01"}}},
			wantErr: "type is required",
		},
		{
			name:    "unknown type",
			cfg:     config.WalletFileConfig{Signers: map[string]config.SignerConfig{"a": {Type: "ledger"}}},
			wantErr: `unknown type "ledger"`,
		},
		{
			name:    "private key missing",
			cfg:     config.WalletFileConfig{Signers: map[string]config.SignerConfig{"a": {Type: config.SignerTypePrivateKey}}},
			wantErr: "private_key is required",
		},
		{
			name:    "guard without url",
			cfg:     config.WalletFileConfig{Signers: map[string]config.SignerConfig{"g": {Type: config.SignerTypeGuard, Address: walletAddr}}},
			wantErr: "address and url are required",
		},
		{
			name:    "session without manager",
			cfg:     config.WalletFileConfig{Signers: map[string]config.SignerConfig{"s": {Type: config.SignerTypeSession, PrivateKey: "0x02", Permissions: "p.json"}}},
			wantErr: "session.manager is required",
		},
		{
			name: "nested unknown ref",
			cfg: config.WalletFileConfig{Signers: map[string]config.SignerConfig{
				"n": {Type: config.SignerTypeNested, Address: walletAddr, Config: "n.json", Signers: []string{"ghost"}},
			}},
			wantErr: `unknown signer "ghost"`,
		},
		{
			name: "nested cycle",
			cfg: config.WalletFileConfig{Signers: map[string]config.SignerConfig{
				"x": {Type: config.SignerTypeNested, Address: walletAddr, Config: "x.json", Signers: []string{"y"}},
				"y": {Type: config.SignerTypeNested, Address: managerAddr, Config: "y.json", Signers: []string{"x"}},
			}},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWalletFile(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
