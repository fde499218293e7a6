package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/wire"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
)

// ConfigSet provides the runtime configuration
var ConfigSet = wire.NewSet(
	Provider,
)

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	projectRoot := v.GetString("project_root")
	if projectRoot == "" {
		var err error
		projectRoot, err = FindProjectRoot()
		if err != nil {
			return nil, fmt.Errorf("failed to find project root: %w", err)
		}
	}

	cfg := &config.RuntimeConfig{
		ProjectRoot:    projectRoot,
		DataDir:        filepath.Join(projectRoot, ".treb"),
		Debug:          v.GetBool("debug"),
		NonInteractive: v.GetBool("non_interactive"),
		JSON:           v.GetBool("json"),
		Timeout:        v.GetDuration("timeout"),
	}

	wallet, err := LoadWalletFile(projectRoot)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		cfg.ConfigSource = WalletFileName
	} else {
		wallet = &config.WalletFileConfig{Signers: map[string]config.SignerConfig{}}
	}
	cfg.Wallet = wallet

	// Local config and flags override wallet.toml
	if addr := v.GetString("wallet"); addr != "" {
		wallet.Wallet.Address = addr
	}
	if s := v.GetString("signers"); s != "" {
		cfg.Signers = lo.Compact(lo.Map(strings.Split(s, ","), func(name string, _ int) string {
			return strings.TrimSpace(name)
		}))
	}

	rpcURL := v.GetString("network")
	if rpcURL == "" {
		rpcURL = wallet.Wallet.RPCURL
	}
	chainID := v.GetUint64("chain_id")
	if chainID == 0 {
		chainID = wallet.Wallet.ChainID
	}
	if rpcURL != "" || chainID != 0 {
		cfg.Network = &config.Network{
			ChainID: chainID,
			Name:    networkName(rpcURL),
			RPCURL:  rpcURL,
		}
	}

	return cfg, nil
}

// FindProjectRoot walks up from the current directory to the first directory that
// holds wallet.toml or a .treb directory. Outside a project the current directory
// is used.
func FindProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; {
		if _, err := os.Stat(filepath.Join(dir, WalletFileName)); err == nil {
			return dir, nil
		}
		if info, err := os.Stat(filepath.Join(dir, ".treb")); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

// SetupViper creates and configures a viper instance
func SetupViper(projectRoot string) *viper.Viper {
	v := viper.New()

	// .treb/config.local.json holds per-checkout overrides
	v.SetConfigName("config.local")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(projectRoot, ".treb"))

	v.SetEnvPrefix("TREB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("timeout", "5m")
	v.SetDefault("debug", false)
	v.SetDefault("non_interactive", false)
	v.SetDefault("json", false)
	v.SetDefault("project_root", projectRoot)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	return v
}

func networkName(rpcURL string) string {
	if rpcURL == "" {
		return ""
	}
	name := rpcURL
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	if i := strings.IndexAny(name, "/?"); i >= 0 {
		name = name[:i]
	}
	return name
}
