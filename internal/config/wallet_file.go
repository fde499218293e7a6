package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
)

// WalletFileName is the project configuration file
const WalletFileName = "wallet.toml"

// loadDotEnv loads .env and .env.local from the project root so wallet.toml can
// reference secrets as ${VAR}
func loadDotEnv(projectRoot string) {
	envFiles := []string{
		filepath.Join(projectRoot, ".env"),
		filepath.Join(projectRoot, ".env.local"),
	}
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to load %s: %v\n", envFile, err)
			}
		}
	}
}

// LoadWalletFile loads and validates wallet.toml. Returns (nil, nil) if the file
// doesn't exist.
func LoadWalletFile(projectRoot string) (*config.WalletFileConfig, error) {
	path := filepath.Join(projectRoot, WalletFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	loadDotEnv(projectRoot)

	var cfg config.WalletFileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", WalletFileName, err)
	}
	expandWalletFile(&cfg)

	if err := ValidateWalletFile(&cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", WalletFileName, err)
	}
	return &cfg, nil
}

func expandWalletFile(cfg *config.WalletFileConfig) {
	cfg.Wallet.Address = os.ExpandEnv(cfg.Wallet.Address)
	cfg.Wallet.RPCURL = os.ExpandEnv(cfg.Wallet.RPCURL)
	cfg.Wallet.Config = os.ExpandEnv(cfg.Wallet.Config)
	cfg.Session.Manager = os.ExpandEnv(cfg.Session.Manager)
	cfg.Session.UsageBaseSlot = os.ExpandEnv(cfg.Session.UsageBaseSlot)

	if cfg.Signers == nil {
		cfg.Signers = make(map[string]config.SignerConfig)
	}
	for name, s := range cfg.Signers {
		s.Address = os.ExpandEnv(s.Address)
		s.PrivateKey = os.ExpandEnv(s.PrivateKey)
		s.URL = os.ExpandEnv(s.URL)
		s.Token = os.ExpandEnv(s.Token)
		s.Config = os.ExpandEnv(s.Config)
		s.Permissions = os.ExpandEnv(s.Permissions)
		cfg.Signers[name] = s
	}
}

// ValidateWalletFile checks addresses and the fields each signer type requires, and
// rejects nested signers that reference unknown signers or form a cycle
func ValidateWalletFile(cfg *config.WalletFileConfig) error {
	if a := cfg.Wallet.Address; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("wallet.address %q is not an address", a)
	}
	if m := cfg.Session.Manager; m != "" && !common.IsHexAddress(m) {
		return fmt.Errorf("session.manager %q is not an address", m)
	}

	names := lo.Keys(cfg.Signers)
	sort.Strings(names)
	for _, name := range names {
		if err := validateSigner(cfg, cfg.Signers[name]); err != nil {
			return fmt.Errorf("signer %q: %w", name, err)
		}
	}
	return checkNestedCycles(cfg, names)
}

func validateSigner(cfg *config.WalletFileConfig, s config.SignerConfig) error {
	if s.Address != "" && !common.IsHexAddress(s.Address) {
		return fmt.Errorf("address %q is not an address", s.Address)
	}

	switch s.Type {
	case config.SignerTypePrivateKey:
		if s.PrivateKey == "" {
			return fmt.Errorf("private_key is required")
		}
	case config.SignerTypeGuard:
		if s.Address == "" || s.URL == "" {
			return fmt.Errorf("address and url are required")
		}
	case config.SignerTypeNested:
		if s.Address == "" || s.Config == "" {
			return fmt.Errorf("address and config are required")
		}
		for _, ref := range s.Signers {
			if _, ok := cfg.Signers[ref]; !ok {
				return fmt.Errorf("references unknown signer %q", ref)
			}
		}
	case config.SignerTypeSession:
		if s.PrivateKey == "" || s.Permissions == "" {
			return fmt.Errorf("private_key and permissions are required")
		}
		if s.Address == "" && cfg.Session.Manager == "" {
			return fmt.Errorf("address or session.manager is required")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
	return nil
}

func checkNestedCycles(cfg *config.WalletFileConfig, names []string) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("nested signers form a cycle: %v", append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		for _, ref := range cfg.Signers[name].Signers {
			if err := visit(ref, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range names {
		if state[name] == unvisited {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
