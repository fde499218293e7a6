package config

// LocalConfig holds per-checkout overrides stored in .treb/config.local.json
type LocalConfig struct {
	Wallet  string `json:"wallet,omitempty"`
	Network string `json:"network,omitempty"`
	Signers string `json:"signers,omitempty"`
}

// ConfigKey represents a configuration key
type ConfigKey string

const (
	ConfigKeyWallet  ConfigKey = "wallet"
	ConfigKeyNetwork ConfigKey = "network"
	ConfigKeySigners ConfigKey = "signers"
)

// DefaultLocalConfig returns the default local configuration
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{}
}

// ValidConfigKeys returns all valid configuration keys
func ValidConfigKeys() []ConfigKey {
	return []ConfigKey{
		ConfigKeyWallet,
		ConfigKeyNetwork,
		ConfigKeySigners,
	}
}

// IsValidConfigKey checks if a key is valid
func IsValidConfigKey(key string) bool {
	return NormalizeConfigKey(key) != ""
}

// NormalizeConfigKey maps a key or its alias to the canonical key, or "" if unknown
func NormalizeConfigKey(key string) ConfigKey {
	switch key {
	case "wallet", "w":
		return ConfigKeyWallet
	case "network", "rpc":
		return ConfigKeyNetwork
	case "signers", "s":
		return ConfigKeySigners
	}
	return ""
}

// Get returns the value stored under key
func (c *LocalConfig) Get(key ConfigKey) string {
	switch key {
	case ConfigKeyWallet:
		return c.Wallet
	case ConfigKeyNetwork:
		return c.Network
	case ConfigKeySigners:
		return c.Signers
	}
	return ""
}

// Set stores value under key
func (c *LocalConfig) Set(key ConfigKey, value string) {
	switch key {
	case ConfigKeyWallet:
		c.Wallet = value
	case ConfigKeyNetwork:
		c.Network = value
	case ConfigKeySigners:
		c.Signers = value
	}
}
