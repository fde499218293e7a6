package config

// SignerType identifies a signer backend in wallet.toml
type SignerType string

const (
	SignerTypePrivateKey SignerType = "private_key"
	SignerTypeGuard      SignerType = "guard"
	SignerTypeNested     SignerType = "nested"
	SignerTypeSession    SignerType = "session"
)

// SignerConfig represents a [signers.<name>] section in wallet.toml
type SignerConfig struct {
	Type       SignerType `toml:"type"`
	Address    string     `toml:"address,omitempty"`
	PrivateKey string     `toml:"private_key,omitempty"` //nolint:gosec // holds env var reference, not a literal secret
	Scheme     string     `toml:"scheme,omitempty"`      // For private_key signers: hash or eth_sign

	// Guard signers
	URL   string `toml:"url,omitempty"`
	Token string `toml:"token,omitempty"` //nolint:gosec // holds env var reference

	// Nested signers: the inner wallet config and the signers that sign for it
	Config  string   `toml:"config,omitempty"`
	Signers []string `toml:"signers,omitempty"`

	// Session signers: session key in PrivateKey, permission set file, and the
	// session module address in Address
	Permissions string `toml:"permissions,omitempty"`
	Space       string `toml:"space,omitempty"`
	Nonce       string `toml:"nonce,omitempty"`
}

// WalletSection represents the [wallet] section in wallet.toml
type WalletSection struct {
	Address   string `toml:"address"`
	ChainID   uint64 `toml:"chain_id,omitempty"`
	RPCURL    string `toml:"rpc_url,omitempty"`
	Config    string `toml:"config,omitempty"` // Path to the initial configuration JSON
	NoChainID bool   `toml:"no_chain_id,omitempty"`
	Prune     *bool  `toml:"prune,omitempty"`
}

// SessionSection represents the [session] section in wallet.toml
type SessionSection struct {
	Manager       string `toml:"manager,omitempty"`
	UsageBaseSlot string `toml:"usage_base_slot,omitempty"`
}

// WalletFileConfig represents the full wallet.toml configuration file
type WalletFileConfig struct {
	Wallet  WalletSection           `toml:"wallet"`
	Session SessionSection          `toml:"session"`
	Signers map[string]SignerConfig `toml:"signers"`
}

// PruneSignatures reports whether unsigned branches are collapsed before encoding
func (c *WalletFileConfig) PruneSignatures() bool {
	return c.Wallet.Prune == nil || *c.Wallet.Prune
}
