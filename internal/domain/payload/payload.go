package payload

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies what a payload authorizes
type Kind string

const (
	KindCalls        Kind = "calls"
	KindMessage      Kind = "message"
	KindConfigUpdate Kind = "config-update"
	KindDigest       Kind = "digest"
)

// Payload is what a wallet signature authorizes. Implementations: *Calls, *Message,
// *ConfigUpdate and *Digest.
type Payload interface {
	Kind() Kind
	Parents() []common.Address
}

// BehaviorOnError controls what the wallet does when a call reverts
type BehaviorOnError uint8

const (
	IgnoreError BehaviorOnError = iota
	RevertOnError
	AbortOnError
)

func (b BehaviorOnError) String() string {
	switch b {
	case IgnoreError:
		return "ignore"
	case RevertOnError:
		return "revert"
	case AbortOnError:
		return "abort"
	default:
		return "unknown"
	}
}

// Call is a single call executed by the wallet
type Call struct {
	To              common.Address
	Value           *big.Int
	Data            []byte
	GasLimit        *big.Int
	DelegateCall    bool
	OnlyFallback    bool
	BehaviorOnError BehaviorOnError
}

// Calls is a batch of calls under a nonce space
type Calls struct {
	Calls         []Call
	Space         *big.Int
	Nonce         *big.Int
	ParentWallets []common.Address
}

// Message is an arbitrary message signed by the wallet
type Message struct {
	Message       []byte
	ParentWallets []common.Address
}

// ConfigUpdate authorizes moving the wallet to a new image hash
type ConfigUpdate struct {
	ImageHash     common.Hash
	ParentWallets []common.Address
}

// Digest is an opaque, already computed digest
type Digest struct {
	Digest        common.Hash
	ParentWallets []common.Address
}

func (*Calls) Kind() Kind        { return KindCalls }
func (*Message) Kind() Kind      { return KindMessage }
func (*ConfigUpdate) Kind() Kind { return KindConfigUpdate }
func (*Digest) Kind() Kind       { return KindDigest }

func (p *Calls) Parents() []common.Address        { return p.ParentWallets }
func (p *Message) Parents() []common.Address      { return p.ParentWallets }
func (p *ConfigUpdate) Parents() []common.Address { return p.ParentWallets }
func (p *Digest) Parents() []common.Address       { return p.ParentWallets }

// FromDigest wraps a raw digest
func FromDigest(d common.Hash) *Digest {
	return &Digest{Digest: d}
}
