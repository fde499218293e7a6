package permission

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation compares a masked call data word against a rule value
type Operation uint8

const (
	OpEqual Operation = iota
	OpNotEqual
	OpGreaterThanOrEqual
	OpLessThanOrEqual
)

func (o Operation) String() string {
	switch o {
	case OpEqual:
		return "EQUAL"
	case OpNotEqual:
		return "NOT_EQUAL"
	case OpGreaterThanOrEqual:
		return "GREATER_THAN_OR_EQUAL"
	case OpLessThanOrEqual:
		return "LESS_THAN_OR_EQUAL"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(o))
	}
}

// ParseOperation accepts the names printed by Operation.String and their short forms
func ParseOperation(s string) (Operation, error) {
	switch strings.ToUpper(s) {
	case "EQUAL", "EQ":
		return OpEqual, nil
	case "NOT_EQUAL", "NEQ":
		return OpNotEqual, nil
	case "GREATER_THAN_OR_EQUAL", "GTE":
		return OpGreaterThanOrEqual, nil
	case "LESS_THAN_OR_EQUAL", "LTE":
		return OpLessThanOrEqual, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// ParameterRule constrains the 32-byte word of call data at Offset after masking
type ParameterRule struct {
	Operation  Operation
	Cumulative bool
	Value      common.Hash
	Offset     uint256.Int
	Mask       common.Hash
}

// Permission allows calls to Target that satisfy every rule
type Permission struct {
	Target common.Address
	Rules  []ParameterRule
}

// SessionPermissions is the full, replace-only permission set of a session signer.
// A zero ChainID allows any chain and a zero Deadline never expires.
type SessionPermissions struct {
	Signer      common.Address
	ChainID     *big.Int
	ValueLimit  *big.Int
	Deadline    uint64
	Permissions []Permission
}

// Limits of the packed encoding
const (
	MaxPermissions = 255
	MaxRules       = 255
)

// Validate checks the set can be packed and evaluated
func (s *SessionPermissions) Validate() error {
	if s.Signer == (common.Address{}) {
		return fmt.Errorf("session signer is required")
	}
	if len(s.Permissions) == 0 {
		return fmt.Errorf("session needs at least one permission")
	}
	if len(s.Permissions) > MaxPermissions {
		return fmt.Errorf("session has %d permissions, at most %d allowed", len(s.Permissions), MaxPermissions)
	}
	for _, v := range []*big.Int{s.ChainID, s.ValueLimit} {
		if v != nil && (v.Sign() < 0 || v.BitLen() > 256) {
			return fmt.Errorf("session value %s does not fit uint256", v)
		}
	}
	for i, p := range s.Permissions {
		if len(p.Rules) > MaxRules {
			return fmt.Errorf("permission %d has %d rules, at most %d allowed", i, len(p.Rules), MaxRules)
		}
		for j, r := range p.Rules {
			if r.Operation > OpLessThanOrEqual {
				return fmt.Errorf("permission %d rule %d: %s", i, j, r.Operation)
			}
		}
	}
	return nil
}

// Expired reports whether the session deadline is before now (unix seconds)
func (s *SessionPermissions) Expired(now uint64) bool {
	return s.Deadline != 0 && now > s.Deadline
}

// AllowsChain reports whether the session may sign on chainID
func (s *SessionPermissions) AllowsChain(chainID *big.Int) bool {
	if s.ChainID == nil || s.ChainID.Sign() == 0 {
		return true
	}
	return chainID != nil && s.ChainID.Cmp(chainID) == 0
}

// SelectorRule is an EQUAL rule on the 4-byte function selector at offset 0
func SelectorRule(selector [4]byte) ParameterRule {
	var value, mask common.Hash
	copy(value[:4], selector[:])
	copy(mask[:4], []byte{0xff, 0xff, 0xff, 0xff})
	return ParameterRule{Operation: OpEqual, Value: value, Mask: mask}
}
