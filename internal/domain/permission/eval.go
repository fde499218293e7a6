package permission

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
)

// UsageFunc returns the usage recorded so far under a usage key
type UsageFunc func(key common.Hash) (*uint256.Int, error)

// UsageIncrement is the new cumulative total to record under Key once the call executes
type UsageIncrement struct {
	Key   common.Hash
	Total uint256.Int
}

// Match is the outcome of evaluating one permission against one call
type Match struct {
	Matched bool
	// TargetMatched is true when the call target equals the permission target
	TargetMatched bool
	// CumulativeOnly is true when every failing rule is cumulative
	CumulativeOnly bool
	Increments     []UsageIncrement
}

// Result is the permission that authorizes a call and the usage it consumes
type Result struct {
	PermissionIndex int
	Increments      []UsageIncrement
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	usageKeyArgs = abi.Arguments{{Type: addressType}, {Type: uint256Type}, {Type: uint256Type}}
	valueKeyArgs = abi.Arguments{{Type: addressType}, {Type: bytes32Type}}
	callHashArgs = abi.Arguments{{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: bytes32Type}}

	valueTrackingSlot = [32]byte{31: 0x01}
)

// UsageKey identifies the cumulative usage of one rule of one permission of a signer
func UsageKey(signer common.Address, permissionIndex, ruleIndex int) (common.Hash, error) {
	enc, err := usageKeyArgs.Pack(signer, big.NewInt(int64(permissionIndex)), big.NewInt(int64(ruleIndex)))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode usage key: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// ValueUsageKey identifies the cumulative native value sent by a signer
func ValueUsageKey(signer common.Address) (common.Hash, error) {
	enc, err := valueKeyArgs.Pack(signer, valueTrackingSlot)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode value usage key: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// CallDigest is the replay-protected digest a session key signs for one call of a batch
func CallDigest(chainID, space, nonce *big.Int, callIndex int, call payload.Call) (common.Hash, error) {
	callHash, err := payload.HashCall(call)
	if err != nil {
		return common.Hash{}, err
	}
	enc, err := callHashArgs.Pack(orZero(chainID), orZero(space), orZero(nonce), big.NewInt(int64(callIndex)), [32]byte(callHash))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode call digest: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Word reads the 32 bytes of data at offset. Bytes past the end read as zero.
func Word(data []byte, offset *uint256.Int) common.Hash {
	var w common.Hash
	if !offset.IsUint64() || offset.Uint64() >= uint64(len(data)) {
		return w
	}
	copy(w[:], data[offset.Uint64():])
	return w
}

// EvaluateRule applies rule to data. For cumulative rules usage is added to the
// masked value before comparing; the returned total is what to record afterwards.
func EvaluateRule(rule ParameterRule, data []byte, usage *uint256.Int) (bool, *uint256.Int) {
	word := Word(data, &rule.Offset)
	for i := range word {
		word[i] &= rule.Mask[i]
	}

	value := new(uint256.Int).SetBytes32(word[:])
	if rule.Cumulative && usage != nil {
		if _, overflow := value.AddOverflow(value, usage); overflow {
			value.SetAllOne()
		}
	}
	limit := new(uint256.Int).SetBytes32(rule.Value[:])

	var ok bool
	switch rule.Operation {
	case OpEqual:
		ok = value.Eq(limit)
	case OpNotEqual:
		ok = !value.Eq(limit)
	case OpGreaterThanOrEqual:
		ok = !value.Lt(limit)
	case OpLessThanOrEqual:
		ok = !value.Gt(limit)
	}
	return ok, value
}

// MatchPermission evaluates every rule of perm, the permission at index in the
// signer's set, against call. usage may be nil when no usage has been recorded.
func MatchPermission(signer common.Address, index int, perm Permission, call payload.Call, usage UsageFunc) (*Match, error) {
	m := &Match{TargetMatched: call.To == perm.Target}
	if !m.TargetMatched {
		return m, nil
	}

	failed, cumulativeFailed := 0, 0
	for j, rule := range perm.Rules {
		var (
			used *uint256.Int
			key  common.Hash
		)
		if rule.Cumulative {
			var err error
			if key, err = UsageKey(signer, index, j); err != nil {
				return nil, err
			}
			if usage != nil {
				if used, err = usage(key); err != nil {
					return nil, fmt.Errorf("failed to read usage of permission %d rule %d: %w", index, j, err)
				}
			}
		}

		ok, total := EvaluateRule(rule, call.Data, used)
		if !ok {
			failed++
			if rule.Cumulative {
				cumulativeFailed++
			}
			continue
		}
		if rule.Cumulative {
			m.Increments = append(m.Increments, UsageIncrement{Key: key, Total: *total})
		}
	}

	m.Matched = failed == 0
	m.CumulativeOnly = failed > 0 && failed == cumulativeFailed
	if !m.Matched {
		m.Increments = nil
	}
	return m, nil
}

// FindPermission returns the first permission of session, in order, that authorizes
// call. It fails closed with ErrPermissionNotMatched, or ErrCumulativeLimitExceeded
// when a permission for the target only failed on cumulative limits.
func FindPermission(session *SessionPermissions, call payload.Call, usage UsageFunc) (*Result, error) {
	var valueIncrement *UsageIncrement
	if call.Value != nil && call.Value.Sign() > 0 {
		inc, err := CheckValue(session, call.Value, usage)
		if err != nil {
			return nil, err
		}
		valueIncrement = inc
	}

	cumulativeOnly := false
	for i, perm := range session.Permissions {
		m, err := MatchPermission(session.Signer, i, perm, call, usage)
		if err != nil {
			return nil, err
		}
		if m.Matched {
			res := &Result{PermissionIndex: i, Increments: m.Increments}
			if valueIncrement != nil {
				res.Increments = append(res.Increments, *valueIncrement)
			}
			return res, nil
		}
		cumulativeOnly = cumulativeOnly || m.CumulativeOnly
	}

	if cumulativeOnly {
		return nil, fmt.Errorf("%w: call to %s", domain.ErrCumulativeLimitExceeded, call.To.Hex())
	}
	return nil, fmt.Errorf("%w: call to %s", domain.ErrPermissionNotMatched, call.To.Hex())
}

// CheckValue adds value to the signer's recorded value usage and checks it against the
// session value limit
func CheckValue(session *SessionPermissions, value *big.Int, usage UsageFunc) (*UsageIncrement, error) {
	key, err := ValueUsageKey(session.Signer)
	if err != nil {
		return nil, err
	}
	total, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: call value %s", domain.ErrCumulativeLimitExceeded, value)
	}
	if usage != nil {
		used, err := usage(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read value usage: %w", err)
		}
		if used != nil {
			if _, overflow := total.AddOverflow(total, used); overflow {
				return nil, fmt.Errorf("%w: value usage overflow", domain.ErrCumulativeLimitExceeded)
			}
		}
	}

	limit := new(uint256.Int)
	if session.ValueLimit != nil {
		limit, _ = uint256.FromBig(session.ValueLimit)
	}
	if total.Gt(limit) {
		return nil, fmt.Errorf("%w: value %s exceeds limit %s", domain.ErrCumulativeLimitExceeded, total.Dec(), limit.Dec())
	}
	return &UsageIncrement{Key: key, Total: *total}, nil
}

// IsDenied reports whether err is a fail-closed permission decision
func IsDenied(err error) bool {
	return errors.Is(err, domain.ErrPermissionNotMatched) || errors.Is(err, domain.ErrCumulativeLimitExceeded)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
