package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
)

// AuthorizeSessionCallParams contains parameters for authorizing one call of a batch
type AuthorizeSessionCallParams struct {
	Wallet    common.Address
	ChainID   *big.Int
	Space     *big.Int
	Nonce     *big.Int
	CallIndex int
	Call      payload.Call
	Session   *permission.SessionPermissions
}

// SessionAuthorization is a session key's countersignature of one call
type SessionAuthorization struct {
	PermissionIndex int
	Digest          common.Hash
	Signature       signature.HashSignature
	Increments      []permission.UsageIncrement
}

// AuthorizeSessionCall decides whether a session key may sign a call and signs it.
// Evaluations for the same wallet and session signer run one at a time, and usage
// granted by earlier authorizations counts until the chain reports more.
type AuthorizeSessionCall struct {
	usage UsageReader
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	locks    map[sessionKey]*sync.Mutex
	reserved map[sessionKey]map[common.Hash]uint256.Int
}

type sessionKey struct {
	wallet common.Address
	signer common.Address
}

// NewAuthorizeSessionCall creates a new AuthorizeSessionCall use case. usage may be
// nil, in which case every usage counter starts at zero.
func NewAuthorizeSessionCall(usage UsageReader, log *slog.Logger) *AuthorizeSessionCall {
	return &AuthorizeSessionCall{
		usage:    usage,
		log:      log.With("component", "session"),
		now:      time.Now,
		locks:    make(map[sessionKey]*sync.Mutex),
		reserved: make(map[sessionKey]map[common.Hash]uint256.Int),
	}
}

// AuthorizeSessionBatchParams contains parameters for authorizing every call of a batch
type AuthorizeSessionBatchParams struct {
	Wallet  common.Address
	ChainID *big.Int
	Space   *big.Int
	Nonce   *big.Int
	Calls   []payload.Call
	Session *permission.SessionPermissions
}

// Run executes the authorize session call use case. It fails closed: any error means
// the call is not authorized.
func (uc *AuthorizeSessionCall) Run(ctx context.Context, key KeySigner, params AuthorizeSessionCallParams) (*SessionAuthorization, error) {
	auths, err := uc.authorize(ctx, key, params.CallIndex, AuthorizeSessionBatchParams{
		Wallet:  params.Wallet,
		ChainID: params.ChainID,
		Space:   params.Space,
		Nonce:   params.Nonce,
		Calls:   []payload.Call{params.Call},
		Session: params.Session,
	})
	if err != nil {
		return nil, err
	}
	return auths[0], nil
}

// RunBatch authorizes and signs every call of a batch. Usage granted to earlier
// calls counts against later ones, and nothing is reserved unless every call is
// signed.
func (uc *AuthorizeSessionCall) RunBatch(ctx context.Context, key KeySigner, params AuthorizeSessionBatchParams) ([]*SessionAuthorization, error) {
	return uc.authorize(ctx, key, 0, params)
}

// Check evaluates the call against the session without signing or reserving usage
func (uc *AuthorizeSessionCall) Check(ctx context.Context, params AuthorizeSessionCallParams) (*permission.Result, error) {
	results, err := uc.CheckBatch(ctx, AuthorizeSessionBatchParams{
		Wallet:  params.Wallet,
		ChainID: params.ChainID,
		Calls:   []payload.Call{params.Call},
		Session: params.Session,
	})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// CheckBatch evaluates a batch the way RunBatch does without signing or reserving usage
func (uc *AuthorizeSessionCall) CheckBatch(ctx context.Context, params AuthorizeSessionBatchParams) ([]*permission.Result, error) {
	if err := uc.checkSession(params.Session, params.ChainID); err != nil {
		return nil, err
	}
	sk := sessionKey{wallet: params.Wallet, signer: params.Session.Signer}
	return uc.evaluate(ctx, sk, params.Session, params.Calls)
}

func (uc *AuthorizeSessionCall) authorize(ctx context.Context, key KeySigner, firstIndex int, params AuthorizeSessionBatchParams) ([]*SessionAuthorization, error) {
	session := params.Session
	if err := uc.checkSession(session, params.ChainID); err != nil {
		return nil, err
	}
	if key.Address() != session.Signer {
		return nil, fmt.Errorf("%w: key %s is not session signer %s", domain.ErrSigner, key.Address().Hex(), session.Signer.Hex())
	}

	sk := sessionKey{wallet: params.Wallet, signer: session.Signer}
	lock := uc.lockFor(sk)
	lock.Lock()
	defer lock.Unlock()

	results, err := uc.evaluate(ctx, sk, session, params.Calls)
	if err != nil {
		uc.log.Debug("session batch denied", "wallet", params.Wallet.Hex(), "signer", session.Signer.Hex(), "error", err)
		return nil, err
	}

	auths := make([]*SessionAuthorization, 0, len(params.Calls))
	var increments []permission.UsageIncrement
	for i, call := range params.Calls {
		digest, err := permission.CallDigest(params.ChainID, params.Space, params.Nonce, firstIndex+i, call)
		if err != nil {
			return nil, err
		}
		sig, err := key.SignDigest(ctx, digest)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSigner, err)
		}
		auths = append(auths, &SessionAuthorization{
			PermissionIndex: results[i].PermissionIndex,
			Digest:          digest,
			Signature:       sig,
			Increments:      results[i].Increments,
		})
		increments = append(increments, results[i].Increments...)
	}

	uc.reserve(sk, increments)
	uc.log.Debug("session batch authorized", "wallet", params.Wallet.Hex(), "signer", session.Signer.Hex(), "calls", len(auths))
	return auths, nil
}

func (uc *AuthorizeSessionCall) checkSession(session *permission.SessionPermissions, chainID *big.Int) error {
	if session == nil {
		return fmt.Errorf("%w: no session permissions", domain.ErrPermissionNotMatched)
	}
	if session.Expired(uint64(uc.now().Unix())) {
		return fmt.Errorf("%w: deadline %d", domain.ErrSessionExpired, session.Deadline)
	}
	if !session.AllowsChain(chainID) {
		return fmt.Errorf("%w: session is bound to chain %s", domain.ErrInvalidChainID, session.ChainID)
	}
	return nil
}

// evaluate finds a permission for every call, counting the usage of earlier calls
// of the batch against later ones
func (uc *AuthorizeSessionCall) evaluate(ctx context.Context, sk sessionKey, session *permission.SessionPermissions, calls []payload.Call) ([]*permission.Result, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrPermissionNotMatched)
	}
	base := uc.usageFunc(ctx, sk)
	pending := make(map[common.Hash]uint256.Int)
	usage := func(key common.Hash) (*uint256.Int, error) {
		used, err := base(key)
		if err != nil {
			return nil, err
		}
		if p, ok := pending[key]; ok && p.Gt(used) {
			used.Set(&p)
		}
		return used, nil
	}

	results := make([]*permission.Result, 0, len(calls))
	for i, call := range calls {
		res, err := permission.FindPermission(session, call, usage)
		if err != nil {
			if len(calls) == 1 {
				return nil, err
			}
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		for _, inc := range res.Increments {
			pending[inc.Key] = inc.Total
		}
		results = append(results, res)
	}
	return results, nil
}

func (uc *AuthorizeSessionCall) lockFor(k sessionKey) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	l, ok := uc.locks[k]
	if !ok {
		l = &sync.Mutex{}
		uc.locks[k] = l
	}
	return l
}

// usageFunc reads usage from the chain and raises it to what this process has
// already granted
func (uc *AuthorizeSessionCall) usageFunc(ctx context.Context, k sessionKey) permission.UsageFunc {
	return func(key common.Hash) (*uint256.Int, error) {
		used := new(uint256.Int)
		if uc.usage != nil {
			onChain, err := uc.usage.GetUsage(ctx, k.wallet, key)
			if err != nil {
				return nil, err
			}
			if onChain != nil {
				used.Set(onChain)
			}
		}
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if r, ok := uc.reserved[k][key]; ok && r.Gt(used) {
			used.Set(&r)
		}
		return used, nil
	}
}

func (uc *AuthorizeSessionCall) reserve(k sessionKey, increments []permission.UsageIncrement) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	m, ok := uc.reserved[k]
	if !ok {
		m = make(map[common.Hash]uint256.Int)
		uc.reserved[k] = m
	}
	for _, inc := range increments {
		if cur, ok := m[inc.Key]; !ok || inc.Total.Gt(&cur) {
			m[inc.Key] = inc.Total
		}
	}
}

// SessionVerifier checks session module signatures during signature recovery
type SessionVerifier struct {
	usage UsageReader
	now   func() time.Time
}

// NewSessionVerifier creates a verifier for session module sapient signatures
func NewSessionVerifier(usage UsageReader) *SessionVerifier {
	return &SessionVerifier{usage: usage, now: time.Now}
}

// RecoverSapientSignature checks that every call of the payload was signed by the
// session key under a permission that matches it, and returns the image hash of
// the session permissions
func (v *SessionVerifier) RecoverSapientSignature(ctx context.Context, req *SapientRequest) (common.Hash, error) {
	var data []byte
	switch sig := req.Leaf.Signature.(type) {
	case signature.SapientSignature:
		data = sig.Data
	case signature.SapientCompactSignature:
		data = sig.Data
	default:
		return common.Hash{}, fmt.Errorf("%w: %T on session leaf", domain.ErrUnknownLeafType, req.Leaf.Signature)
	}
	sessionSig, err := permission.DecodeSignature(data)
	if err != nil {
		return common.Hash{}, err
	}
	session := &sessionSig.Permissions

	calls, ok := req.Payload.(*payload.Calls)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: session signatures only cover calls, got %s", domain.ErrPermissionNotMatched, req.Payload.Kind())
	}
	if len(calls.Calls) != len(sessionSig.Calls) {
		return common.Hash{}, fmt.Errorf("%w: %d call signatures for %d calls", domain.ErrInvalidSignature, len(sessionSig.Calls), len(calls.Calls))
	}
	if session.Expired(uint64(v.now().Unix())) {
		return common.Hash{}, fmt.Errorf("%w: deadline %d", domain.ErrSessionExpired, session.Deadline)
	}
	if !session.AllowsChain(req.ChainID) {
		return common.Hash{}, fmt.Errorf("%w: session is bound to chain %s", domain.ErrInvalidChainID, session.ChainID)
	}

	granted := make(map[common.Hash]uint256.Int)
	usage := func(key common.Hash) (*uint256.Int, error) {
		used := new(uint256.Int)
		if v.usage != nil {
			onChain, err := v.usage.GetUsage(ctx, req.Wallet, key)
			if err != nil {
				return nil, err
			}
			if onChain != nil {
				used.Set(onChain)
			}
		}
		if g, ok := granted[key]; ok && g.Gt(used) {
			used.Set(&g)
		}
		return used, nil
	}

	for i, call := range calls.Calls {
		cs := sessionSig.Calls[i]
		digest, err := permission.CallDigest(req.ChainID, calls.Space, calls.Nonce, i, call)
		if err != nil {
			return common.Hash{}, err
		}
		signer, err := recoverHashSigner(digest, cs.Signature)
		if err != nil {
			return common.Hash{}, fmt.Errorf("call %d: %w", i, err)
		}
		if signer != session.Signer {
			return common.Hash{}, fmt.Errorf("%w: call %d signed by %s, session signer is %s", domain.ErrInvalidSignature, i, signer.Hex(), session.Signer.Hex())
		}
		idx := int(cs.PermissionIndex)
		if idx >= len(session.Permissions) {
			return common.Hash{}, fmt.Errorf("%w: call %d uses permission %d of %d", domain.ErrPermissionNotMatched, i, idx, len(session.Permissions))
		}

		var increments []permission.UsageIncrement
		if call.Value != nil && call.Value.Sign() > 0 {
			inc, err := permission.CheckValue(session, call.Value, usage)
			if err != nil {
				return common.Hash{}, fmt.Errorf("call %d: %w", i, err)
			}
			increments = append(increments, *inc)
		}
		m, err := permission.MatchPermission(session.Signer, idx, session.Permissions[idx], call, usage)
		if err != nil {
			return common.Hash{}, err
		}
		if !m.Matched {
			if m.CumulativeOnly {
				return common.Hash{}, fmt.Errorf("%w: call %d under permission %d", domain.ErrCumulativeLimitExceeded, i, idx)
			}
			return common.Hash{}, fmt.Errorf("%w: call %d under permission %d", domain.ErrPermissionNotMatched, i, idx)
		}
		for _, inc := range append(increments, m.Increments...) {
			granted[inc.Key] = inc.Total
		}
	}
	return permission.ImageHash(session)
}
