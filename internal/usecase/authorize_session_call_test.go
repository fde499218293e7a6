package usecase

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

var (
	testToken     = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	testRecipient = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	testManager   = common.HexToAddress("0x0000000000000000000000000000000000005e55")
)

type mockUsageReader struct {
	mock.Mock
}

func (m *mockUsageReader) GetUsage(ctx context.Context, wallet common.Address, key common.Hash) (*uint256.Int, error) {
	args := m.Called(ctx, wallet, key)
	if v := args.Get(0); v != nil {
		return v.(*uint256.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func transferData(to common.Address, amount uint64) []byte {
	data := []byte{0xa9, 0x05, 0x9c, 0xbb}
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(new(big.Int).SetUint64(amount).Bytes(), 32)...)
}

// tokenSession allows transfers of testToken up to limit in total
func tokenSession(signer common.Address, limit uint64) *permission.SessionPermissions {
	var value, mask common.Hash
	new(big.Int).SetUint64(limit).FillBytes(value[:])
	for i := range mask {
		mask[i] = 0xff
	}
	return &permission.SessionPermissions{
		Signer:     signer,
		ChainID:    testChainID,
		ValueLimit: big.NewInt(1000),
		Permissions: []permission.Permission{{
			Target: testToken,
			Rules: []permission.ParameterRule{
				permission.SelectorRule([4]byte{0xa9, 0x05, 0x9c, 0xbb}),
				{Operation: permission.OpLessThanOrEqual, Cumulative: true, Value: value, Offset: *uint256.NewInt(36), Mask: mask},
			},
		}},
	}
}

func transferParams(session *permission.SessionPermissions, amount uint64) AuthorizeSessionCallParams {
	return AuthorizeSessionCallParams{
		Wallet:  testWallet,
		ChainID: testChainID,
		Space:   big.NewInt(0),
		Nonce:   big.NewInt(1),
		Call:    payload.Call{To: testToken, Data: transferData(testRecipient, amount)},
		Session: session,
	}
}

func TestAuthorizeSessionCall_SignsMatchingCall(t *testing.T) {
	key := newKeySigner(t, 7)
	session := tokenSession(key.Address(), 100)
	uc := NewAuthorizeSessionCall(nil, discardLogger())

	params := transferParams(session, 60)
	auth, err := uc.Run(context.Background(), key, params)
	require.NoError(t, err)
	assert.Equal(t, 0, auth.PermissionIndex)
	require.Len(t, auth.Increments, 1)
	assert.Equal(t, uint64(60), auth.Increments[0].Total.Uint64())

	digest, err := permission.CallDigest(params.ChainID, params.Space, params.Nonce, params.CallIndex, params.Call)
	require.NoError(t, err)
	assert.Equal(t, digest, auth.Digest)

	signer, err := recoverHashSigner(auth.Digest, auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, key.Address(), signer)
}

func TestAuthorizeSessionCall_Denials(t *testing.T) {
	key := newKeySigner(t, 7)
	other := newKeySigner(t, 8)

	tests := []struct {
		name    string
		key     *keySigner
		params  func() AuthorizeSessionCallParams
		now     time.Time
		wantErr error
	}{
		{
			name: "unknown target",
			key:  key,
			params: func() AuthorizeSessionCallParams {
				p := transferParams(tokenSession(key.Address(), 100), 1)
				p.Call.To = testRecipient
				return p
			},
			wantErr: domain.ErrPermissionNotMatched,
		},
		{
			name: "wrong selector",
			key:  key,
			params: func() AuthorizeSessionCallParams {
				p := transferParams(tokenSession(key.Address(), 100), 1)
				p.Call.Data[0] = 0x09
				return p
			},
			wantErr: domain.ErrPermissionNotMatched,
		},
		{
			name:    "amount above limit",
			key:     key,
			params:  func() AuthorizeSessionCallParams { return transferParams(tokenSession(key.Address(), 100), 101) },
			wantErr: domain.ErrCumulativeLimitExceeded,
		},
		{
			name: "value above session limit",
			key:  key,
			params: func() AuthorizeSessionCallParams {
				p := transferParams(tokenSession(key.Address(), 100), 1)
				p.Call.Value = big.NewInt(1001)
				return p
			},
			wantErr: domain.ErrCumulativeLimitExceeded,
		},
		{
			name:    "key is not the session signer",
			key:     other,
			params:  func() AuthorizeSessionCallParams { return transferParams(tokenSession(key.Address(), 100), 1) },
			wantErr: domain.ErrSigner,
		},
		{
			name: "session expired",
			key:  key,
			params: func() AuthorizeSessionCallParams {
				s := tokenSession(key.Address(), 100)
				s.Deadline = 1_700_000_000
				return transferParams(s, 1)
			},
			now:     time.Unix(1_700_000_001, 0),
			wantErr: domain.ErrSessionExpired,
		},
		{
			name: "other chain",
			key:  key,
			params: func() AuthorizeSessionCallParams {
				p := transferParams(tokenSession(key.Address(), 100), 1)
				p.ChainID = big.NewInt(1)
				return p
			},
			wantErr: domain.ErrInvalidChainID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := NewAuthorizeSessionCall(nil, discardLogger())
			if !tt.now.IsZero() {
				uc.now = func() time.Time { return tt.now }
			}
			auth, err := uc.Run(context.Background(), tt.key, tt.params())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, auth)
			assert.Zero(t, tt.key.calls)
		})
	}
}

func TestAuthorizeSessionCall_CumulativeUsage(t *testing.T) {
	key := newKeySigner(t, 7)
	session := tokenSession(key.Address(), 100)
	usageKey, err := permission.UsageKey(key.Address(), 0, 1)
	require.NoError(t, err)

	t.Run("reservations count until the chain catches up", func(t *testing.T) {
		uc := NewAuthorizeSessionCall(nil, discardLogger())
		for _, amount := range []uint64{40, 40} {
			_, err := uc.Run(context.Background(), key, transferParams(session, amount))
			require.NoError(t, err)
		}
		_, err := uc.Run(context.Background(), key, transferParams(session, 40))
		assert.ErrorIs(t, err, domain.ErrCumulativeLimitExceeded)

		res, err := uc.Check(context.Background(), transferParams(session, 20))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), res.Increments[0].Total.Uint64())
	})

	t.Run("on-chain usage above reservations wins", func(t *testing.T) {
		usage := &mockUsageReader{}
		usage.On("GetUsage", mock.Anything, testWallet, usageKey).Return(uint256.NewInt(90), nil)
		uc := NewAuthorizeSessionCall(usage, discardLogger())

		_, err := uc.Run(context.Background(), key, transferParams(session, 20))
		assert.ErrorIs(t, err, domain.ErrCumulativeLimitExceeded)
		auth, err := uc.Run(context.Background(), key, transferParams(session, 10))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), auth.Increments[0].Total.Uint64())
		usage.AssertExpectations(t)
	})

	t.Run("concurrent calls never overspend", func(t *testing.T) {
		uc := NewAuthorizeSessionCall(nil, discardLogger())
		var (
			wg      sync.WaitGroup
			granted atomic.Int32
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := uc.Run(context.Background(), key, transferParams(session, 20)); err == nil {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(5), granted.Load())
	})

	t.Run("batch counts its own calls", func(t *testing.T) {
		uc := NewAuthorizeSessionCall(nil, discardLogger())
		batch := func(amounts ...uint64) AuthorizeSessionBatchParams {
			p := AuthorizeSessionBatchParams{Wallet: testWallet, ChainID: testChainID, Space: big.NewInt(0), Nonce: big.NewInt(1), Session: session}
			for _, a := range amounts {
				p.Calls = append(p.Calls, payload.Call{To: testToken, Data: transferData(testRecipient, a)})
			}
			return p
		}

		_, err := uc.CheckBatch(context.Background(), batch(60, 60))
		assert.ErrorIs(t, err, domain.ErrCumulativeLimitExceeded)
		_, err = uc.RunBatch(context.Background(), key, batch(60, 60))
		assert.ErrorIs(t, err, domain.ErrCumulativeLimitExceeded)

		auths, err := uc.RunBatch(context.Background(), key, batch(60, 30))
		require.NoError(t, err)
		require.Len(t, auths, 2)
		assert.Equal(t, uint64(90), auths[1].Increments[0].Total.Uint64())

		digest, err := permission.CallDigest(testChainID, big.NewInt(0), big.NewInt(1), 1, payload.Call{To: testToken, Data: transferData(testRecipient, 30)})
		require.NoError(t, err)
		assert.Equal(t, digest, auths[1].Digest)

		res, err := uc.Check(context.Background(), transferParams(session, 10))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), res.Increments[0].Total.Uint64())
	})

	t.Run("wallets are tracked separately", func(t *testing.T) {
		uc := NewAuthorizeSessionCall(nil, discardLogger())
		_, err := uc.Run(context.Background(), key, transferParams(session, 100))
		require.NoError(t, err)

		p := transferParams(session, 100)
		p.Wallet = common.HexToAddress("0x000000000000000000000000000000000000cafe")
		_, err = uc.Run(context.Background(), key, p)
		assert.NoError(t, err)
	})
}

// sessionSignature authorizes every call of calls with key and wraps the result
// as a sapient signature for the session manager
func sessionSignature(t *testing.T, key *keySigner, session *permission.SessionPermissions, calls *payload.Calls) signature.Signature {
	t.Helper()
	uc := NewAuthorizeSessionCall(nil, discardLogger())
	sig := &permission.SessionSignature{Permissions: *session}
	for i, call := range calls.Calls {
		auth, err := uc.Run(context.Background(), key, AuthorizeSessionCallParams{
			Wallet:    testWallet,
			ChainID:   testChainID,
			Space:     calls.Space,
			Nonce:     calls.Nonce,
			CallIndex: i,
			Call:      call,
			Session:   session,
		})
		require.NoError(t, err)
		sig.Calls = append(sig.Calls, permission.CallSignature{PermissionIndex: uint8(auth.PermissionIndex), Signature: auth.Signature})
	}
	data, err := permission.EncodeSignature(sig)
	require.NoError(t, err)
	return signature.SapientSignature{Data: data}
}

func TestSessionVerifier_RecoverSignature(t *testing.T) {
	key := newKeySigner(t, 7)
	session := tokenSession(key.Address(), 100)
	sessionHash, err := permission.ImageHash(session)
	require.NoError(t, err)

	cfg := &topology.Config{Threshold: 1, Topology: topology.SapientSignerLeaf{Address: testManager, Weight: 1, ImageHash: sessionHash}}
	calls := &payload.Calls{
		Space: big.NewInt(0),
		Nonce: big.NewInt(3),
		Calls: []payload.Call{
			{To: testToken, Data: transferData(testRecipient, 30)},
			{To: testToken, Data: transferData(testRecipient, 50)},
		},
	}
	sig := sessionSignature(t, key, session, calls)

	run := func(t *testing.T, p payload.Payload, s signature.Signature) (*RecoveredSignature, error) {
		t.Helper()
		raw := &signature.RawSignature{Configuration: signature.RawConfiguration{
			Threshold: cfg.Threshold,
			Topology:  signature.RawSapientSignerLeaf{Address: testManager, Weight: 1, ImageHash: sessionHash, Signature: s},
		}}
		want, err := cfg.ImageHash()
		require.NoError(t, err)
		uc := NewRecoverSignature(nil, nil, SapientVerifiers{testManager: NewSessionVerifier(nil)}, discardLogger())
		return uc.Run(context.Background(), RecoverSignatureParams{
			Wallet:            testWallet,
			ChainID:           testChainID,
			Payload:           p,
			Signature:         raw,
			ExpectedImageHash: &want,
		})
	}

	t.Run("valid session batch", func(t *testing.T) {
		res, err := run(t, calls, sig)
		require.NoError(t, err)
		assert.True(t, res.Valid())
		assert.Equal(t, uint64(1), res.Weight)
	})

	tests := []struct {
		name    string
		payload payload.Payload
		sig     func() signature.Signature
		wantErr error
	}{
		{
			name: "batch over the cumulative limit",
			payload: &payload.Calls{Space: calls.Space, Nonce: calls.Nonce, Calls: []payload.Call{
				{To: testToken, Data: transferData(testRecipient, 60)},
				{To: testToken, Data: transferData(testRecipient, 60)},
			}},
			sig: func() signature.Signature {
				// the second call is signed without consulting usage of the first
				half := &payload.Calls{Space: calls.Space, Nonce: calls.Nonce, Calls: []payload.Call{
					{To: testToken, Data: transferData(testRecipient, 60)},
				}}
				first := sessionSignature(t, key, session, half)
				decoded, err := permission.DecodeSignature(first.(signature.SapientSignature).Data)
				require.NoError(t, err)

				digest, err := permission.CallDigest(testChainID, calls.Space, calls.Nonce, 1, half.Calls[0])
				require.NoError(t, err)
				second, err := key.SignDigest(context.Background(), digest)
				require.NoError(t, err)
				decoded.Calls = append(decoded.Calls, permission.CallSignature{Signature: second})
				data, err := permission.EncodeSignature(decoded)
				require.NoError(t, err)
				return signature.SapientSignature{Data: data}
			},
			wantErr: domain.ErrCumulativeLimitExceeded,
		},
		{
			name:    "signature for a different batch",
			payload: &payload.Calls{Space: calls.Space, Nonce: big.NewInt(4), Calls: calls.Calls},
			sig:     func() signature.Signature { return sig },
			wantErr: domain.ErrInvalidSignature,
		},
		{
			name:    "message payload",
			payload: message("not calls"),
			sig:     func() signature.Signature { return sig },
			wantErr: domain.ErrPermissionNotMatched,
		},
		{
			name:    "call count mismatch",
			payload: &payload.Calls{Space: calls.Space, Nonce: calls.Nonce, Calls: calls.Calls[:1]},
			sig:     func() signature.Signature { return sig },
			wantErr: domain.ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.payload, tt.sig())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
