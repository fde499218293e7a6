package payload

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wallet = common.HexToAddress("0x1234567890123456789012345678901234567890")
	target = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func sampleCalls() *Calls {
	return &Calls{
		Calls: []Call{
			{To: target, Value: big.NewInt(1), Data: []byte{0xa9, 0x05, 0x9c, 0xbb}, GasLimit: big.NewInt(21000), BehaviorOnError: RevertOnError},
			{To: wallet, Value: big.NewInt(0), Data: []byte{0x01}, GasLimit: big.NewInt(0), DelegateCall: true, OnlyFallback: true},
		},
		Space: big.NewInt(0),
		Nonce: big.NewInt(7),
	}
}

func TestHash_DigestIsVerbatim(t *testing.T) {
	d := common.HexToHash("0xdeadbeef")
	h, err := Hash(wallet, big.NewInt(1), FromDigest(d))
	require.NoError(t, err)
	assert.Equal(t, d, h)
}

func TestHash_BindsWalletChainAndContent(t *testing.T) {
	payloads := map[string]Payload{
		"calls":         sampleCalls(),
		"message":       &Message{Message: []byte("hello")},
		"config-update": &ConfigUpdate{ImageHash: common.HexToHash("0x01")},
	}

	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			base, err := Hash(wallet, big.NewInt(1), p)
			require.NoError(t, err)
			assert.NotEqual(t, common.Hash{}, base)

			again, err := Hash(wallet, big.NewInt(1), p)
			require.NoError(t, err)
			assert.Equal(t, base, again)

			otherChain, err := Hash(wallet, big.NewInt(137), p)
			require.NoError(t, err)
			assert.NotEqual(t, base, otherChain)

			otherWallet, err := Hash(common.Address{}, big.NewInt(1), p)
			require.NoError(t, err)
			assert.NotEqual(t, base, otherWallet)

			noChain, err := Hash(wallet, nil, p)
			require.NoError(t, err)
			zeroChain, err := Hash(wallet, big.NewInt(0), p)
			require.NoError(t, err)
			assert.Equal(t, zeroChain, noChain)
		})
	}
}

func TestHash_ParentWalletsChangeDigest(t *testing.T) {
	a, err := Hash(wallet, big.NewInt(1), &Message{Message: []byte("x")})
	require.NoError(t, err)
	b, err := Hash(wallet, big.NewInt(1), &Message{Message: []byte("x"), ParentWallets: []common.Address{target}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHash_CallFieldsChangeDigest(t *testing.T) {
	base, err := Hash(wallet, big.NewInt(1), sampleCalls())
	require.NoError(t, err)

	mutations := map[string]func(*Calls){
		"nonce":    func(c *Calls) { c.Nonce = big.NewInt(8) },
		"space":    func(c *Calls) { c.Space = big.NewInt(1) },
		"value":    func(c *Calls) { c.Calls[0].Value = big.NewInt(2) },
		"data":     func(c *Calls) { c.Calls[0].Data = []byte{0xa9, 0x05, 0x9c, 0xbc} },
		"behavior": func(c *Calls) { c.Calls[0].BehaviorOnError = AbortOnError },
		"order":    func(c *Calls) { c.Calls[0], c.Calls[1] = c.Calls[1], c.Calls[0] },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := sampleCalls()
			mutate(p)
			h, err := Hash(wallet, big.NewInt(1), p)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestHashCall(t *testing.T) {
	call := Call{To: target, Value: big.NewInt(5), Data: []byte{0x01, 0x02}, GasLimit: big.NewInt(0)}

	h, err := HashCall(call)
	require.NoError(t, err)

	typeHash := crypto.Keccak256([]byte("Call(address to,uint256 value,bytes data,uint256 gasLimit,bool delegateCall,bool onlyFallback,uint256 behaviorOnError)"))
	expected := crypto.Keccak256Hash(
		typeHash,
		common.LeftPadBytes(target.Bytes(), 32),
		common.LeftPadBytes([]byte{5}, 32),
		crypto.Keccak256([]byte{0x01, 0x02}),
		make([]byte, 32),
		make([]byte, 32),
		make([]byte, 32),
		make([]byte, 32),
	)
	assert.Equal(t, expected, h)
}

func TestPayloadJSON_RoundTrip(t *testing.T) {
	calls := &Calls{
		Calls: []Call{
			{To: target, Value: big.NewInt(3), Data: []byte{0x01}, GasLimit: big.NewInt(50000), OnlyFallback: true, BehaviorOnError: AbortOnError},
		},
		Space: big.NewInt(2),
		Nonce: big.NewInt(9),
	}
	payloads := []Payload{
		calls,
		&Message{Message: []byte("hello"), ParentWallets: []common.Address{wallet}},
		&ConfigUpdate{ImageHash: common.HexToHash("0xabc")},
		&Digest{Digest: common.HexToHash("0xdef"), ParentWallets: []common.Address{target, wallet}},
	}

	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			data, err := ToJSON(p)
			require.NoError(t, err)

			restored, err := FromJSON(data)
			require.NoError(t, err)
			assert.Equal(t, p, restored)
		})
	}
}

func TestPayloadJSON_Errors(t *testing.T) {
	for _, input := range []string{
		`{"type":"bogus"}`,
		`{"type":"message"}`,
		`{"type":"digest"}`,
		`{"type":"calls","calls":[{"to":"0x00000000000000000000000000000000000000aa","value":"0","data":"0x","gasLimit":"0","behaviorOnError":"explode"}]}`,
	} {
		_, err := FromJSON([]byte(input))
		assert.Error(t, err, input)
	}
}
