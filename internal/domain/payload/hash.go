package payload

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/samber/lo"
)

const (
	DomainName    = "Sequence Wallet"
	DomainVersion = "3"
)

var types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Call": {
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "gasLimit", Type: "uint256"},
		{Name: "delegateCall", Type: "bool"},
		{Name: "onlyFallback", Type: "bool"},
		{Name: "behaviorOnError", Type: "uint256"},
	},
	"Calls": {
		{Name: "calls", Type: "Call[]"},
		{Name: "space", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "wallets", Type: "address[]"},
	},
	"Message": {
		{Name: "message", Type: "bytes"},
		{Name: "wallets", Type: "address[]"},
	},
	"ConfigUpdate": {
		{Name: "imageHash", Type: "bytes32"},
		{Name: "wallets", Type: "address[]"},
	},
}

// Hash returns the digest a wallet signs for p. Digest payloads are returned verbatim;
// every other kind is hashed as EIP-712 typed data bound to wallet and chainID.
func Hash(wallet common.Address, chainID *big.Int, p Payload) (common.Hash, error) {
	if p == nil {
		return common.Hash{}, fmt.Errorf("nil payload")
	}
	if d, ok := p.(*Digest); ok {
		return d.Digest, nil
	}

	td, err := TypedData(wallet, chainID, p)
	if err != nil {
		return common.Hash{}, err
	}
	h, _, err := apitypes.TypedDataAndHash(*td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s payload: %w", p.Kind(), err)
	}
	return common.BytesToHash(h), nil
}

// TypedData builds the EIP-712 document for p
func TypedData(wallet common.Address, chainID *big.Int, p Payload) (*apitypes.TypedData, error) {
	if chainID == nil {
		chainID = new(big.Int)
	}

	var (
		primary string
		message apitypes.TypedDataMessage
	)
	switch v := p.(type) {
	case *Calls:
		primary = "Calls"
		message = apitypes.TypedDataMessage{
			"calls":   lo.Map(v.Calls, func(c Call, _ int) interface{} { return callMessage(c) }),
			"space":   orZero(v.Space),
			"nonce":   orZero(v.Nonce),
			"wallets": wallets(v.ParentWallets),
		}
	case *Message:
		primary = "Message"
		message = apitypes.TypedDataMessage{
			"message": append([]byte{}, v.Message...),
			"wallets": wallets(v.ParentWallets),
		}
	case *ConfigUpdate:
		primary = "ConfigUpdate"
		message = apitypes.TypedDataMessage{
			"imageHash": v.ImageHash.Bytes(),
			"wallets":   wallets(v.ParentWallets),
		}
	default:
		return nil, fmt.Errorf("payload kind %T has no typed data form", p)
	}

	return &apitypes.TypedData{
		Types:       types,
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: strings.ToLower(wallet.Hex()),
		},
		Message: message,
	}, nil
}

// HashCall returns the EIP-712 struct hash of a single call. The struct hash does
// not depend on the domain, but typed data is rejected without one.
func HashCall(c Call) (common.Hash, error) {
	td := apitypes.TypedData{Types: types, Domain: apitypes.TypedDataDomain{Name: DomainName}}
	h, err := td.HashStruct("Call", callMessage(c))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash call: %w", err)
	}
	return common.BytesToHash(h), nil
}

func callMessage(c Call) map[string]interface{} {
	return map[string]interface{}{
		"to":              strings.ToLower(c.To.Hex()),
		"value":           orZero(c.Value),
		"data":            append([]byte{}, c.Data...),
		"gasLimit":        orZero(c.GasLimit),
		"delegateCall":    c.DelegateCall,
		"onlyFallback":    c.OnlyFallback,
		"behaviorOnError": new(big.Int).SetUint64(uint64(c.BehaviorOnError)),
	}
}

func wallets(addrs []common.Address) []interface{} {
	return lo.Map(addrs, func(a common.Address, _ int) interface{} {
		return strings.ToLower(a.Hex())
	})
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
