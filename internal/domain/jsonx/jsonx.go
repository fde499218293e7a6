// Package jsonx holds the JSON scalar encodings shared by the domain projections:
// integers travel as decimal strings and binary values as lowercase 0x hex.
package jsonx

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Uint64 is a uint64 encoded as a decimal string
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	var v uint64
	if strings.HasPrefix(s, "0x") {
		v, err = hexutil.DecodeUint64(s)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*u = Uint64(v)
	return nil
}

// Big is an arbitrary precision unsigned integer encoded as a decimal string
type Big struct {
	*big.Int
}

// NewBig wraps v; a nil v encodes as "0"
func NewBig(v *big.Int) Big {
	if v == nil {
		return Big{Int: new(big.Int)}
	}
	return Big{Int: new(big.Int).Set(v)}
}

func (b Big) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.Int.String())
}

func (b *Big) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid unsigned integer %q", s)
	}
	b.Int = v
	return nil
}

// Address is an address encoded as lowercase hex
type Address common.Address

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(common.Address(a).Hex()))
}

func (a *Address) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("invalid address %q", s)
	}
	*a = Address(common.HexToAddress(s))
	return nil
}

// Hash is a 32 byte value encoded as lowercase hex
type Hash common.Hash

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Hash(h).Hex())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, common.HashLength, len(b))
	}
	*h = Hash(common.BytesToHash(b))
	return nil
}

// unquote accepts both quoted strings and bare JSON numbers
func unquote(data []byte) (string, error) {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(data), nil
}
