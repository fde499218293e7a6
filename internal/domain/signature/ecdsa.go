package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
)

// Compact packs an ECDSA signature as r ‖ yParityAndS (EIP-2098)
func Compact(r, s common.Hash, yParity uint8) ([]byte, error) {
	if s[0]&0x80 != 0 {
		return nil, fmt.Errorf("%w: s has its high bit set", domain.ErrUnencodable)
	}
	if yParity > 1 {
		return nil, fmt.Errorf("%w: yParity %d", domain.ErrUnencodable, yParity)
	}
	out := make([]byte, 64)
	copy(out, r.Bytes())
	copy(out[32:], s.Bytes())
	out[32] |= yParity << 7
	return out, nil
}

// FromCompact unpacks r ‖ yParityAndS
func FromCompact(b []byte) (r, s common.Hash, yParity uint8, err error) {
	if len(b) != 64 {
		return r, s, 0, fmt.Errorf("%w: compact signature must be 64 bytes, got %d", domain.ErrInvalidSignature, len(b))
	}
	r = common.BytesToHash(b[:32])
	s = common.BytesToHash(b[32:])
	yParity = s[0] >> 7
	s[0] &= 0x7f
	return r, s, yParity, nil
}

// FromRSV converts a 65 byte r ‖ s ‖ v signature; v may be 0, 1, 27 or 28
func FromRSV(sig []byte) (HashSignature, error) {
	if len(sig) != 65 {
		return HashSignature{}, fmt.Errorf("%w: expected 65 bytes, got %d", domain.ErrInvalidSignature, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return HashSignature{}, fmt.Errorf("%w: invalid v %d", domain.ErrInvalidSignature, sig[64])
	}
	return HashSignature{
		R:       common.BytesToHash(sig[:32]),
		S:       common.BytesToHash(sig[32:64]),
		YParity: v,
	}, nil
}

// RSV returns the 65 byte r ‖ s ‖ v form with v in {0, 1}
func (h HashSignature) RSV() []byte {
	return rsv(h.R, h.S, h.YParity)
}

// RSV returns the 65 byte r ‖ s ‖ v form with v in {0, 1}
func (h EthSignSignature) RSV() []byte {
	return rsv(h.R, h.S, h.YParity)
}

func rsv(r, s common.Hash, v uint8) []byte {
	out := make([]byte, 65)
	copy(out, r.Bytes())
	copy(out[32:], s.Bytes())
	out[64] = v
	return out
}
