package permission

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
)

// Encode packs the session as
// signer ‖ chainId ‖ valueLimit ‖ deadline(8) ‖ count(1) ‖ permissions,
// each permission being target ‖ count(1) ‖ rules, and each rule
// (operation<<1 | cumulative)(1) ‖ value ‖ offset ‖ mask.
func Encode(s *SessionPermissions) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnencodable, err)
	}

	var buf bytes.Buffer
	buf.Write(s.Signer.Bytes())
	buf.Write(word(s.ChainID))
	buf.Write(word(s.ValueLimit))
	buf.Write(binary.BigEndian.AppendUint64(nil, s.Deadline))
	buf.WriteByte(byte(len(s.Permissions)))
	for _, p := range s.Permissions {
		buf.Write(p.Target.Bytes())
		buf.WriteByte(byte(len(p.Rules)))
		for _, r := range p.Rules {
			flag := byte(r.Operation) << 1
			if r.Cumulative {
				flag |= 1
			}
			buf.WriteByte(flag)
			buf.Write(r.Value.Bytes())
			offset := r.Offset.Bytes32()
			buf.Write(offset[:])
			buf.Write(r.Mask.Bytes())
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a packed session and returns it with the number of bytes consumed
func Decode(data []byte) (*SessionPermissions, int, error) {
	r := &reader{data: data}
	s := &SessionPermissions{}

	var err error
	if s.Signer, err = r.address("signer"); err != nil {
		return nil, 0, err
	}
	if s.ChainID, err = r.readBig("chainId"); err != nil {
		return nil, 0, err
	}
	if s.ValueLimit, err = r.readBig("valueLimit"); err != nil {
		return nil, 0, err
	}
	deadline, err := r.take(8, "deadline")
	if err != nil {
		return nil, 0, err
	}
	s.Deadline = binary.BigEndian.Uint64(deadline)

	count, err := r.readByte("permission count")
	if err != nil {
		return nil, 0, err
	}
	for i := 0; i < int(count); i++ {
		var p Permission
		if p.Target, err = r.address("permission target"); err != nil {
			return nil, 0, err
		}
		rules, err := r.readByte("rule count")
		if err != nil {
			return nil, 0, err
		}
		for j := 0; j < int(rules); j++ {
			flag, err := r.readByte("rule flag")
			if err != nil {
				return nil, 0, err
			}
			op := Operation(flag >> 1)
			if op > OpLessThanOrEqual {
				return nil, 0, &domain.StructuralDecodeError{Offset: r.off - 1, Reason: fmt.Sprintf("unknown operation %d", op)}
			}
			rule := ParameterRule{Operation: op, Cumulative: flag&1 == 1}
			if rule.Value, err = r.hash("rule value"); err != nil {
				return nil, 0, err
			}
			offset, err := r.hash("rule offset")
			if err != nil {
				return nil, 0, err
			}
			rule.Offset.SetBytes32(offset[:])
			if rule.Mask, err = r.hash("rule mask"); err != nil {
				return nil, 0, err
			}
			p.Rules = append(p.Rules, rule)
		}
		s.Permissions = append(s.Permissions, p)
	}
	return s, r.off, nil
}

// ImageHash is the hash a sapient signer leaf commits to for this session
func ImageHash(s *SessionPermissions) (common.Hash, error) {
	enc, err := Encode(s)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// CallSignature is the session key's signature over one call of a batch
type CallSignature struct {
	PermissionIndex uint8
	Signature       signature.HashSignature
}

// SessionSignature is the data of a session module's sapient signature
type SessionSignature struct {
	Permissions SessionPermissions
	Calls       []CallSignature
}

// EncodeSignature packs uint24 len ‖ permissions ‖ count(1) ‖ (index(1) ‖ r ‖ yParityAndS)*
func EncodeSignature(s *SessionSignature) ([]byte, error) {
	perms, err := Encode(&s.Permissions)
	if err != nil {
		return nil, err
	}
	if len(perms) >= 1<<24 {
		return nil, fmt.Errorf("%w: permissions of %d bytes", domain.ErrUnencodable, len(perms))
	}
	if len(s.Calls) > 255 {
		return nil, fmt.Errorf("%w: %d call signatures", domain.ErrUnencodable, len(s.Calls))
	}

	var buf bytes.Buffer
	buf.Write([]byte{byte(len(perms) >> 16), byte(len(perms) >> 8), byte(len(perms))})
	buf.Write(perms)
	buf.WriteByte(byte(len(s.Calls)))
	for i, c := range s.Calls {
		if int(c.PermissionIndex) >= len(s.Permissions.Permissions) {
			return nil, fmt.Errorf("%w: call %d uses permission %d of %d", domain.ErrUnencodable, i, c.PermissionIndex, len(s.Permissions.Permissions))
		}
		compact, err := signature.Compact(c.Signature.R, c.Signature.S, c.Signature.YParity)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		buf.WriteByte(c.PermissionIndex)
		buf.Write(compact)
	}
	return buf.Bytes(), nil
}

// DecodeSignature parses a session sapient signature; all input must be consumed
func DecodeSignature(data []byte) (*SessionSignature, error) {
	r := &reader{data: data}
	size, err := r.take(3, "permissions length")
	if err != nil {
		return nil, err
	}
	n := int(size[0])<<16 | int(size[1])<<8 | int(size[2])
	body, err := r.take(n, "permissions")
	if err != nil {
		return nil, err
	}
	perms, consumed, err := Decode(body)
	if err != nil {
		return nil, err
	}
	if consumed != n {
		return nil, &domain.StructuralDecodeError{Offset: 3 + consumed, Reason: "trailing bytes after permissions"}
	}

	out := &SessionSignature{Permissions: *perms}
	count, err := r.readByte("call count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.readByte("permission index")
		if err != nil {
			return nil, err
		}
		compact, err := r.take(64, "call signature")
		if err != nil {
			return nil, err
		}
		rr, ss, v, err := signature.FromCompact(compact)
		if err != nil {
			return nil, err
		}
		out.Calls = append(out.Calls, CallSignature{
			PermissionIndex: idx,
			Signature:       signature.HashSignature{R: rr, S: ss, YParity: v},
		})
	}
	if r.off != len(data) {
		return nil, &domain.StructuralDecodeError{Offset: r.off, Reason: "trailing bytes after session signature"}
	}
	return out, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if n > len(r.data)-r.off {
		return nil, &domain.StructuralDecodeError{
			Offset: r.off,
			Reason: fmt.Sprintf("truncated %s: need %d bytes, have %d", what, n, len(r.data)-r.off),
		}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readByte(what string) (byte, error) {
	b, err := r.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) address(what string) (common.Address, error) {
	b, err := r.take(common.AddressLength, what)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

func (r *reader) hash(what string) (common.Hash, error) {
	b, err := r.take(common.HashLength, what)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}

func (r *reader) readBig(what string) (*big.Int, error) {
	b, err := r.take(common.HashLength, what)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}
