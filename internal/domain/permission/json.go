package permission

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain/jsonx"
)

type ruleJSON struct {
	Operation  string     `json:"operation"`
	Cumulative bool       `json:"cumulative"`
	Value      jsonx.Hash `json:"value"`
	Offset     jsonx.Big  `json:"offset"`
	Mask       jsonx.Hash `json:"mask"`
}

type permissionJSON struct {
	Target jsonx.Address   `json:"target"`
	Rules  []ParameterRule `json:"rules"`
}

type sessionJSON struct {
	Signer      jsonx.Address `json:"signer"`
	ChainID     jsonx.Big     `json:"chainId"`
	ValueLimit  jsonx.Big     `json:"valueLimit"`
	Deadline    jsonx.Uint64  `json:"deadline"`
	Permissions []Permission  `json:"permissions"`
}

func (r ParameterRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		Operation:  r.Operation.String(),
		Cumulative: r.Cumulative,
		Value:      jsonx.Hash(r.Value),
		Offset:     jsonx.NewBig(r.Offset.ToBig()),
		Mask:       jsonx.Hash(r.Mask),
	})
}

func (r *ParameterRule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	op, err := ParseOperation(in.Operation)
	if err != nil {
		return err
	}
	*r = ParameterRule{
		Operation:  op,
		Cumulative: in.Cumulative,
		Value:      common.Hash(in.Value),
		Mask:       common.Hash(in.Mask),
	}
	if in.Offset.Int != nil {
		offset, overflow := uint256.FromBig(in.Offset.Int)
		if overflow {
			return fmt.Errorf("offset %s does not fit uint256", in.Offset.Int)
		}
		r.Offset = *offset
	}
	return nil
}

func (p Permission) MarshalJSON() ([]byte, error) {
	rules := p.Rules
	if rules == nil {
		rules = []ParameterRule{}
	}
	return json.Marshal(permissionJSON{Target: jsonx.Address(p.Target), Rules: rules})
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var in permissionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Permission{Target: common.Address(in.Target)}
	if len(in.Rules) > 0 {
		p.Rules = in.Rules
	}
	return nil
}

func (s SessionPermissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		Signer:      jsonx.Address(s.Signer),
		ChainID:     jsonx.NewBig(s.ChainID),
		ValueLimit:  jsonx.NewBig(s.ValueLimit),
		Deadline:    jsonx.Uint64(s.Deadline),
		Permissions: s.Permissions,
	})
}

func (s *SessionPermissions) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = SessionPermissions{
		Signer:      common.Address(in.Signer),
		ChainID:     in.ChainID.Int,
		ValueLimit:  in.ValueLimit.Int,
		Deadline:    uint64(in.Deadline),
		Permissions: in.Permissions,
	}
	return nil
}

// SessionFromJSON parses and validates a session permission set
func SessionFromJSON(data []byte) (*SessionPermissions, error) {
	var s SessionPermissions
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Targets lists the distinct targets the session may call
func (s *SessionPermissions) Targets() []common.Address {
	return lo.Uniq(lo.Map(s.Permissions, func(p Permission, _ int) common.Address { return p.Target }))
}
