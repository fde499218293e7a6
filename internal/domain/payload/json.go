package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain/jsonx"
)

type callJSON struct {
	To              jsonx.Address `json:"to"`
	Value           jsonx.Big     `json:"value"`
	Data            hexutil.Bytes `json:"data"`
	GasLimit        jsonx.Big     `json:"gasLimit"`
	DelegateCall    bool          `json:"delegateCall"`
	OnlyFallback    bool          `json:"onlyFallback"`
	BehaviorOnError string        `json:"behaviorOnError"`
}

type payloadJSON struct {
	Type          Kind            `json:"type"`
	Calls         []callJSON      `json:"calls,omitempty"`
	Space         *jsonx.Big      `json:"space,omitempty"`
	Nonce         *jsonx.Big      `json:"nonce,omitempty"`
	Message       *hexutil.Bytes  `json:"message,omitempty"`
	ImageHash     *jsonx.Hash     `json:"imageHash,omitempty"`
	Digest        *jsonx.Hash     `json:"digest,omitempty"`
	ParentWallets []jsonx.Address `json:"parentWallets,omitempty"`
}

// ToJSON projects a payload to its tagged JSON form
func ToJSON(p Payload) ([]byte, error) {
	out := payloadJSON{
		Type: p.Kind(),
		ParentWallets: lo.Map(p.Parents(), func(a common.Address, _ int) jsonx.Address {
			return jsonx.Address(a)
		}),
	}

	switch v := p.(type) {
	case *Calls:
		out.Calls = lo.Map(v.Calls, func(c Call, _ int) callJSON {
			return callJSON{
				To:              jsonx.Address(c.To),
				Value:           jsonx.NewBig(c.Value),
				Data:            c.Data,
				GasLimit:        jsonx.NewBig(c.GasLimit),
				DelegateCall:    c.DelegateCall,
				OnlyFallback:    c.OnlyFallback,
				BehaviorOnError: c.BehaviorOnError.String(),
			}
		})
		space, nonce := jsonx.NewBig(v.Space), jsonx.NewBig(v.Nonce)
		out.Space, out.Nonce = &space, &nonce
	case *Message:
		msg := hexutil.Bytes(v.Message)
		out.Message = &msg
	case *ConfigUpdate:
		h := jsonx.Hash(v.ImageHash)
		out.ImageHash = &h
	case *Digest:
		h := jsonx.Hash(v.Digest)
		out.Digest = &h
	default:
		return nil, fmt.Errorf("unknown payload kind %T", p)
	}
	return json.Marshal(out)
}

// FromJSON parses a payload from its tagged JSON form
func FromJSON(data []byte) (Payload, error) {
	var in payloadJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	var parents []common.Address
	if len(in.ParentWallets) > 0 {
		parents = lo.Map(in.ParentWallets, func(a jsonx.Address, _ int) common.Address {
			return common.Address(a)
		})
	}

	switch in.Type {
	case KindCalls:
		calls := make([]Call, 0, len(in.Calls))
		for i, c := range in.Calls {
			b, err := ParseBehaviorOnError(c.BehaviorOnError)
			if err != nil {
				return nil, fmt.Errorf("call %d: %w", i, err)
			}
			calls = append(calls, Call{
				To:              common.Address(c.To),
				Value:           c.Value.Int,
				Data:            c.Data,
				GasLimit:        c.GasLimit.Int,
				DelegateCall:    c.DelegateCall,
				OnlyFallback:    c.OnlyFallback,
				BehaviorOnError: b,
			})
		}
		p := &Calls{Calls: calls, ParentWallets: parents}
		if in.Space != nil {
			p.Space = in.Space.Int
		}
		if in.Nonce != nil {
			p.Nonce = in.Nonce.Int
		}
		return p, nil
	case KindMessage:
		if in.Message == nil {
			return nil, fmt.Errorf("message payload requires message")
		}
		return &Message{Message: *in.Message, ParentWallets: parents}, nil
	case KindConfigUpdate:
		if in.ImageHash == nil {
			return nil, fmt.Errorf("config-update payload requires imageHash")
		}
		return &ConfigUpdate{ImageHash: common.Hash(*in.ImageHash), ParentWallets: parents}, nil
	case KindDigest:
		if in.Digest == nil {
			return nil, fmt.Errorf("digest payload requires digest")
		}
		return &Digest{Digest: common.Hash(*in.Digest), ParentWallets: parents}, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", in.Type)
	}
}

// ParseBehaviorOnError accepts the names printed by BehaviorOnError.String
func ParseBehaviorOnError(s string) (BehaviorOnError, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return IgnoreError, nil
	case "revert":
		return RevertOnError, nil
	case "abort":
		return AbortOnError, nil
	default:
		return 0, fmt.Errorf("invalid behaviorOnError %q", s)
	}
}
