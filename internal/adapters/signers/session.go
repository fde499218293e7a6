package signers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// SessionSigner signs call batches with a session key on behalf of the session
// module. Every call must be authorized by the session's permissions.
type SessionSigner struct {
	manager   common.Address
	key       usecase.KeySigner
	session   *permission.SessionPermissions
	authorize *usecase.AuthorizeSessionCall
	log       *slog.Logger
}

// NewSessionSigner creates a session signer. manager is the session module address
// that appears as the sapient leaf in the wallet configuration.
func NewSessionSigner(manager common.Address, key usecase.KeySigner, session *permission.SessionPermissions, authorize *usecase.AuthorizeSessionCall, log *slog.Logger) (*SessionSigner, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session permissions: %w", err)
	}
	if key.Address() != session.Signer {
		return nil, fmt.Errorf("%w: session key %s does not match session signer %s", domain.ErrSigner, key.Address().Hex(), session.Signer.Hex())
	}
	return &SessionSigner{
		manager:   manager,
		key:       key,
		session:   session,
		authorize: authorize,
		log:       log.With("signer", "session", "manager", manager.Hex(), "key", key.Address().Hex()),
	}, nil
}

// Address returns the session module address
func (s *SessionSigner) Address() common.Address {
	return s.manager
}

// ImageHash returns the image hash of the session permissions
func (s *SessionSigner) ImageHash(ctx context.Context) (common.Hash, error) {
	return permission.ImageHash(s.session)
}

// CheckEligibility rejects payloads that are not call batches or that the session
// permissions do not allow as a whole, without signing anything
func (s *SessionSigner) CheckEligibility(ctx context.Context, req *usecase.SignRequest) error {
	calls, err := asCalls(req.Payload)
	if err != nil {
		return err
	}
	_, err = s.authorize.CheckBatch(ctx, s.params(req, calls))
	return err
}

// Sign authorizes and countersigns every call of the batch
func (s *SessionSigner) Sign(ctx context.Context, req *usecase.SignRequest) (signature.Signature, error) {
	calls, err := asCalls(req.Payload)
	if err != nil {
		return nil, err
	}

	auths, err := s.authorize.RunBatch(ctx, s.key, s.params(req, calls))
	if err != nil {
		return nil, err
	}
	out := &permission.SessionSignature{Permissions: *s.session}
	for _, auth := range auths {
		out.Calls = append(out.Calls, permission.CallSignature{
			PermissionIndex: uint8(auth.PermissionIndex),
			Signature:       auth.Signature,
		})
	}

	data, err := permission.EncodeSignature(out)
	if err != nil {
		return nil, err
	}
	s.log.Debug("session batch signed", "calls", len(calls.Calls), "round", req.RoundID)
	return signature.SapientSignature{Data: data}, nil
}

func (s *SessionSigner) params(req *usecase.SignRequest, calls *payload.Calls) usecase.AuthorizeSessionBatchParams {
	return usecase.AuthorizeSessionBatchParams{
		Wallet:  req.Wallet,
		ChainID: req.ChainID,
		Space:   calls.Space,
		Nonce:   calls.Nonce,
		Calls:   calls.Calls,
		Session: s.session,
	}
}

func asCalls(p payload.Payload) (*payload.Calls, error) {
	calls, ok := p.(*payload.Calls)
	if !ok {
		return nil, fmt.Errorf("%w: session keys only sign calls, got %s", domain.ErrPermissionNotMatched, p.Kind())
	}
	return calls, nil
}

var (
	_ usecase.SapientSigner      = (*SessionSigner)(nil)
	_ usecase.EligibilityChecker = (*SessionSigner)(nil)
)
