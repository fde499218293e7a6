package signers

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// Scheme selects how a local key signs the wallet digest
type Scheme string

const (
	SchemeHash    Scheme = "hash"
	SchemeEthSign Scheme = "eth_sign"
)

// ParseScheme parses a scheme name, defaulting to SchemeHash
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(s)) {
	case "", SchemeHash:
		return SchemeHash, nil
	case SchemeEthSign, "ethsign":
		return SchemeEthSign, nil
	default:
		return "", fmt.Errorf("unknown signing scheme %q", s)
	}
}

// LocalSigner signs with an in-process secp256k1 key
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	scheme  Scheme
}

// NewLocalSigner creates a signer for key
func NewLocalSigner(key *ecdsa.PrivateKey, scheme Scheme) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		scheme:  scheme,
	}
}

// NewLocalSignerFromHex parses a hex private key, with or without 0x prefix
func NewLocalSignerFromHex(hexKey string, scheme Scheme) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalSigner(key, scheme), nil
}

// Address returns the signer's address
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// Sign signs the request digest with the configured scheme
func (s *LocalSigner) Sign(ctx context.Context, req *usecase.SignRequest) (signature.Signature, error) {
	if s.scheme == SchemeEthSign {
		sig, err := s.sign(accounts.TextHash(req.Digest[:]))
		if err != nil {
			return nil, err
		}
		return signature.EthSignSignature{R: sig.R, S: sig.S, YParity: sig.YParity}, nil
	}
	return s.sign(req.Digest[:])
}

// SignDigest signs digest directly. Session keys use it for call digests.
func (s *LocalSigner) SignDigest(ctx context.Context, digest common.Hash) (signature.HashSignature, error) {
	return s.sign(digest[:])
}

func (s *LocalSigner) sign(digest []byte) (signature.HashSignature, error) {
	rsv, err := crypto.Sign(digest, s.key)
	if err != nil {
		return signature.HashSignature{}, fmt.Errorf("failed to sign: %w", err)
	}
	return signature.FromRSV(rsv)
}

var (
	_ usecase.Signer    = (*LocalSigner)(nil)
	_ usecase.KeySigner = (*LocalSigner)(nil)
)
