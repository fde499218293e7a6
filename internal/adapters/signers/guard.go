package signers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// GuardRequest is the body posted to {url}/sign
type GuardRequest struct {
	RoundID string          `json:"roundId"`
	Wallet  common.Address  `json:"wallet"`
	ChainID *hexutil.Big    `json:"chainId"`
	Digest  common.Hash     `json:"digest"`
	Payload json.RawMessage `json:"payload"`
}

// GuardResponse is the guard's answer. Type is hash, eth_sign or erc1271.
type GuardResponse struct {
	Type      string        `json:"type"`
	Signature hexutil.Bytes `json:"signature"`
}

// GuardSigner asks a remote co-signing service to sign
type GuardSigner struct {
	address    common.Address
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewGuardSigner creates a guard signer for the service at baseURL
func NewGuardSigner(address common.Address, baseURL, token string, timeout time.Duration, log *slog.Logger) *GuardSigner {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GuardSigner{
		address: address,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With("signer", "guard", "address", address.Hex()),
	}
}

// Address returns the guard's signer address
func (g *GuardSigner) Address() common.Address {
	return g.address
}

// Sign posts the request to the guard and parses its signature
func (g *GuardSigner) Sign(ctx context.Context, req *usecase.SignRequest) (signature.Signature, error) {
	p, err := payload.ToJSON(req.Payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(GuardRequest{
		RoundID: req.RoundID,
		Wallet:  req.Wallet,
		ChainID: (*hexutil.Big)(req.ChainID),
		Digest:  req.Digest,
		Payload: p,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode guard request: %w", err)
	}

	url := g.baseURL + "/sign"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	g.log.Debug("requesting guard signature", "url", url, "round", req.RoundID)
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach guard: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guard error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out GuardResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode guard response: %w", err)
	}
	return out.decode()
}

func (r *GuardResponse) decode() (signature.Signature, error) {
	switch strings.ToLower(r.Type) {
	case "", "hash":
		return signature.FromRSV(r.Signature)
	case "eth_sign":
		h, err := signature.FromRSV(r.Signature)
		if err != nil {
			return nil, err
		}
		return signature.EthSignSignature{R: h.R, S: h.S, YParity: h.YParity}, nil
	case "erc1271":
		return signature.ERC1271Signature{Data: r.Signature}, nil
	default:
		return nil, fmt.Errorf("guard returned unknown signature type %q", r.Type)
	}
}

var _ usecase.Signer = (*GuardSigner)(nil)
