package blockchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
	"golang.org/x/sync/singleflight"
)

const erc1271ABI = `[{"type":"function","name":"isValidSignature","stateMutability":"view","inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"magicValue","type":"bytes4"}]}]`

// ERC1271MagicValue is returned by isValidSignature for a valid signature
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var erc1271 = lo.Must(abi.JSON(strings.NewReader(erc1271ABI)))

var slotArgs = abi.Arguments{
	{Type: lo.Must(abi.NewType("bytes32", "", nil))},
	{Type: lo.Must(abi.NewType("bytes32", "", nil))},
}

// Client is the subset of ethclient.Client the reader uses
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader reads session usage and checks contract signatures over RPC. It
// connects lazily on first use.
type ChainReader struct {
	network  *config.Network
	manager  common.Address
	baseSlot common.Hash
	log      *slog.Logger

	mu     sync.Mutex
	client Client
	group  singleflight.Group
}

// NewChainReader creates a reader for the configured network. The session manager
// and usage base slot come from the [session] section of wallet.toml.
func NewChainReader(cfg *config.RuntimeConfig, log *slog.Logger) (*ChainReader, error) {
	r := &ChainReader{
		network: cfg.Network,
		log:     log.With("component", "chain"),
	}
	if cfg.Wallet != nil {
		if m := cfg.Wallet.Session.Manager; m != "" {
			if !common.IsHexAddress(m) {
				return nil, fmt.Errorf("invalid session manager address %q", m)
			}
			r.manager = common.HexToAddress(m)
		}
		if s := cfg.Wallet.Session.UsageBaseSlot; s != "" {
			slot, err := parseSlot(s)
			if err != nil {
				return nil, err
			}
			r.baseSlot = slot
		}
	}
	return r, nil
}

// NewChainReaderWithClient creates a reader over an existing client
func NewChainReaderWithClient(client Client, manager common.Address, baseSlot common.Hash, log *slog.Logger) *ChainReader {
	return &ChainReader{
		client:   client,
		manager:  manager,
		baseSlot: baseSlot,
		log:      log.With("component", "chain"),
	}
}

// Connect dials rpcURL and checks the node serves chainID. A zero chainID accepts
// whatever the node reports.
func (r *ChainReader) Connect(ctx context.Context, rpcURL string, chainID uint64) error {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	networkChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID != 0 && networkChainID.Uint64() != chainID {
		client.Close()
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", chainID, networkChainID.Uint64())
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	r.log.Debug("connected", "chainId", networkChainID.Uint64())
	return nil
}

func (r *ChainReader) connection(ctx context.Context) (Client, error) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client != nil {
		return client, nil
	}
	if r.network == nil || r.network.RPCURL == "" {
		return nil, fmt.Errorf("not connected to blockchain: no rpc_url configured")
	}
	if err := r.Connect(ctx, r.network.RPCURL, r.network.ChainID); err != nil {
		return nil, err
	}
	return r.connection(ctx)
}

// UsageSlot is the storage slot of the usage counter for key in wallet's mapping:
// keccak256(abi.encode(key, keccak256(abi.encode(wallet, baseSlot))))
func UsageSlot(wallet common.Address, key, baseSlot common.Hash) common.Hash {
	inner := crypto.Keccak256Hash(lo.Must(slotArgs.Pack(common.BytesToHash(wallet.Bytes()), baseSlot)))
	return crypto.Keccak256Hash(lo.Must(slotArgs.Pack(key, inner)))
}

// GetUsage reads the cumulative usage counter for key. Identical concurrent reads
// share one RPC call.
func (r *ChainReader) GetUsage(ctx context.Context, wallet common.Address, key common.Hash) (*uint256.Int, error) {
	if r.manager == (common.Address{}) {
		return nil, fmt.Errorf("no session manager configured")
	}
	slot := UsageSlot(wallet, key, r.baseSlot)

	v, err, shared := r.group.Do(slot.Hex(), func() (interface{}, error) {
		client, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := client.StorageAt(ctx, r.manager, slot, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read usage slot %s: %w", slot.Hex(), err)
		}
		return new(uint256.Int).SetBytes(raw), nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("usage read", "wallet", wallet.Hex(), "key", key.Hex(), "shared", shared)
	return new(uint256.Int).Set(v.(*uint256.Int)), nil
}

// IsValidSignature calls isValidSignature on signer and compares the result with the
// ERC-1271 magic value. Addresses without code are never valid.
func (r *ChainReader) IsValidSignature(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	client, err := r.connection(ctx)
	if err != nil {
		return false, err
	}
	code, err := client.CodeAt(ctx, signer, nil)
	if err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	if len(code) == 0 {
		return false, nil
	}

	data, err := erc1271.Pack("isValidSignature", digest, sig)
	if err != nil {
		return false, fmt.Errorf("failed to encode isValidSignature: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: data}, nil)
	if err != nil {
		if !isRevert(err) {
			return false, fmt.Errorf("failed to call isValidSignature on %s: %w", signer.Hex(), err)
		}
		// Reverting validators reject the signature
		r.log.Debug("isValidSignature reverted", "signer", signer.Hex(), "error", err)
		return false, nil
	}
	return len(out) >= 4 && bytes.Equal(out[:4], ERC1271MagicValue[:]), nil
}

// revertErrorCode is the JSON-RPC error code nodes use for reverts carrying data
const revertErrorCode = 3

// isRevert reports whether a call failed inside the EVM rather than in transport
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), vm.ErrExecutionReverted.Error())
}

func parseSlot(s string) (common.Hash, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexBytes(s)
		if err != nil || len(b) > 32 {
			return common.Hash{}, fmt.Errorf("invalid usage base slot %q", s)
		}
		return common.BytesToHash(b), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("invalid usage base slot %q", s)
	}
	return common.BigToHash(n), nil
}

func hexBytes(s string) ([]byte, error) {
	s = s[2:]
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hexutil.Decode("0x" + s)
}

var (
	_ usecase.UsageReader      = (*ChainReader)(nil)
	_ usecase.ERC1271Validator = (*ChainReader)(nil)
)
