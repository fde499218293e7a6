package usecase

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

var (
	testWallet  = common.HexToAddress("0x000000000000000000000000000000000000beef")
	testChainID = big.NewInt(31337)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// keySigner is an in-process ECDSA signer backend
type keySigner struct {
	key     *ecdsa.PrivateKey
	ethSign bool
	gate    <-chan struct{}
	err     error
	calls   int
	mu      sync.Mutex
}

func newKeySigner(t *testing.T, seed byte) *keySigner {
	t.Helper()
	key, err := crypto.ToECDSA(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (s *keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *keySigner) Sign(ctx context.Context, req *SignRequest) (signature.Signature, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.ethSign {
		h, err := s.signRaw(accounts.TextHash(req.Digest[:]))
		if err != nil {
			return nil, err
		}
		return signature.EthSignSignature{R: h.R, S: h.S, YParity: h.YParity}, nil
	}
	return s.signRaw(req.Digest[:])
}

func (s *keySigner) SignDigest(ctx context.Context, digest common.Hash) (signature.HashSignature, error) {
	return s.signRaw(digest[:])
}

func (s *keySigner) signRaw(digest []byte) (signature.HashSignature, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return signature.HashSignature{}, err
	}
	return signature.FromRSV(sig)
}

// memState is an in-memory StateProvider
type memState struct {
	mu        sync.Mutex
	configs   map[common.Hash]*topology.Config
	deploys   map[common.Address]*models.Deploy
	witnesses map[[2]common.Address]*models.Witness
	updates   []*models.ConfigUpdate
	trees     map[common.Hash]topology.Topology
	payloads  map[common.Hash]*models.StoredPayload
}

func newMemState() *memState {
	return &memState{
		configs:   make(map[common.Hash]*topology.Config),
		deploys:   make(map[common.Address]*models.Deploy),
		witnesses: make(map[[2]common.Address]*models.Witness),
		trees:     make(map[common.Hash]topology.Topology),
		payloads:  make(map[common.Hash]*models.StoredPayload),
	}
}

func (m *memState) GetConfiguration(_ context.Context, imageHash common.Hash) (*topology.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[imageHash]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memState) SaveConfiguration(_ context.Context, cfg *topology.Config) error {
	h, err := cfg.ImageHash()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[h] = cfg
	return nil
}

func (m *memState) GetDeploy(_ context.Context, wallet common.Address) (*models.Deploy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deploys[wallet]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memState) SaveDeploy(_ context.Context, deploy *models.Deploy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploys[deploy.Wallet] = deploy
	return nil
}

func (m *memState) GetWitnessFor(_ context.Context, wallet, signer common.Address) (*models.Witness, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.witnesses[[2]common.Address{wallet, signer}]; ok {
		return w, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memState) SaveWitnesses(_ context.Context, wallet common.Address, chainID uint64, p payload.Payload, signatures signature.RawTopology) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	signature.Signed(signatures, func(leaf signature.RawTopology) {
		var signer common.Address
		switch l := leaf.(type) {
		case signature.RawSignerLeaf:
			signer = l.Address
		case signature.RawSapientSignerLeaf:
			signer = l.Address
		}
		m.witnesses[[2]common.Address{wallet, signer}] = &models.Witness{Wallet: wallet, Signer: signer, ChainID: chainID, Payload: p, Leaf: leaf}
	})
	return nil
}

func (m *memState) GetConfigurationUpdates(_ context.Context, wallet common.Address, from common.Hash, opts UpdateOptions) ([]*models.ConfigUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var floor uint64
	if c, ok := m.configs[from]; ok {
		floor = c.Checkpoint
	}
	var out []*models.ConfigUpdate
	for _, u := range m.updates {
		if u.Wallet == wallet && u.Checkpoint > floor {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	if !opts.AllUpdates && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out, nil
}

func (m *memState) SaveUpdate(_ context.Context, update *models.ConfigUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *memState) GetTree(_ context.Context, root common.Hash) (topology.Topology, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trees[root]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memState) SaveTree(_ context.Context, tree topology.Topology) error {
	h, err := topology.Hash(tree)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[h] = tree
	return nil
}

func (m *memState) GetPayload(_ context.Context, opHash common.Hash) (*models.StoredPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payloads[opHash]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memState) SavePayload(_ context.Context, stored *models.StoredPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[stored.OpHash] = stored
	return nil
}

// deploy records cfg as the wallet's initial configuration
func (m *memState) deploy(t *testing.T, wallet common.Address, cfg *topology.Config) common.Hash {
	t.Helper()
	require.NoError(t, m.SaveConfiguration(context.Background(), cfg))
	h, err := cfg.ImageHash()
	require.NoError(t, err)
	require.NoError(t, m.SaveDeploy(context.Background(), &models.Deploy{Wallet: wallet, ImageHash: h}))
	return h
}

func message(text string) payload.Payload {
	return &payload.Message{Message: []byte(text)}
}

// signAll signs p for wallet with every signer and fills the signatures into cfg
func signAll(t *testing.T, cfg *topology.Config, p payload.Payload, signers ...*keySigner) *signature.RawSignature {
	t.Helper()
	digest, err := payload.Hash(testWallet, testChainID, p)
	require.NoError(t, err)
	sigs := make(map[common.Address]signature.Signature)
	for _, s := range signers {
		sig, err := s.Sign(context.Background(), &SignRequest{Digest: digest})
		require.NoError(t, err)
		sigs[s.Address()] = sig
	}
	tree, err := signature.FillLeaves(cfg.Topology, sigs)
	require.NoError(t, err)
	return &signature.RawSignature{
		Configuration: signature.RawConfiguration{
			Threshold:    cfg.Threshold,
			Checkpoint:   cfg.Checkpoint,
			Checkpointer: cfg.Checkpointer,
			Topology:     tree,
		},
	}
}

func updateRecord(wallet common.Address, from, to common.Hash, checkpoint uint64) *models.ConfigUpdate {
	return &models.ConfigUpdate{Wallet: wallet, FromImageHash: from, ImageHash: to, Checkpoint: checkpoint}
}
