package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/models"
	"github.com/trebuchet-org/treb-wallet/internal/domain/payload"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

const (
	StateDir           = "wallet"
	ConfigurationsFile = "configurations.json"
	TreesFile          = "trees.json"
	DeploysFile        = "deploys.json"
	UpdatesFile        = "updates.json"
	WitnessesFile      = "witnesses.json"
	PayloadsFile       = "payloads.json"
)

// FileRepository stores wallet state in json files under <data dir>/wallet
type FileRepository struct {
	dir            string
	mu             sync.RWMutex
	configurations map[common.Hash]*topology.Config
	trees          map[common.Hash]json.RawMessage
	deploys        map[common.Address]*models.Deploy
	updates        []*models.ConfigUpdate
	witnesses      map[string]*models.Witness
	payloads       map[common.Hash]*models.StoredPayload
}

// NewFileRepository opens the state directory under dataDir, creating it if needed
func NewFileRepository(dataDir string) (*FileRepository, error) {
	dir := filepath.Join(dataDir, StateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	r := &FileRepository{
		dir:            dir,
		configurations: make(map[common.Hash]*topology.Config),
		trees:          make(map[common.Hash]json.RawMessage),
		deploys:        make(map[common.Address]*models.Deploy),
		witnesses:      make(map[string]*models.Witness),
		payloads:       make(map[common.Hash]*models.StoredPayload),
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load wallet state: %w", err)
	}
	return r, nil
}

func (r *FileRepository) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := []struct {
		name string
		v    any
	}{
		{ConfigurationsFile, &r.configurations},
		{TreesFile, &r.trees},
		{DeploysFile, &r.deploys},
		{UpdatesFile, &r.updates},
		{WitnessesFile, &r.witnesses},
		{PayloadsFile, &r.payloads},
	}
	for _, f := range files {
		if err := r.loadFile(f.name, f.v); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f.name, err)
		}
	}
	return nil
}

func (r *FileRepository) loadFile(filename string, v any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, filename))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// saveFile writes v through a temp file and an atomic rename
func (r *FileRepository) saveFile(filename string, v any) error {
	path := filepath.Join(r.dir, filename)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// GetConfiguration returns the configuration with the given image hash
func (r *FileRepository) GetConfiguration(ctx context.Context, imageHash common.Hash) (*topology.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configurations[imageHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

// SaveConfiguration stores cfg under its image hash
func (r *FileRepository) SaveConfiguration(ctx context.Context, cfg *topology.Config) error {
	imageHash, err := cfg.ImageHash()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *cfg
	r.configurations[imageHash] = &clone
	return r.saveFile(ConfigurationsFile, r.configurations)
}

// GetDeploy returns the deploy record of a wallet
func (r *FileRepository) GetDeploy(ctx context.Context, wallet common.Address) (*models.Deploy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deploys[wallet]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

// SaveDeploy stores the deploy record of a wallet
func (r *FileRepository) SaveDeploy(ctx context.Context, deploy *models.Deploy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *deploy
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	r.deploys[deploy.Wallet] = &clone
	return r.saveFile(DeploysFile, r.deploys)
}

func witnessKey(wallet, signer common.Address) string {
	return strings.ToLower(wallet.Hex() + "/" + signer.Hex())
}

// GetWitnessFor returns the latest signature signer produced for wallet
func (r *FileRepository) GetWitnessFor(ctx context.Context, wallet, signer common.Address) (*models.Witness, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.witnesses[witnessKey(wallet, signer)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *w
	return &clone, nil
}

// SaveWitnesses records one witness per signed leaf of signatures
func (r *FileRepository) SaveWitnesses(ctx context.Context, wallet common.Address, chainID uint64, p payload.Payload, signatures signature.RawTopology) error {
	now := time.Now()
	var witnesses []*models.Witness
	signature.Signed(signatures, func(leaf signature.RawTopology) {
		var signer common.Address
		switch l := leaf.(type) {
		case signature.RawSignerLeaf:
			signer = l.Address
		case signature.RawSapientSignerLeaf:
			signer = l.Address
		default:
			return
		}
		witnesses = append(witnesses, &models.Witness{
			Wallet:    wallet,
			Signer:    signer,
			ChainID:   chainID,
			Payload:   p,
			Leaf:      leaf,
			CreatedAt: now,
		})
	})
	if len(witnesses) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range witnesses {
		r.witnesses[witnessKey(w.Wallet, w.Signer)] = w
	}
	return r.saveFile(WitnessesFile, r.witnesses)
}

// GetConfigurationUpdates returns the updates of wallet past the checkpoint of
// fromImageHash in checkpoint order. Without opts.AllUpdates only the newest is returned.
func (r *FileRepository) GetConfigurationUpdates(ctx context.Context, wallet common.Address, fromImageHash common.Hash, opts usecase.UpdateOptions) ([]*models.ConfigUpdate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, ok := r.configurations[fromImageHash]
	if !ok {
		return nil, fmt.Errorf("configuration %s: %w", fromImageHash.Hex(), domain.ErrNotFound)
	}
	out := lo.Filter(r.updates, func(u *models.ConfigUpdate, _ int) bool {
		return u.Wallet == wallet && u.Checkpoint > from.Checkpoint
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	if !opts.AllUpdates && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return lo.Map(out, func(u *models.ConfigUpdate, _ int) *models.ConfigUpdate {
		clone := *u
		return &clone
	}), nil
}

// SaveUpdate appends a configuration update. Its checkpoint must be above every
// update already stored for the wallet, and it must start from the latest one.
func (r *FileRepository) SaveUpdate(ctx context.Context, update *models.ConfigUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.ConfigUpdate
	for _, u := range r.updates {
		if u.Wallet != update.Wallet {
			continue
		}
		if u.ImageHash == update.ImageHash && u.Checkpoint == update.Checkpoint {
			return nil
		}
		if u.Checkpoint >= update.Checkpoint {
			return fmt.Errorf("%w: wallet %s already has an update at checkpoint %d", domain.ErrCheckpointRegression, update.Wallet.Hex(), u.Checkpoint)
		}
		if latest == nil || u.Checkpoint > latest.Checkpoint {
			latest = u
		}
	}
	if latest != nil && latest.ImageHash != update.FromImageHash {
		return fmt.Errorf("%w: update starts from %s but wallet %s is at %s", domain.ErrCheckpointRegression, update.FromImageHash.Hex(), update.Wallet.Hex(), latest.ImageHash.Hex())
	}
	clone := *update
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	r.updates = append(r.updates, &clone)
	return r.saveFile(UpdatesFile, r.updates)
}

// GetTree returns the topology with the given root hash
func (r *FileRepository) GetTree(ctx context.Context, rootHash common.Hash) (topology.Topology, error) {
	r.mu.RLock()
	data, ok := r.trees[rootHash]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return topology.FromJSON(data)
}

// SaveTree stores tree under its root hash
func (r *FileRepository) SaveTree(ctx context.Context, tree topology.Topology) error {
	root, err := topology.Hash(tree)
	if err != nil {
		return err
	}
	data, err := topology.ToJSON(tree)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trees[root] = data
	return r.saveFile(TreesFile, r.trees)
}

// GetPayload returns the payload stored under opHash
func (r *FileRepository) GetPayload(ctx context.Context, opHash common.Hash) (*models.StoredPayload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payloads[opHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

// SavePayload stores a payload under its op hash
func (r *FileRepository) SavePayload(ctx context.Context, stored *models.StoredPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *stored
	r.payloads[stored.OpHash] = &clone
	return r.saveFile(PayloadsFile, r.payloads)
}

// Ensure FileRepository implements StateProvider
var _ usecase.StateProvider = (*FileRepository)(nil)
