package signers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/config"
	"github.com/trebuchet-org/treb-wallet/internal/domain/permission"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// Factory builds signer backends from wallet.toml signer entries and registers
// them with the orchestrator
type Factory struct {
	projectRoot  string
	orchestrator *usecase.Orchestrator
	authorize    *usecase.AuthorizeSessionCall
	timeout      time.Duration
	log          *slog.Logger
}

// NewFactory creates a signer factory. Relative file references in signer entries
// resolve against the project root.
func NewFactory(cfg *config.RuntimeConfig, orchestrator *usecase.Orchestrator, authorize *usecase.AuthorizeSessionCall, log *slog.Logger) *Factory {
	return &Factory{
		projectRoot:  cfg.ProjectRoot,
		orchestrator: orchestrator,
		authorize:    authorize,
		timeout:      cfg.Timeout,
		log:          log,
	}
}

// Build creates the named signers, or every configured signer when names is empty.
// Nested signers find their inner signers through the orchestrator at signing time,
// so inner signers must be built too.
func (f *Factory) Build(cfg *config.WalletFileConfig, names []string) ([]usecase.Signer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no wallet configuration loaded")
	}
	if len(names) == 0 {
		names = lo.Keys(cfg.Signers)
		sort.Strings(names)
	}

	var out []usecase.Signer
	for _, name := range lo.Uniq(names) {
		sc, ok := cfg.Signers[name]
		if !ok {
			return nil, fmt.Errorf("signer %q is not configured", name)
		}
		s, err := f.build(cfg, name, sc)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", name, err)
		}
		f.orchestrator.Register(s)
		out = append(out, s)
	}
	return out, nil
}

func (f *Factory) build(cfg *config.WalletFileConfig, name string, sc config.SignerConfig) (usecase.Signer, error) {
	switch sc.Type {
	case config.SignerTypePrivateKey:
		scheme, err := ParseScheme(sc.Scheme)
		if err != nil {
			return nil, err
		}
		s, err := NewLocalSignerFromHex(sc.PrivateKey, scheme)
		if err != nil {
			return nil, err
		}
		if sc.Address != "" {
			addr, err := parseAddress(sc.Address)
			if err != nil {
				return nil, err
			}
			if addr != s.Address() {
				return nil, fmt.Errorf("private key belongs to %s, not %s", s.Address().Hex(), addr.Hex())
			}
		}
		return s, nil

	case config.SignerTypeGuard:
		addr, err := parseAddress(sc.Address)
		if err != nil {
			return nil, err
		}
		if sc.URL == "" {
			return nil, fmt.Errorf("guard signer needs a url")
		}
		return NewGuardSigner(addr, sc.URL, sc.Token, f.timeout, f.log), nil

	case config.SignerTypeNested:
		addr, err := parseAddress(sc.Address)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(f.resolve(sc.Config))
		if err != nil {
			return nil, fmt.Errorf("failed to read nested configuration: %w", err)
		}
		inner, err := topology.ConfigFromJSON(data)
		if err != nil {
			return nil, err
		}
		for _, ref := range sc.Signers {
			if ref == name {
				return nil, fmt.Errorf("nested signer cannot list itself")
			}
			if _, ok := cfg.Signers[ref]; !ok {
				return nil, fmt.Errorf("inner signer %q is not configured", ref)
			}
		}
		return NewNestedWalletSigner(addr, inner, f.orchestrator, nil, cfg.PruneSignatures(), f.log)

	case config.SignerTypeSession:
		manager := sc.Address
		if manager == "" {
			manager = cfg.Session.Manager
		}
		addr, err := parseAddress(manager)
		if err != nil {
			return nil, fmt.Errorf("session manager: %w", err)
		}
		key, err := NewLocalSignerFromHex(sc.PrivateKey, SchemeHash)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(f.resolve(sc.Permissions))
		if err != nil {
			return nil, fmt.Errorf("failed to read session permissions: %w", err)
		}
		session, err := permission.SessionFromJSON(data)
		if err != nil {
			return nil, err
		}
		return NewSessionSigner(addr, key, session, f.authorize, f.log)

	default:
		return nil, fmt.Errorf("unknown signer type %q", sc.Type)
	}
}

func (f *Factory) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(f.projectRoot, path)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
