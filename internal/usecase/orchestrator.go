package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

// SignerState is the progress of one signer within one round
type SignerState string

const (
	SignerInitial SignerState = "initial"
	SignerSigning SignerState = "signing"
	SignerSigned  SignerState = "signed"
	SignerError   SignerState = "error"
)

// Terminal reports whether the state can no longer change
func (s SignerState) Terminal() bool {
	return s == SignerSigned || s == SignerError
}

func (s SignerState) rank() int {
	switch s {
	case SignerSigning:
		return 1
	case SignerSigned, SignerError:
		return 2
	default:
		return 0
	}
}

// SignerStatus is the state of one signer. Signature is set once Signed and Err
// once Error.
type SignerStatus struct {
	Address   common.Address
	State     SignerState
	Signature signature.Signature
	Err       error
	UpdatedAt time.Time
}

// RoundSnapshot is an immutable view of a round
type RoundSnapshot struct {
	RoundID  string
	Request  SignRequest
	Statuses map[common.Address]SignerStatus
	// Resolved is true for the snapshot the round resolved with and every later one
	Resolved bool
}

// Count returns the number of signers in state
func (s *RoundSnapshot) Count(state SignerState) int {
	return lo.CountBy(lo.Values(s.Statuses), func(st SignerStatus) bool { return st.State == state })
}

// Pending returns the number of signers not yet in a terminal state
func (s *RoundSnapshot) Pending() int {
	return lo.CountBy(lo.Values(s.Statuses), func(st SignerStatus) bool { return !st.State.Terminal() })
}

// Signatures returns the signatures collected so far
func (s *RoundSnapshot) Signatures() map[common.Address]signature.Signature {
	out := make(map[common.Address]signature.Signature)
	for addr, st := range s.Statuses {
		if st.State == SignerSigned {
			out[addr] = st.Signature
		}
	}
	return out
}

// Ordered returns the statuses sorted by address
func (s *RoundSnapshot) Ordered() []SignerStatus {
	out := lo.Values(s.Statuses)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

func (s *RoundSnapshot) clone() RoundSnapshot {
	out := *s
	out.Statuses = make(map[common.Address]SignerStatus, len(s.Statuses))
	for k, v := range s.Statuses {
		out.Statuses[k] = v
	}
	return out
}

// Predicate decides whether a round may resolve
type Predicate func(snapshot *RoundSnapshot) bool

// ThresholdReached resolves once the signed signers carry the configuration's threshold
func ThresholdReached(cfg *topology.Config) Predicate {
	return func(s *RoundSnapshot) bool {
		weight := topology.SignedWeight(cfg.Topology, func(addr common.Address) bool {
			st, ok := s.Statuses[addr]
			return ok && st.State == SignerSigned
		})
		return weight >= cfg.Threshold
	}
}

// AllSettled resolves once every signer is terminal
func AllSettled(s *RoundSnapshot) bool {
	return s.Pending() == 0
}

// Orchestrator requests signatures from signer backends concurrently and resolves
// each round exactly once
type Orchestrator struct {
	mu        sync.RWMutex
	signers   map[common.Address]Signer
	observers map[int]func(RoundSnapshot)
	nextObs   int
	rounds    map[string]*RoundSnapshot
	log       *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given signer backends
func NewOrchestrator(signers []Signer, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		signers:   make(map[common.Address]Signer),
		observers: make(map[int]func(RoundSnapshot)),
		rounds:    make(map[string]*RoundSnapshot),
		log:       log.With("component", "orchestrator"),
	}
	for _, s := range signers {
		o.Register(s)
	}
	return o
}

// Register adds or replaces the backend for a signer address
func (o *Orchestrator) Register(s Signer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signers[s.Address()] = s
}

// Signers returns the addresses of all registered backends
func (o *Orchestrator) Signers() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return lo.Keys(o.signers)
}

// Subscribe registers fn to receive a snapshot after every status change of every
// round. Calls happen on the round's coordinator goroutine.
func (o *Orchestrator) Subscribe(fn func(RoundSnapshot)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// Round returns the latest snapshot of a round, including results that arrived
// after it resolved
func (o *Orchestrator) Round(id string) (RoundSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.rounds[id]
	if !ok {
		return RoundSnapshot{}, false
	}
	return s.clone(), true
}

type statusUpdate struct {
	addr      common.Address
	state     SignerState
	signature signature.Signature
	err       error
}

// Sign runs one round. candidates selects the signers to ask; none means every
// registered signer. The round resolves with the first snapshot for which done
// returns true or no signer is pending. Signers run detached from ctx: cancelling
// ctx returns early but in-flight signers still finish and are recorded.
func (o *Orchestrator) Sign(ctx context.Context, req SignRequest, candidates []common.Address, done Predicate) (*RoundSnapshot, error) {
	if done == nil {
		done = AllSettled
	}
	req.RoundID = uuid.New().String()

	o.mu.RLock()
	if len(candidates) == 0 {
		candidates = lo.Keys(o.signers)
	}
	candidates = lo.Uniq(candidates)
	backends := make(map[common.Address]Signer, len(candidates))
	for _, addr := range candidates {
		if s, ok := o.signers[addr]; ok {
			backends[addr] = s
		}
	}
	o.mu.RUnlock()

	now := time.Now()
	state := &RoundSnapshot{
		RoundID:  req.RoundID,
		Request:  req,
		Statuses: make(map[common.Address]SignerStatus, len(candidates)),
	}
	for _, addr := range candidates {
		st := SignerStatus{Address: addr, State: SignerInitial, UpdatedAt: now}
		if _, ok := backends[addr]; !ok {
			st.State = SignerError
			st.Err = fmt.Errorf("%w: no backend for %s", domain.ErrSigner, addr.Hex())
		}
		state.Statuses[addr] = st
	}
	o.store(state)

	log := o.log.With("round", req.RoundID, "digest", req.Digest.Hex())
	log.Debug("starting round", "signers", len(backends), "candidates", len(candidates))

	result := make(chan RoundSnapshot, 1)
	initial := state.clone()
	o.publish(initial)
	if initial.Pending() == 0 || done(&initial) {
		state.Resolved = true
		o.store(state)
		resolved := state.clone()
		if len(backends) == 0 {
			return &resolved, nil
		}
		result <- resolved
	}

	updates := make(chan statusUpdate, 2*len(backends))
	signCtx := context.WithoutCancel(ctx)
	for addr, s := range backends {
		go o.run(signCtx, addr, s, &req, updates)
	}
	go o.coordinate(state, len(backends), updates, done, result, log)

	select {
	case snap := <-result:
		return &snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run drives one signer backend and reports exactly one terminal update
func (o *Orchestrator) run(ctx context.Context, addr common.Address, s Signer, req *SignRequest, updates chan<- statusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			updates <- statusUpdate{addr: addr, state: SignerError, err: fmt.Errorf("%w: backend panicked: %v", domain.ErrSigner, r)}
		}
	}()

	if ec, ok := s.(EligibilityChecker); ok {
		if err := ec.CheckEligibility(ctx, req); err != nil {
			updates <- statusUpdate{addr: addr, state: SignerError, err: fmt.Errorf("%w: %v", domain.ErrSigner, err)}
			return
		}
	}

	updates <- statusUpdate{addr: addr, state: SignerSigning}
	sig, err := s.Sign(ctx, req)
	switch {
	case err != nil:
		updates <- statusUpdate{addr: addr, state: SignerError, err: fmt.Errorf("%w: %w", domain.ErrSigner, err)}
	case sig == nil:
		updates <- statusUpdate{addr: addr, state: SignerError, err: fmt.Errorf("%w: backend returned no signature", domain.ErrSigner)}
	default:
		updates <- statusUpdate{addr: addr, state: SignerSigned, signature: sig}
	}
}

// coordinate owns the round state until every backend has reported a terminal state
func (o *Orchestrator) coordinate(state *RoundSnapshot, backends int, updates <-chan statusUpdate, done Predicate, result chan<- RoundSnapshot, log *slog.Logger) {
	for terminal := 0; terminal < backends; {
		u := <-updates
		current := state.Statuses[u.addr]
		if current.State.Terminal() || u.state.rank() <= current.State.rank() {
			log.Warn("ignoring non-monotonic signer update", "signer", u.addr.Hex(), "from", current.State, "to", u.state)
			continue
		}
		state.Statuses[u.addr] = SignerStatus{
			Address:   u.addr,
			State:     u.state,
			Signature: u.signature,
			Err:       u.err,
			UpdatedAt: time.Now(),
		}
		if u.state.Terminal() {
			terminal++
		}
		if u.state == SignerError {
			log.Debug("signer failed", "signer", u.addr.Hex(), "error", u.err)
		}

		snap := state.clone()
		if !state.Resolved && (snap.Pending() == 0 || done(&snap)) {
			state.Resolved = true
			snap.Resolved = true
			log.Debug("round resolved", "signed", snap.Count(SignerSigned), "failed", snap.Count(SignerError), "pending", snap.Pending())
			result <- snap.clone()
		}
		o.store(state)
		o.publish(snap)
	}
}

func (o *Orchestrator) store(state *RoundSnapshot) {
	snap := state.clone()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rounds[state.RoundID] = &snap
}

func (o *Orchestrator) publish(snap RoundSnapshot) {
	o.mu.RLock()
	observers := lo.Values(o.observers)
	o.mu.RUnlock()
	for _, fn := range observers {
		fn(snap.clone())
	}
}
