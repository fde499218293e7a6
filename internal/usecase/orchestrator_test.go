package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-wallet/internal/domain"
	"github.com/trebuchet-org/treb-wallet/internal/domain/signature"
	"github.com/trebuchet-org/treb-wallet/internal/domain/topology"
)

type panickingSigner struct{ addr common.Address }

func (s panickingSigner) Address() common.Address { return s.addr }
func (s panickingSigner) Sign(context.Context, *SignRequest) (signature.Signature, error) {
	panic("device unplugged")
}

type ineligibleSigner struct{ *keySigner }

func (s ineligibleSigner) CheckEligibility(context.Context, *SignRequest) error {
	return errors.New("not allowed for this payload")
}

func threeOfWeightOne(signers ...*keySigner) *topology.Config {
	leaves := make([]topology.Topology, len(signers))
	for i, s := range signers {
		leaves[i] = topology.SignerLeaf{Address: s.Address(), Weight: 1}
	}
	tree, _ := topology.FromLeaves(leaves...)
	return &topology.Config{Threshold: 2, Topology: tree}
}

func TestOrchestrator_ResolvesOnceWhenThresholdReached(t *testing.T) {
	release := make(chan struct{})
	a, b, c := newKeySigner(t, 1), newKeySigner(t, 2), newKeySigner(t, 3)
	a.gate, b.gate = release, release
	c.err = errors.New("guard offline")
	cfg := threeOfWeightOne(a, b, c)

	o := NewOrchestrator([]Signer{a, b, c}, discardLogger())

	var (
		mu        sync.Mutex
		history   = make(map[common.Address][]SignerState)
		resolved  int
		releaseMu sync.Once
	)
	o.Subscribe(func(s RoundSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		for addr, st := range s.Statuses {
			h := history[addr]
			if len(h) == 0 || h[len(h)-1] != st.State {
				history[addr] = append(h, st.State)
			}
		}
		if s.Resolved {
			resolved++
		}
		if s.Statuses[c.Address()].State == SignerError {
			releaseMu.Do(func() { close(release) })
		}
	})

	done := make(chan *RoundSnapshot, 1)
	go func() {
		snap, err := o.Sign(context.Background(), SignRequest{Digest: common.HexToHash("0x01")}, nil, ThresholdReached(cfg))
		assert.NoError(t, err)
		done <- snap
	}()

	var snap *RoundSnapshot
	select {
	case snap = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("round did not resolve")
	}

	assert.True(t, snap.Resolved)
	assert.Equal(t, 2, snap.Count(SignerSigned))
	assert.Equal(t, 1, snap.Count(SignerError))
	assert.Zero(t, snap.Pending())
	assert.ErrorIs(t, snap.Statuses[c.Address()].Err, domain.ErrSigner)
	assert.Len(t, snap.Signatures(), 2)

	require.Eventually(t, func() bool {
		r, ok := o.Round(snap.RoundID)
		return ok && r.Pending() == 0
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, resolved, "exactly one snapshot is published as the resolution")
	for addr, states := range history {
		for i := 1; i < len(states); i++ {
			assert.Greater(t, states[i].rank(), states[i-1].rank(), "signer %s regressed: %v", addr.Hex(), states)
		}
	}
}

func TestOrchestrator_LateResultsAreRecorded(t *testing.T) {
	slow := make(chan struct{})
	a, b := newKeySigner(t, 1), newKeySigner(t, 2)
	b.gate = slow
	cfg := &topology.Config{Threshold: 1, Topology: topology.Node{
		Left:  topology.SignerLeaf{Address: a.Address(), Weight: 1},
		Right: topology.SignerLeaf{Address: b.Address(), Weight: 1},
	}}

	o := NewOrchestrator([]Signer{a, b}, discardLogger())
	snap, err := o.Sign(context.Background(), SignRequest{Digest: common.HexToHash("0x02")}, nil, ThresholdReached(cfg))
	require.NoError(t, err)
	assert.Equal(t, SignerSigned, snap.Statuses[a.Address()].State)
	assert.False(t, snap.Statuses[b.Address()].State.Terminal())

	close(slow)
	require.Eventually(t, func() bool {
		r, _ := o.Round(snap.RoundID)
		return r.Statuses[b.Address()].State == SignerSigned
	}, time.Second, 10*time.Millisecond)

	r, _ := o.Round(snap.RoundID)
	assert.True(t, r.Resolved)
	assert.Len(t, r.Signatures(), 2)
}

func TestOrchestrator_BackendFailuresAreIsolated(t *testing.T) {
	a := newKeySigner(t, 1)
	crash := panickingSigner{addr: common.HexToAddress("0xdead")}
	refuse := ineligibleSigner{newKeySigner(t, 2)}
	missing := common.HexToAddress("0x0000000000000000000000000000000000000404")

	o := NewOrchestrator([]Signer{a, crash, refuse}, discardLogger())
	snap, err := o.Sign(context.Background(), SignRequest{Digest: common.HexToHash("0x03")},
		[]common.Address{a.Address(), crash.Address(), refuse.Address(), missing}, AllSettled)
	require.NoError(t, err)

	tests := []struct {
		name  string
		addr  common.Address
		state SignerState
	}{
		{name: "healthy signer", addr: a.Address(), state: SignerSigned},
		{name: "panicking backend", addr: crash.Address(), state: SignerError},
		{name: "ineligible signer", addr: refuse.Address(), state: SignerError},
		{name: "signer without backend", addr: missing, state: SignerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := snap.Statuses[tt.addr]
			assert.Equal(t, tt.state, st.State)
			if tt.state == SignerError {
				assert.ErrorIs(t, st.Err, domain.ErrSigner)
			}
		})
	}
	assert.Zero(t, refuse.calls, "ineligible signers are never asked to sign")
}

func TestOrchestrator_RoundsAreIndependent(t *testing.T) {
	a := newKeySigner(t, 1)
	o := NewOrchestrator([]Signer{a}, discardLogger())

	var (
		mu   sync.Mutex
		seen []string
	)
	unsubscribe := o.Subscribe(func(s RoundSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.RoundID)
	})

	first, err := o.Sign(context.Background(), SignRequest{Digest: common.HexToHash("0x04")}, nil, AllSettled)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, _ := o.Round(first.RoundID)
		return r.Pending() == 0
	}, time.Second, 10*time.Millisecond)
	unsubscribe()

	second, err := o.Sign(context.Background(), SignRequest{Digest: common.HexToHash("0x05")}, nil, AllSettled)
	require.NoError(t, err)

	assert.NotEqual(t, first.RoundID, second.RoundID)
	mu.Lock()
	assert.NotContains(t, seen, second.RoundID)
	mu.Unlock()
	assert.Equal(t, common.HexToHash("0x05"), second.Request.Digest)
}

func TestOrchestrator_CallerCancellationDoesNotAbortSigners(t *testing.T) {
	gate := make(chan struct{})
	a := newKeySigner(t, 1)
	a.gate = gate
	o := NewOrchestrator([]Signer{a}, discardLogger())

	var roundID string
	var mu sync.Mutex
	o.Subscribe(func(s RoundSnapshot) {
		mu.Lock()
		roundID = s.RoundID
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Sign(ctx, SignRequest{Digest: common.HexToHash("0x06")}, nil, AllSettled)
	require.ErrorIs(t, err, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		mu.Lock()
		id := roundID
		mu.Unlock()
		r, ok := o.Round(id)
		return ok && r.Statuses[a.Address()].State == SignerSigned
	}, time.Second, 10*time.Millisecond)
}
