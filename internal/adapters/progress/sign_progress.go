package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/trebuchet-org/treb-wallet/internal/usecase"
)

// SignProgress reports signing rounds. Interactive output uses a spinner whose
// suffix tracks every signer of the current round; otherwise lines are printed.
type SignProgress struct {
	out         io.Writer
	interactive bool

	mu      sync.Mutex
	spinner *spinner.Spinner
	message string
	round   string
	line    string
}

// NewSignProgress creates a new signing progress reporter
func NewSignProgress(out io.Writer, interactive bool) *SignProgress {
	return &SignProgress{out: out, interactive: interactive}
}

// OnProgress handles progress events
func (p *SignProgress) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.message = event.Message
	if !p.interactive {
		if event.Message != "" {
			fmt.Fprintln(p.out, event.Message)
		}
		return
	}

	if event.Spinner {
		if p.spinner == nil {
			p.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			p.spinner.Writer = p.out
			_ = p.spinner.Color("cyan", "bold")
		}
		p.spinner.Suffix = p.suffix()
		if !p.spinner.Active() {
			p.spinner.Start()
		}
		return
	}

	p.stopSpinner()
	if event.Message != "" {
		color.New(color.FgGreen).Fprintf(p.out, "✓ %s\n", event.Message)
	}
}

// Observe renders a round snapshot. It is meant to be subscribed to an Orchestrator.
func (p *SignProgress) Observe(snap usecase.RoundSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := FormatRound(&snap)
	if snap.RoundID == p.round && line == p.line {
		return
	}
	p.round, p.line = snap.RoundID, line

	if p.interactive && p.spinner != nil && p.spinner.Active() {
		p.spinner.Suffix = p.suffix()
		return
	}
	if !p.interactive {
		fmt.Fprintln(p.out, line)
	}
}

// Info prints an info message
func (p *SignProgress) Info(message string) {
	p.print(color.New(color.FgCyan), message)
}

// Error prints an error message
func (p *SignProgress) Error(message string) {
	p.print(color.New(color.FgRed), message)
}

func (p *SignProgress) print(c *color.Color, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasActive := p.spinner != nil && p.spinner.Active()
	if wasActive {
		p.spinner.Stop()
	}
	c.Fprintln(p.out, message)
	if wasActive {
		p.spinner.Start()
	}
}

func (p *SignProgress) suffix() string {
	if p.line == "" {
		return " " + p.message
	}
	return " " + p.message + "  " + p.line
}

func (p *SignProgress) stopSpinner() {
	if p.spinner != nil && p.spinner.Active() {
		p.spinner.Stop()
	}
}

// FormatRound renders one symbol per signer in address order followed by counts
func FormatRound(snap *usecase.RoundSnapshot) string {
	var b strings.Builder
	for _, st := range snap.Ordered() {
		b.WriteString(stateIcon(st.State))
	}
	fmt.Fprintf(&b, " %d signed, %d failed, %d pending",
		snap.Count(usecase.SignerSigned), snap.Count(usecase.SignerError), snap.Pending())
	return b.String()
}

func stateIcon(s usecase.SignerState) string {
	switch s {
	case usecase.SignerSigned:
		return "✓"
	case usecase.SignerError:
		return "✗"
	case usecase.SignerSigning:
		return "●"
	default:
		return "○"
	}
}

// Ensure SignProgress implements ProgressSink
var _ usecase.ProgressSink = (*SignProgress)(nil)
