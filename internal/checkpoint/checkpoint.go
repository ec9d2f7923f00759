// Package checkpoint sequences the pipeline stages and implements the
// named boundaries at which a run may be intentionally halted.
package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/gomlsa/internal/status"
)

// Stage is a pipeline state. Transitions only move forward within a
// run; re-entering an earlier stage requires deleting its artifacts
// and rerunning.
type Stage int

const (
	Init Stage = iota
	Configured
	Searched
	Filtered
	Aligned
	Treed
	Done
	Halted
)

var stageNames = map[Stage]string{
	Init:       "init",
	Configured: "configured",
	Searched:   "searched",
	Filtered:   "filtered",
	Aligned:    "aligned",
	Treed:      "treed",
	Done:       "done",
	Halted:     "halted",
}

func (s Stage) String() string { return stageNames[s] }

// Boundary names a point at which the caller may request a halt.
type Boundary string

const (
	None                 Boundary = "none"
	BeforeSearch         Boundary = "before-search"
	AfterSearch          Boundary = "after-search"
	BeforeFilterDecision Boundary = "before-filter-decision"
	BeforeAlignment      Boundary = "before-alignment"
	AfterAlignment       Boundary = "after-alignment"
	BeforeTree           Boundary = "before-tree"
)

var allBoundaries = []Boundary{
	BeforeSearch, AfterSearch, BeforeFilterDecision,
	BeforeAlignment, AfterAlignment, BeforeTree, None,
}

// ParseBoundary validates a --checkpoint value.
func ParseBoundary(s string) (Boundary, error) {
	if s == "" {
		return None, nil
	}
	for _, b := range allBoundaries {
		if Boundary(s) == b {
			return b, nil
		}
	}
	return None, status.Errorf(status.Usage,
		"unknown checkpoint %q (valid: %s)", s, BoundaryNames())
}

// BoundaryNames lists the valid --checkpoint values for usage text.
func BoundaryNames() string {
	names := make([]string, len(allBoundaries))
	for i, b := range allBoundaries {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// Gate tracks the run's current stage, the requested halt boundary,
// and the completion-marker directory.
type Gate struct {
	markerDir string
	requested Boundary
	state     Stage
}

// NewGate creates a gate over the given marker directory.
func NewGate(markerDir string, requested Boundary) *Gate {
	return &Gate{markerDir: markerDir, requested: requested, state: Init}
}

// State returns the current stage.
func (g *Gate) State() Stage { return g.state }

// Advance moves to the next stage. Transitions are irreversible and
// must not skip stages; a violation is a programming error.
func (g *Gate) Advance(next Stage) error {
	if g.state == Halted {
		return fmt.Errorf("cannot advance: run is halted")
	}
	if next != g.state+1 {
		return fmt.Errorf("invalid stage transition %s -> %s", g.state, next)
	}
	g.state = next
	return nil
}

// HaltIf stops the run when the caller requested a halt at boundary b.
// The returned error carries the distinguished intermediate-stop exit
// status; it is not a failure.
func (g *Gate) HaltIf(b Boundary, reason string) error {
	if g.requested != b {
		return nil
	}
	g.state = Halted
	slog.Info("checkpoint reached, stopping", "boundary", string(b), "at", reason)
	return status.Errorf(status.Halt, "checkpoint reached %s", reason)
}

// Mark records completion of the named step with an empty witness
// file. The file carries no data; later stages only test existence.
func (g *Gate) Mark(name string) error {
	path := filepath.Join(g.markerDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot write checkpoint marker %s: %w", path, err)
	}
	return fh.Close()
}

// Marked reports whether the named step completed in a previous run.
func (g *Gate) Marked(name string) bool {
	_, err := os.Stat(filepath.Join(g.markerDir, name))
	return err == nil
}

// OutputReady reports whether every path exists and is non-empty.
// Size-zero files count as absent: an interrupted external invocation
// may leave a partial or empty file behind, and that unit must re-run.
func OutputReady(paths ...string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}
