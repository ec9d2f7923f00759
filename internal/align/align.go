// Package align produces per-gene multiple sequence alignments from
// the unaligned FASTA sets, one external aligner invocation per gene.
package align

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seqforge/gomlsa/internal/blast"
	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/extern"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// Unit is one gene alignment: an unaligned FASTA in, an .aln file and
// its aligner log out.
type Unit struct {
	Source string
	Out    string
	Log    string
}

// Plan maps each unaligned file to its alignment output under
// aligned/, preserving input order.
func Plan(d *rundir.Dir, unaligned []string) []Unit {
	units := make([]Unit, 0, len(unaligned))
	for _, src := range unaligned {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		out := filepath.Join(d.AlignedDir(), stem+".aln")
		units = append(units, Unit{Source: src, Out: out, Log: out + ".log"})
	}
	return units
}

// Pending filters units to those whose alignment is missing or empty.
func Pending(units []Unit) []Unit {
	var pending []Unit
	for _, u := range units {
		if !checkpoint.OutputReady(u.Out) {
			pending = append(pending, u)
		}
	}
	return pending
}

// Command builds the aligner argv for one unit. The alignment itself
// arrives on stdout.
func Command(exe string, threads int, extra []string, u Unit) []string {
	argv := []string{
		exe,
		"--localpair",
		"--maxiterate", "1000",
		"--thread", strconv.Itoa(threads),
	}
	argv = append(argv, extra...)
	return append(argv, u.Source)
}

// WriteCommandFile dumps one shell line per pending unit, with the
// stdout redirect the aligner needs, for out-of-band execution.
func WriteCommandFile(path, exe string, threads int, extra []string, units []Unit) error {
	var sb strings.Builder
	for _, u := range units {
		argv := Command(exe, threads, extra, u)
		quoted := make([]string, len(argv))
		for i, arg := range argv {
			quoted[i] = blast.Quote(arg)
		}
		sb.WriteString(strings.Join(quoted, " "))
		sb.WriteString(" > ")
		sb.WriteString(blast.Quote(u.Out))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("cannot write command file %s: %w", path, err)
	}
	return nil
}

// Run aligns the pending units one at a time; the aligner handles its
// own thread-level parallelism. A failed or interrupted unit leaves no
// partial output behind.
func Run(ctx context.Context, exe string, threads int, extra []string, units []Unit) error {
	if len(units) == 0 {
		slog.Info("no alignments remaining")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(units[0].Out), 0o755); err != nil {
		return fmt.Errorf("cannot create aligned directory: %w", err)
	}
	slog.Info("aligning sequences, if necessary", "count", len(units), "threads", threads)
	for _, u := range units {
		slog.Debug("aligning", "source", u.Source, "out", u.Out)
		argv := Command(exe, threads, extra, u)
		if err := extern.RunToFile(ctx, u.Out, u.Log, argv...); err != nil {
			os.Remove(u.Out)
			if ctx.Err() != nil {
				return status.Errorf(status.Interrupted,
					"alignment interrupted; partial files were discarded")
			}
			return status.Errorf(status.External,
				"alignment of %s failed: %v", filepath.Base(u.Source), err)
		}
	}
	return nil
}
