package blast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/seqforge/gomlsa/internal/status"
)

// Run executes the pending units on a bounded worker pool. Each unit
// is one child process; cancelling ctx terminates every outstanding
// child before Run returns, so an interrupt leaves no orphans. A
// failed or interrupted unit leaves a missing or partial output file,
// which Pending treats as not yet produced on the next run.
func Run(ctx context.Context, exe string, evalue float64, units []Unit, threads int) error {
	if len(units) == 0 {
		slog.Info("no searches remaining, moving to parse")
		return nil
	}
	if threads < 1 {
		threads = 1
	}
	slog.Info("running searches", "count", len(units), "threads", threads,
		"program", filepath.Base(exe))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for _, u := range units {
		u := u
		g.Go(func() error {
			argv := Command(exe, evalue, u)
			var stderr bytes.Buffer
			cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
			cmd.Stderr = &stderr
			err := cmd.Run()
			if ctx.Err() != nil {
				// Partial output must not pass for a completed unit.
				_ = os.Remove(u.Out)
				return ctx.Err()
			}
			if err != nil {
				_ = os.Remove(u.Out)
				return status.Errorf(status.External,
					"search %s vs %s failed: %v\n%s", u.QueryName, u.Genome, err, stderr.String())
			}
			slog.Debug("search unit complete", "query", u.QueryName, "genome", u.Genome)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			return status.Errorf(status.Interrupted, "search interrupted; partial files were discarded")
		}
		return err
	}
	return nil
}

// EnsureDir creates the blast output directory.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create blast directory %s: %w", dir, err)
	}
	return nil
}
