// Package phylo builds the partitioned nexus file from the per-gene
// alignments and runs the external tree builder over it.
package phylo

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/extern"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// WriteNexus writes the charset partition file referencing each
// alignment, one charset per gene. An existing non-empty nexus file
// is left untouched.
func WriteNexus(d *rundir.Dir, aligned []string) (string, error) {
	nexus := d.NexusFile()
	if checkpoint.OutputReady(nexus) {
		slog.Info("nexus file already found, skipping generation", "file", nexus)
		return nexus, nil
	}
	fh, err := os.Create(nexus)
	if err != nil {
		return "", fmt.Errorf("cannot create nexus file: %w", err)
	}
	w := bufio.NewWriter(fh)
	fmt.Fprintln(w, "#nexus")
	fmt.Fprintln(w, "begin sets;")
	for _, aln := range aligned {
		stem := strings.TrimSuffix(filepath.Base(aln), filepath.Ext(aln))
		fmt.Fprintf(w, "\tcharset %s = %s: *;\n", stem, aln)
	}
	fmt.Fprintln(w, "end;")
	if err := w.Flush(); err != nil {
		fh.Close()
		os.Remove(nexus)
		return "", err
	}
	if err := fh.Close(); err != nil {
		os.Remove(nexus)
		return "", err
	}
	slog.Info("wrote nexus partition file", "file", nexus, "genes", len(aligned))
	return nexus, nil
}

// Command builds the tree-builder argv over the nexus partition file.
func Command(exe, nexus string, threads int, extra []string, outgroup string) []string {
	argv := []string{exe, "-p", nexus, "-nt", strconv.Itoa(threads)}
	argv = append(argv, extra...)
	if outgroup != "" {
		argv = append(argv, "-o", outgroup)
	}
	return argv
}

// Run invokes the tree builder unless its treefile already exists.
// The builder writes its own report and log files next to the nexus
// input; a missing treefile afterwards is an external failure.
func Run(ctx context.Context, d *rundir.Dir, exe string, threads int, extra []string, outgroup string) (string, error) {
	tree := d.TreeFile()
	if checkpoint.OutputReady(tree) {
		slog.Info("treefile already found, skipping tree building", "file", tree)
		return tree, nil
	}
	argv := Command(exe, d.NexusFile(), threads, extra, outgroup)
	slog.Info("generating phylogenetic tree", "out", tree)
	slog.Debug("running tree builder", "cmd", strings.Join(argv, " "))
	if err := extern.Run(ctx, d.NexusFile()+".runlog", argv...); err != nil {
		if ctx.Err() != nil {
			return "", status.Errorf(status.Interrupted, "tree building interrupted")
		}
		return "", status.Errorf(status.External, "tree builder failed: %v", err)
	}
	if !checkpoint.OutputReady(tree) {
		return "", status.Errorf(status.External,
			"tree builder produced no treefile %s; check its log files", tree)
	}
	return tree, nil
}
