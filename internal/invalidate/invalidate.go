// Package invalidate purges downstream artifacts when an input class
// changes. Purges are scoped: genome-scope invalidation forces a full
// re-filter and re-align, query-scope invalidation only forces
// re-search of the affected units. Finished nexus/tree artifacts are
// archived rather than destroyed.
package invalidate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// Coordinator applies scoped deletions inside one run directory.
type Coordinator struct {
	Dir     *rundir.Dir
	Protect bool
}

// GenomeScope removes every artifact derived from search results: the
// accumulated hit cache, the filtering decision artifacts, and all
// unaligned/aligned gene sets. reason is logged at informational
// level; staleness is not an error.
func (c *Coordinator) GenomeScope(reason string) error {
	if err := c.guard(reason); err != nil {
		return err
	}
	slog.Info("invalidating genome-scope artifacts", "reason", reason)

	d := c.Dir
	for _, path := range []string{
		d.ResultsCache(),
		d.FilteredTable(),
		d.KeepsFile(),
		d.SingleCopyFile(),
		d.ExpectedFilt(),
	} {
		if err := removeFile(path); err != nil {
			return err
		}
	}
	for _, dir := range []string{d.UnalignedDir(), d.AlignedDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cannot remove %s: %w", dir, err)
		}
	}
	return c.archiveFinished()
}

// QueryScope removes the search-result caches tied to the given query
// identifiers, forcing their re-search while preserving genome-level
// bookkeeping. An empty identifier list still drops the accumulated
// hit cache so re-ingestion sees the new unit set.
func (c *Coordinator) QueryScope(queryIDs []string, reason string) error {
	if err := c.guard(reason); err != nil {
		return err
	}
	slog.Info("invalidating query-scope artifacts", "reason", reason, "queries", queryIDs)

	if err := removeFile(c.Dir.ResultsCache()); err != nil {
		return err
	}
	for _, id := range queryIDs {
		pattern := filepath.Join(c.Dir.BlastDir(), id+"_vs_*.tab")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := removeFile(m); err != nil {
				return err
			}
		}
	}
	return c.archiveFinished()
}

// GenomeFiles removes the staged FASTA, BLAST database volumes, and
// per-unit hit tables of a single genome whose content changed.
func (c *Coordinator) GenomeFiles(base string) error {
	if err := c.guard("genome " + base + " content changed"); err != nil {
		return err
	}
	slog.Info("genome content changed, removing derived files", "genome", base)

	staged, err := filepath.Glob(filepath.Join(c.Dir.FastaDir(), base+"*"))
	if err != nil {
		return err
	}
	hits, err := filepath.Glob(filepath.Join(c.Dir.BlastDir(), "*_vs_"+base+".tab"))
	if err != nil {
		return err
	}
	for _, p := range append(staged, hits...) {
		if err := removeFile(p); err != nil {
			return err
		}
	}
	return nil
}

// guard enforces the protect flag: with protection on, the coordinator
// refuses to destroy anything and halts with instructions instead.
func (c *Coordinator) guard(reason string) error {
	if !c.Protect {
		return nil
	}
	return status.Errorf(status.Protected,
		"stale artifacts need to be removed (%s) but the protect flag is set; "+
			"unset protect in %s or start a new analysis under another run id",
		reason, c.Dir.ConfigFile())
}

// archiveFinished moves completed nexus/tree outputs to the backup
// directory so no finished result is lost without a copy.
func (c *Coordinator) archiveFinished() error {
	artifacts := c.Dir.TreeArtifacts()
	if len(artifacts) == 0 {
		return nil
	}
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = filepath.Base(a)
	}
	slog.Info("archiving finished tree artifacts", "files", strings.Join(names, ", "))
	return c.Dir.Archive(artifacts...)
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %s: %w", path, err)
	}
	return nil
}
