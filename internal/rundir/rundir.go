// Package rundir owns the run directory layout: creation, exclusive
// locking, path bookkeeping, and archival of finished artifacts.
package rundir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/seqforge/gomlsa/internal/status"
)

// Dir is an exclusively held run directory. All persisted pipeline
// state lives beneath it; no two pipeline instances may share one.
type Dir struct {
	Root  string
	RunID string
	lock  *flock.Flock
}

// Open locates or creates the run directory for runid and takes the
// instance lock. An existing sibling directory (../runid) is reused,
// matching the convention of launching from inside a workspace.
func Open(runid string) (*Dir, error) {
	root, err := locate(runid)
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{
		"backup",
		".gomlsa",
		filepath.Join(".gomlsa", "backups"),
		filepath.Join(".gomlsa", "checkpoint"),
	} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, status.Errorf(status.RunDirErr,
				"cannot create run directory %s: %v", root, err)
		}
	}

	d := &Dir{Root: root, RunID: runid}
	d.lock = flock.New(filepath.Join(root, ".gomlsa", "run.lock"))
	locked, err := d.lock.TryLock()
	if err != nil {
		return nil, status.Errorf(status.RunDirErr,
			"cannot acquire run lock for %s: %v", root, err)
	}
	if !locked {
		return nil, status.Errorf(status.RunDirErr,
			"another gomlsa instance owns run directory %s (lock: %s)",
			root, d.lock.Path())
	}
	return d, nil
}

func locate(runid string) (string, error) {
	if sibling, err := filepath.Abs(filepath.Join("..", runid)); err == nil {
		if info, serr := os.Stat(sibling); serr == nil && info.IsDir() {
			return sibling, nil
		}
	}
	root, err := filepath.Abs(runid)
	if err != nil {
		return "", status.Errorf(status.RunDirErr, "cannot resolve run directory %q: %v", runid, err)
	}
	return root, nil
}

// Close releases the instance lock.
func (d *Dir) Close() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

// ── Layout ───────────────────────────────────────────────────────────

func (d *Dir) StateDir() string      { return filepath.Join(d.Root, ".gomlsa") }
func (d *Dir) CheckpointDir() string { return filepath.Join(d.StateDir(), "checkpoint") }
func (d *Dir) QueryBackupDir() string {
	return filepath.Join(d.StateDir(), "backups")
}
func (d *Dir) ArchiveDir() string { return filepath.Join(d.Root, "backup") }

func (d *Dir) ConfigFile() string { return filepath.Join(d.Root, "config.yaml") }
func (d *Dir) LogFile() string    { return filepath.Join(d.Root, d.RunID+".log") }

func (d *Dir) FastaDir() string     { return filepath.Join(d.Root, "fasta") }
func (d *Dir) QueryDir() string     { return filepath.Join(d.Root, "queries") }
func (d *Dir) BlastDir() string     { return filepath.Join(d.Root, "blast") }
func (d *Dir) UnalignedDir() string { return filepath.Join(d.Root, "unaligned") }
func (d *Dir) AlignedDir() string   { return filepath.Join(d.Root, "aligned") }

func (d *Dir) GenomeManifest() string { return filepath.Join(d.StateDir(), "genomes.json") }
func (d *Dir) QueryManifest() string  { return filepath.Join(d.StateDir(), "queries.json") }
func (d *Dir) LabelsFile() string     { return filepath.Join(d.StateDir(), "labels.json") }

func (d *Dir) ResultsCache() string   { return filepath.Join(d.StateDir(), "blast_results.tsv") }
func (d *Dir) FilteredTable() string  { return filepath.Join(d.StateDir(), "blast_filtered.tsv") }
func (d *Dir) KeepsFile() string      { return filepath.Join(d.StateDir(), "keepsidx.json") }
func (d *Dir) SingleCopyFile() string { return filepath.Join(d.StateDir(), "single_copy.json") }
func (d *Dir) ExpectedFilt() string   { return filepath.Join(d.StateDir(), "expected_filt.json") }

func (d *Dir) PresenceMatrix() string  { return filepath.Join(d.Root, "presence_matrix.tsv") }
func (d *Dir) SummaryFile() string     { return filepath.Join(d.Root, "blast_summary.json") }
func (d *Dir) MissingByGenome() string { return filepath.Join(d.Root, "missing_by_genome.json") }
func (d *Dir) MissingCounts() string   { return filepath.Join(d.Root, "missing_counts.json") }

func (d *Dir) BlastCmds() string { return filepath.Join(d.Root, "blastcmds.txt") }
func (d *Dir) MafftCmds() string { return filepath.Join(d.Root, "mafftcmds.txt") }

func (d *Dir) NexusFile() string { return filepath.Join(d.Root, d.RunID+".nex") }
func (d *Dir) TreeFile() string  { return d.NexusFile() + ".treefile" }

// TreeArtifacts globs every nexus/tree output of the final stages.
func (d *Dir) TreeArtifacts() []string {
	matches, _ := filepath.Glob(filepath.Join(d.Root, d.RunID+".nex*"))
	return matches
}

// Archive moves paths into the backup directory instead of deleting
// them, so a rerun never permanently loses a finished result.
func (d *Dir) Archive(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		dst := filepath.Join(d.ArchiveDir(), filepath.Base(p))
		if _, err := os.Stat(dst); err == nil {
			if err := os.Remove(dst); err != nil {
				return fmt.Errorf("cannot replace archived %s: %w", dst, err)
			}
		}
		if err := os.Rename(p, dst); err != nil {
			return fmt.Errorf("cannot archive %s: %w", p, err)
		}
	}
	return nil
}
