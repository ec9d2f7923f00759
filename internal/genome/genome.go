// Package genome stages target genome FASTA files: collects them from
// the configured files and directories, assigns each a stable integer
// label, writes the relabeled copy BLAST searches run against, and
// classifies content changes against the persisted genome manifest.
package genome

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/config"
	"github.com/seqforge/gomlsa/internal/fasta"
	"github.com/seqforge/gomlsa/internal/invalidate"
	"github.com/seqforge/gomlsa/internal/manifest"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// dbSuffixes are the volume files makeblastdb produces next to the
// staged FASTA; their presence means the database is already built.
var dbSuffixes = []string{".nsq", ".nin", ".nhr", ".nto", ".not", ".ndb", ".ntf"}

// Genome is one staged target genome.
type Genome struct {
	Base   string // identifier: basename of the source file
	Source string // original file path
	Label  int    // stable integer index, never reassigned
	Staged string // relabeled FASTA under fasta/
	Hash   string // content hash over the assembled sequence
}

// Result carries the staged genome set and the full label index.
type Result struct {
	Genomes []Genome
	Labels  []string
}

// Stage collects, relabels, hashes, and classifies the genome inputs.
// buildDB is invoked for every staged FASTA lacking database volumes.
func Stage(
	ctx context.Context,
	d *rundir.Dir,
	cfg config.Config,
	coord *invalidate.Coordinator,
	buildDB func(ctx context.Context, staged string) error,
) (*Result, error) {
	sources, err := collect(d, cfg)
	if err != nil {
		return nil, err
	}

	labels, err := manifest.LoadLabels(d.LabelsFile())
	if err != nil {
		return nil, err
	}
	bases := make([]string, len(sources))
	for i, src := range sources {
		bases[i] = filepath.Base(src)
	}
	labels = manifest.ExtendLabels(labels, bases)
	if err := manifest.SaveLabels(d.LabelsFile(), labels); err != nil {
		return nil, err
	}
	labelOf := make(map[string]int, len(labels))
	for i, base := range labels {
		labelOf[base] = i
	}

	if err := os.MkdirAll(d.FastaDir(), 0o755); err != nil {
		return nil, err
	}

	// Hash every genome's assembled sequence and stage missing copies.
	previous, err := manifest.Load(d.GenomeManifest())
	if err != nil {
		return nil, err
	}
	current := make(map[string]string, len(sources))
	res := &Result{Labels: labels}
	for _, src := range sources {
		base := filepath.Base(src)
		recs, err := fasta.Read(src)
		if err != nil {
			return nil, status.Errorf(status.DataErr, "genome %s: %v", base, err)
		}
		var assembled []byte
		for _, r := range recs {
			assembled = append(assembled, r.Seq...)
		}
		g := Genome{
			Base:   base,
			Source: src,
			Label:  labelOf[base],
			Staged: filepath.Join(d.FastaDir(), base),
			Hash:   manifest.Hash(assembled),
		}
		current[base] = g.Hash
		res.Genomes = append(res.Genomes, g)
	}

	// Classify against the previous run and purge stale artifacts
	// before the manifest is rewritten, so an aborted run can redo the
	// comparison.
	cls := manifest.Classify(current, previous)
	for _, base := range cls.Changed {
		if err := coord.GenomeFiles(base); err != nil {
			return nil, err
		}
	}
	if cls.Dirty() {
		if err := coord.GenomeScope(changeSummary(cls)); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("no genome changes detected")
	}
	if err := manifest.Save(d.GenomeManifest(), current); err != nil {
		return nil, err
	}

	// Write relabeled copies and build missing databases.
	for _, g := range res.Genomes {
		if !checkpoint.OutputReady(g.Staged) {
			if err := writeStaged(g); err != nil {
				return nil, err
			}
		}
		if !dbReady(g.Staged) {
			logPath := filepath.Join(d.FastaDir(), "makeblastdb.log")
			slog.Debug("building BLAST database", "genome", g.Base, "log", logPath)
			if err := buildDB(ctx, g.Staged); err != nil {
				return nil, status.Wrap(status.External, err)
			}
		}
	}
	return res, nil
}

// collect resolves the configured genome inputs into a deduplicated
// list of FASTA paths, rejecting duplicate basenames.
func collect(d *rundir.Dir, cfg config.Config) ([]string, error) {
	var sources []string
	seenPath := map[string]struct{}{}
	add := func(path string) {
		if _, ok := seenPath[path]; !ok {
			seenPath[path] = struct{}{}
			sources = append(sources, path)
		}
	}

	for _, dir := range cfg.Dirs {
		scan := dir
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			// The original genome directory may be gone on a later run;
			// the staged copies are still usable.
			if _, serr := os.Stat(d.FastaDir()); serr == nil {
				slog.Warn("genome directory does not exist, running from staged copies",
					"dir", dir)
				scan = d.FastaDir()
			} else {
				return nil, status.Errorf(status.NoInput, "genome directory %s does not exist", dir)
			}
		}
		entries, err := os.ReadDir(scan)
		if err != nil {
			return nil, fmt.Errorf("cannot read genome directory %s: %w", scan, err)
		}
		for _, e := range entries {
			if e.IsDir() || hasDBSuffix(e.Name()) {
				continue
			}
			path := filepath.Join(scan, e.Name())
			if fasta.IsFasta(path) {
				add(path)
			} else {
				slog.Debug("skipping non-FASTA file", "file", e.Name())
			}
		}
	}
	for _, f := range cfg.Files {
		if !fasta.IsFasta(f) {
			return nil, status.Errorf(status.Usage, "%s is not a FASTA file", f)
		}
		add(f)
	}
	if len(sources) == 0 {
		return nil, status.Errorf(status.Usage, "no valid FASTA files found in --dir or --files")
	}

	seenBase := map[string]string{}
	for _, src := range sources {
		base := filepath.Base(src)
		if other, ok := seenBase[base]; ok {
			return nil, status.Errorf(status.DataErr,
				"same genome name found in two locations:\n  %s\n  %s\nremove or rename one of these to continue",
				other, src)
		}
		seenBase[base] = src
	}
	return sources, nil
}

// writeStaged writes the relabeled FASTA: every record header becomes
// the genome's integer label so downstream hit records carry it.
func writeStaged(g Genome) error {
	recs, err := fasta.Read(g.Source)
	if err != nil {
		return status.Errorf(status.DataErr, "genome %s: %v", g.Base, err)
	}
	slog.Debug("writing relabeled fasta", "genome", g.Base, "label", g.Label)
	var sb strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&sb, ">%d %s\n%s\n", g.Label, r.ID, r.Seq)
	}
	return os.WriteFile(g.Staged, []byte(sb.String()), 0o644)
}

func dbReady(staged string) bool {
	for _, suffix := range dbSuffixes {
		if _, err := os.Stat(staged + suffix); err != nil {
			return false
		}
	}
	return true
}

func hasDBSuffix(name string) bool {
	for _, suffix := range dbSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func changeSummary(c manifest.Classification) string {
	var parts []string
	if n := len(c.New); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new", n))
	}
	if n := len(c.Changed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", n))
	}
	if n := len(c.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	return "genome inputs: " + strings.Join(parts, ", ")
}
