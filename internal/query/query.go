// Package query extracts individual query sequences from the input
// FASTA files, enforces the query identity rules, and classifies
// content changes against the persisted query manifest.
package query

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/gomlsa/internal/config"
	"github.com/seqforge/gomlsa/internal/fasta"
	"github.com/seqforge/gomlsa/internal/invalidate"
	"github.com/seqforge/gomlsa/internal/manifest"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// Query is one extracted query sequence.
type Query struct {
	ID   string // sanitized sequence header
	Key  string // manifest key; gains a hash suffix under --dups
	Hash string // content hash of the raw sequence
	Name string // unit name: <ID>_<hash prefix>, also the file stem
	File string // per-sequence FASTA under queries/
}

// seenEntry remembers where an identifier or hash was first observed,
// for collision reporting.
type seenEntry struct {
	path     string
	unsafeID string
	index    int
}

// Stage splits the query inputs, applies the identity rules, writes
// per-sequence FASTA files, and triggers scoped invalidation for
// changed or removed queries.
func Stage(
	d *rundir.Dir,
	cfg config.Config,
	coord *invalidate.Coordinator,
) ([]Query, error) {
	if err := os.MkdirAll(d.QueryDir(), 0o755); err != nil {
		return nil, err
	}

	var queries []Query
	seenID := map[string]seenEntry{}
	seenHash := map[string]seenEntry{}
	hashIDs := map[string]string{}

	for _, src := range cfg.Query {
		src, fromBackup, err := resolveSource(d, src)
		if err != nil {
			return nil, err
		}
		recs, err := fasta.Read(src)
		if err != nil {
			return nil, status.Errorf(status.DataErr, "query file %s: %v", filepath.Base(src), err)
		}
		slog.Debug("reading query file", "file", filepath.Base(src), "sequences", len(recs))

		for i, rec := range recs {
			safeID := Sanitize(rec.ID)
			hash := manifest.Hash(rec.Seq)

			if prevID, ok := hashIDs[hash]; ok {
				if prevID == safeID {
					// Same sequence, same name: silent duplicate.
					continue
				}
				first := seenHash[hash]
				return nil, status.Errorf(status.DataErr,
					"same sequence found in two query inputs with different sequence IDs:\n"+
						"  %s sequence %d header %s\n  %s sequence %d header %s\n"+
						"check your sequences to make sure they aren't misnamed, fix the problem, and try again",
					filepath.Base(src), i+1, rec.ID,
					filepath.Base(first.path), first.index, first.unsafeID)
			}
			hashIDs[hash] = safeID
			seenHash[hash] = seenEntry{path: src, unsafeID: rec.ID, index: i + 1}

			key := safeID
			if prev, ok := seenID[safeID]; ok {
				if !cfg.Dups {
					return nil, status.Errorf(status.DataErr,
						"same query name (%s) found in two query inputs:\n"+
							"  %s sequence %d\n  %s sequence %d\n"+
							"remove or rename one of these to continue, or use --dups to include both copies",
						safeID, filepath.Base(src), i+1, filepath.Base(prev.path), prev.index)
				}
				slog.Info("keeping additional query with duplicate ID",
					"id", safeID, "file", filepath.Base(src))
				key = safeID + "_" + manifest.Short(hash)
			} else {
				seenID[safeID] = seenEntry{path: src, unsafeID: rec.ID, index: i + 1}
			}

			q := Query{
				ID:   safeID,
				Key:  key,
				Hash: hash,
				Name: safeID + "_" + manifest.Short(hash),
			}
			q.File = filepath.Join(d.QueryDir(), q.Name+".fas")
			queries = append(queries, q)

			if _, err := os.Stat(q.File); os.IsNotExist(err) {
				slog.Debug("writing query fasta", "file", filepath.Base(q.File))
				content := fmt.Sprintf(">%s\n%s\n", safeID, rec.Seq)
				if err := os.WriteFile(q.File, []byte(content), 0o644); err != nil {
					return nil, err
				}
			}
		}

		if !fromBackup {
			if err := backupSource(d, src); err != nil {
				return nil, err
			}
		}
	}

	if len(queries) == 0 {
		return nil, status.Errorf(status.Usage,
			"no query sequences found; check your query file and try again")
	}

	if err := reconcile(d, coord, queries); err != nil {
		return nil, err
	}
	return queries, nil
}

// resolveSource substitutes the backed-up copy of a query file that
// has gone missing; with no backup either, the run cannot continue
// because the previous hashes cannot be recomputed.
func resolveSource(d *rundir.Dir, src string) (string, bool, error) {
	if _, err := os.Stat(src); err == nil {
		return src, false, nil
	}
	backup := filepath.Join(d.QueryBackupDir(), filepath.Base(src))
	if _, err := os.Stat(backup); err == nil {
		slog.Warn("query file is missing, using backup copy", "file", src, "backup", backup)
		return backup, true, nil
	}
	return "", false, status.Errorf(status.NoInput,
		"query file %s seems to have been removed and no backup exists under %s; "+
			"replace the file or start again from a new analysis", src, d.QueryBackupDir())
}

func backupSource(d *rundir.Dir, src string) error {
	dst := filepath.Join(d.QueryBackupDir(), filepath.Base(src))
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("cannot back up query file %s: %w", src, err)
	}
	return nil
}

// reconcile classifies the query set against the previous manifest and
// maps the result onto invalidation scopes: new or changed queries
// invalidate their search caches; removed queries additionally force a
// full re-filter because the query universe shrank.
func reconcile(d *rundir.Dir, coord *invalidate.Coordinator, queries []Query) error {
	previous, err := manifest.Load(d.QueryManifest())
	if err != nil {
		return err
	}
	current := make(map[string]string, len(queries))
	for _, q := range queries {
		current[q.Key] = q.Hash
	}
	cls := manifest.Classify(current, previous)
	if !cls.Dirty() {
		slog.Debug("no query changes detected")
		return nil
	}

	// Unit names of outdated searches derive from the previous hashes.
	var stale []string
	for _, key := range append(append([]string{}, cls.Changed...), cls.Removed...) {
		stale = append(stale, unitName(key, previous[key]))
	}
	reason := fmt.Sprintf("query inputs: %d new, %d changed, %d removed",
		len(cls.New), len(cls.Changed), len(cls.Removed))
	if err := coord.QueryScope(stale, reason); err != nil {
		return err
	}
	if len(cls.Removed) > 0 {
		if err := coord.GenomeScope("query sequences have been removed"); err != nil {
			return err
		}
	}
	return manifest.Save(d.QueryManifest(), current)
}

// unitName rebuilds the file stem a manifest entry was staged under.
// Keys of retained duplicates already carry the hash suffix.
func unitName(key, hash string) string {
	suffix := "_" + manifest.Short(hash)
	if strings.HasSuffix(key, suffix) {
		return key
	}
	return key + suffix
}
