// Package filter turns the accumulated hit set into a keep/drop
// decision per genome. It builds the presence matrix, reports missing
// genes, deduplicates hits to one best ortholog call per query×genome
// pair, and gates the run when genomes would be silently dropped.
package filter

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/seqforge/gomlsa/internal/blast"
	"github.com/seqforge/gomlsa/internal/genome"
	"github.com/seqforge/gomlsa/internal/invalidate"
	"github.com/seqforge/gomlsa/internal/manifest"
	"github.com/seqforge/gomlsa/internal/query"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

const (
	// A query absent from more than half the genomes is reported as a
	// removal candidate.
	removalCutoff = 50.0
	// A query is called single-copy when more than this fraction of
	// genomes carry exactly one hit for it.
	singleCopyCutoff = 0.90
)

// Result holds the filtering outcome for one run: the matrix, the
// decision report, the kept genome set, and the deduplicated hit
// table restricted to kept genomes.
type Result struct {
	Matrix     *Matrix
	Report     Report
	Kept       []string
	KeptIdx    []int
	Missing    map[string][]string // genome -> missing queries, nonzero only
	Dropped    map[string][]string // subset of Missing over allow-missing
	Candidates map[string]string   // query -> percent missing, over cutoff
	SingleCopy map[string]bool
	Filtered   []blast.Hit

	allowed int
	d       *rundir.Dir
}

// Summarize computes the presence matrix and the keep/drop decision
// and persists the operator-facing report files. The state-directory
// artifacts (kept indices, filtered table) are written later by
// Reconcile, after invalidation has run.
func Summarize(
	d *rundir.Dir,
	hits []blast.Hit,
	genomes []genome.Genome,
	queries []query.Query,
	allowMissing int,
) (*Result, error) {
	if len(genomes) == 0 {
		return nil, status.Errorf(status.NoInput, "no genomes staged, nothing to filter")
	}
	if len(queries) == 0 {
		return nil, status.Errorf(status.NoInput, "no queries staged, nothing to filter")
	}
	slog.Info("summarizing and filtering hits",
		"hits", len(hits), "genomes", len(genomes), "queries", len(queries))

	r := &Result{
		Matrix:     Build(hits, genomes, queries),
		Missing:    make(map[string][]string),
		Dropped:    make(map[string][]string),
		Candidates: make(map[string]string),
		SingleCopy: make(map[string]bool),
		allowed:    allowMissing,
		d:          d,
	}
	m := r.Matrix

	r.Report.Queries = QuerySummary{
		Names:   m.Queries,
		Count:   len(m.Queries),
		Missing: make(map[string]QueryGap),
	}
	r.Report.Genomes = GenomeSummary{
		Names:   m.Genomes,
		Count:   len(m.Genomes),
		Indexes: m.Indexes,
		Missing: make(map[string]GenomeGap),
	}

	for c, q := range m.Queries {
		absent := m.MissingGenomes(c)
		raw, formatted := percent(len(absent), len(m.Genomes))
		if raw > removalCutoff {
			r.Candidates[q] = formatted
		}
		r.Report.Queries.Missing[q] = QueryGap{
			Genomes: absent, Count: len(absent), Percent: formatted,
		}

		single := 0
		for row := range m.Genomes {
			if m.Counts[row][c] == 1 {
				single++
			}
		}
		r.SingleCopy[q] = float64(single)/float64(len(m.Genomes)) > singleCopyCutoff
	}

	missingCounts := make(map[int][]string)
	for row, g := range m.Genomes {
		absent := m.MissingQueries(row)
		_, formatted := percent(len(absent), len(m.Queries))
		r.Report.Genomes.Missing[g] = GenomeGap{
			Queries: absent, Count: len(absent), Percent: formatted,
		}
		missingCounts[len(absent)] = append(missingCounts[len(absent)], g)

		switch {
		case len(absent) == 0:
			r.keep(row, g)
		case len(absent) <= allowMissing:
			slog.Debug("keeping genome under allow-missing",
				"genome", g, "missing", len(absent))
			r.Missing[g] = absent
			r.keep(row, g)
		default:
			slog.Warn("genome will be removed due to missing queries", "genome", g)
			slog.Warn("increase --allow-missing to keep this genome",
				"needed", len(absent), "current", allowMissing)
			r.Missing[g] = absent
			r.Dropped[g] = absent
		}
	}

	slog.Info("keeping genomes", "count", len(r.Kept), "of", len(m.Genomes))
	r.dedup(hits)

	if err := m.WriteTSV(d.PresenceMatrix()); err != nil {
		return nil, err
	}
	if err := manifest.WriteJSON(d.SummaryFile(), r.Report); err != nil {
		return nil, err
	}
	if err := manifest.WriteJSON(d.MissingByGenome(), r.Missing); err != nil {
		return nil, err
	}
	if err := manifest.WriteJSON(d.MissingCounts(), missingCounts); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Result) keep(row int, name string) {
	r.Kept = append(r.Kept, name)
	r.KeptIdx = append(r.KeptIdx, r.Matrix.Indexes[row])
}

// dedup reduces the raw hit set to one best call per query×genome
// pair among kept genomes: highest bit score, then highest coverage,
// then first seen. Output keeps original row order.
func (r *Result) dedup(hits []blast.Hit) {
	kept := make(map[int]bool, len(r.KeptIdx))
	for _, idx := range r.KeptIdx {
		kept[idx] = true
	}

	type pair struct {
		query string
		label int
	}
	best := make(map[pair]blast.Hit)
	for _, h := range hits {
		if !kept[h.Label] {
			continue
		}
		k := pair{h.QueryID, h.Label}
		cur, ok := best[k]
		if !ok ||
			h.BitScore > cur.BitScore ||
			(h.BitScore == cur.BitScore && h.Coverage > cur.Coverage) {
			best[k] = h
		}
	}

	r.Filtered = make([]blast.Hit, 0, len(best))
	for _, h := range best {
		r.Filtered = append(r.Filtered, h)
	}
	sort.Slice(r.Filtered, func(i, j int) bool {
		return r.Filtered[i].Row < r.Filtered[j].Row
	})
}

// Enforce applies the human-in-the-loop gate: dropping any genome
// without the operator's explicit override is a policy error, not an
// automatic decision.
func (r *Result) Enforce(acceptMissing bool) error {
	if len(r.Missing) > 0 {
		slog.Warn("some genomes are missing one or more genes", "count", len(r.Missing))
		slog.Warn("review presence_matrix.tsv and missing_by_genome.json")
	}
	for q, pct := range r.Candidates {
		slog.Warn("consider removing query from the analysis",
			"query", q, "missing_percent", pct)
	}
	if len(r.Dropped) == 0 {
		return nil
	}
	if acceptMissing {
		slog.Info("continuing with reduced genome set",
			"dropped", len(r.Dropped), "kept", len(r.Kept))
		return nil
	}
	names := make([]string, 0, len(r.Dropped))
	for g := range r.Dropped {
		names = append(names, g)
	}
	sort.Strings(names)
	return status.Errorf(status.Policy,
		"%d genome(s) would be dropped for missing genes: %s; raise --allow-missing or pass --accept-missing to continue",
		len(names), strings.Join(names, ", "))
}

// Reconcile compares the kept genome set against the previous run's
// and triggers genome-scope invalidation on any difference, then
// persists the decision artifacts for the next comparison.
func (r *Result) Reconcile(coord *invalidate.Coordinator) error {
	previous, err := loadKeeps(r.d.ExpectedFilt())
	if err != nil {
		return err
	}
	if !sameSet(previous, r.Kept) {
		slog.Info("kept genome set changed, invalidating downstream artifacts",
			"previous", len(previous), "current", len(r.Kept))
		if err := coord.GenomeScope("kept genome set changed"); err != nil {
			return err
		}
	} else {
		slog.Debug("kept genome set unchanged")
	}

	if err := manifest.WriteJSON(r.d.KeepsFile(), r.KeptIdx); err != nil {
		return err
	}
	if err := manifest.WriteJSON(r.d.SingleCopyFile(), r.SingleCopy); err != nil {
		return err
	}
	if err := blast.WriteTable(r.d.FilteredTable(), r.Filtered); err != nil {
		return err
	}
	return manifest.WriteJSON(r.d.ExpectedFilt(), r.Kept)
}

func loadKeeps(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keeps []string
	if err := json.Unmarshal(data, &keeps); err != nil {
		return nil, status.Errorf(status.DataErr, "corrupt kept-genome record %s: %v", path, err)
	}
	return keeps, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}
