package filter

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/gomlsa/internal/blast"
	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

// WriteUnaligned writes one unaligned FASTA per query from the
// deduplicated hit table, headers carrying the genome identifier
// without its file extension and alignment gaps stripped from the
// subject sequence. Existing non-empty files are kept as-is. Returns
// the per-query file paths in first-seen query order.
func WriteUnaligned(d *rundir.Dir, hits []blast.Hit, labels []string) ([]string, error) {
	if err := os.MkdirAll(d.UnalignedDir(), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create unaligned directory: %w", err)
	}

	var order []string
	groups := make(map[string][]blast.Hit)
	for _, h := range hits {
		if _, ok := groups[h.QueryID]; !ok {
			order = append(order, h.QueryID)
		}
		groups[h.QueryID] = append(groups[h.QueryID], h)
	}

	slog.Info("writing unaligned sequences, if necessary", "queries", len(order))
	var files []string
	for _, q := range order {
		path := filepath.Join(d.UnalignedDir(), q+".fas")
		files = append(files, path)
		if checkpoint.OutputReady(path) {
			slog.Debug("unaligned file already present, skipping", "file", path)
			continue
		}
		if err := writeGene(path, groups[q], labels); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func writeGene(path string, hits []blast.Hit, labels []string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	for _, h := range hits {
		if h.Label < 0 || h.Label >= len(labels) {
			fh.Close()
			os.Remove(path)
			return status.Errorf(status.DataErr,
				"hit for %s references unknown genome label %d", h.QueryID, h.Label)
		}
		name := labels[h.Label]
		name = strings.TrimSuffix(name, filepath.Ext(name))
		fmt.Fprintf(w, ">%s\n%s\n", name, strings.ReplaceAll(h.SubjectSeq, "-", ""))
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		os.Remove(path)
		return err
	}
	return fh.Close()
}
