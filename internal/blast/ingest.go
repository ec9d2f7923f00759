package blast

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ReadResults returns every hit passing the identity and coverage
// thresholds, in deterministic row order. The first read parses the
// unit files on a bounded worker pool, reduces them in submission
// order, and writes the accumulated cache; later reads come from the
// cache so the thresholds are applied exactly once.
func ReadResults(ctx context.Context, cachePath string, units []Unit, identity, coverage, threads int) ([]Hit, error) {
	if _, err := os.Stat(cachePath); err == nil {
		slog.Debug("reading hits from existing cache", "file", cachePath)
		return readCache(cachePath)
	}

	slog.Info("reading search results", "units", len(units), "threads", threads)
	if threads < 1 {
		threads = 1
	}
	perUnit := make([][]Hit, len(units))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fh, err := os.Open(u.Out)
			if err != nil {
				// Not yet produced; the unit will re-run next time.
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			defer fh.Close()
			hits, err := parseUnitFile(fh)
			if err != nil {
				return fmt.Errorf("parse %s: %w", filepath.Base(u.Out), err)
			}
			perUnit[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stable reduce in submission order; dedup tie-breaking depends on
	// this row numbering.
	var all []Hit
	for _, hits := range perUnit {
		for _, h := range hits {
			if h.PercentIdentity >= float64(identity) && h.Coverage >= coverage {
				h.Row = len(all)
				all = append(all, h)
			}
		}
	}
	if err := writeCache(cachePath, all); err != nil {
		return nil, err
	}
	return all, nil
}

// WriteTable persists hits in the cache row format.
func WriteTable(path string, hits []Hit) error { return writeCache(path, hits) }

// ReadTable loads a hit table written by WriteTable.
func ReadTable(path string) ([]Hit, error) { return readCache(path) }

func readCache(path string) ([]Hit, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var hits []Hit
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "row\t") {
				continue
			}
		}
		if line == "" {
			continue
		}
		h, err := parseCachedRow(line)
		if err != nil {
			return nil, fmt.Errorf("corrupt hit cache %s line %d: %w", path, lineno, err)
		}
		hits = append(hits, h)
	}
	return hits, sc.Err()
}

func writeCache(path string, hits []Hit) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, cacheHeader)
	for _, h := range hits {
		fmt.Fprintln(w, formatRow(h))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
