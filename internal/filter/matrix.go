package filter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/seqforge/gomlsa/internal/blast"
	"github.com/seqforge/gomlsa/internal/genome"
	"github.com/seqforge/gomlsa/internal/query"
)

// Matrix is the genome×query hit-count table. Rows are genomes in
// label order, columns are queries in input order. Presence is a raw
// group count over every surviving hit, taken before deduplication.
type Matrix struct {
	Queries []string
	Genomes []string
	Indexes []int // genome labels, parallel to Genomes
	Counts  [][]int
}

// Build counts hits per (genome, query) pair over the full staged
// genome and query sets, so a pair with no hits at all still gets an
// explicit zero. Hits referencing an unknown label are stale cache
// rows and are ignored.
func Build(hits []blast.Hit, genomes []genome.Genome, queries []query.Query) *Matrix {
	m := &Matrix{}

	seen := make(map[string]bool)
	col := make(map[string]int)
	for _, q := range queries {
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		col[q.ID] = len(m.Queries)
		m.Queries = append(m.Queries, q.ID)
	}

	ordered := make([]genome.Genome, len(genomes))
	copy(ordered, genomes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Label < ordered[j].Label })
	row := make(map[int]int)
	for _, g := range ordered {
		row[g.Label] = len(m.Genomes)
		m.Genomes = append(m.Genomes, g.Base)
		m.Indexes = append(m.Indexes, g.Label)
	}

	m.Counts = make([][]int, len(m.Genomes))
	for i := range m.Counts {
		m.Counts[i] = make([]int, len(m.Queries))
	}
	for _, h := range hits {
		r, ok := row[h.Label]
		if !ok {
			continue
		}
		c, ok := col[h.QueryID]
		if !ok {
			continue
		}
		m.Counts[r][c]++
	}
	return m
}

// MissingQueries returns the queries with zero hits in the given row.
func (m *Matrix) MissingQueries(row int) []string {
	var missing []string
	for c, q := range m.Queries {
		if m.Counts[row][c] == 0 {
			missing = append(missing, q)
		}
	}
	return missing
}

// MissingGenomes returns the genomes with zero hits in the given column.
func (m *Matrix) MissingGenomes(col int) []string {
	var missing []string
	for r, g := range m.Genomes {
		if m.Counts[r][col] == 0 {
			missing = append(missing, g)
		}
	}
	return missing
}

// WriteTSV writes the matrix with a blank leading header cell, genome
// names down the first column and one query per remaining column.
func (m *Matrix) WriteTSV(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, "\t"+strings.Join(m.Queries, "\t"))
	for r, g := range m.Genomes {
		cells := make([]string, len(m.Counts[r])+1)
		cells[0] = g
		for c, n := range m.Counts[r] {
			cells[c+1] = strconv.Itoa(n)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
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

// LoadTSV reads a matrix written by WriteTSV. Label indexes are not
// part of the table and are left nil.
func LoadTSV(path string) (*Matrix, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	m := &Matrix{}
	sc := bufio.NewScanner(fh)
	if !sc.Scan() {
		return nil, fmt.Errorf("presence matrix %s is empty", path)
	}
	header := strings.Split(sc.Text(), "\t")
	m.Queries = header[1:]
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		cells := strings.Split(sc.Text(), "\t")
		if len(cells) != len(m.Queries)+1 {
			return nil, fmt.Errorf("presence matrix %s: row %q has %d cells, want %d",
				path, cells[0], len(cells)-1, len(m.Queries))
		}
		counts := make([]int, len(m.Queries))
		for c, cell := range cells[1:] {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, fmt.Errorf("presence matrix %s: row %q: %w", path, cells[0], err)
			}
			counts[c] = n
		}
		m.Genomes = append(m.Genomes, cells[0])
		m.Counts = append(m.Counts, counts)
	}
	return m, sc.Err()
}
