// Package blast plans and runs the per-query×genome search units,
// caches their tabular output, and ingests hit records with the
// identity/coverage thresholds applied once at read time.
package blast

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Hit is one tabular output row. Fields mirror the requested output
// format: qseqid sseqid saccver pident qlen length bitscore qcovhsp
// stitle sseq.
type Hit struct {
	Row             int     // original row order across the whole result set
	QueryID         string  // query sequence identifier
	Label           int     // genome label (staged FASTA headers carry it)
	SubjectID       string  // subject accession
	PercentIdentity float64 // pident
	QueryLen        int     // qlen
	AlignLen        int     // alignment length
	BitScore        float64 // bitscore
	Coverage        int     // qcovhsp, percent query coverage
	SubjectTitle    string  // stitle
	SubjectSeq      string  // aligned subject sequence, gap characters included
}

// OutFormat is the -outfmt argument handed to the search program.
const OutFormat = "7 qseqid sseqid saccver pident qlen length bitscore qcovhsp stitle sseq"

const numFields = 10

// parseRow parses one tab-separated hit row.
func parseRow(line string) (Hit, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != numFields {
		return Hit{}, fmt.Errorf("expected %d columns, got %d", numFields, len(fields))
	}
	var (
		h   Hit
		err error
	)
	h.QueryID = fields[0]
	if h.Label, err = strconv.Atoi(fields[1]); err != nil {
		return Hit{}, fmt.Errorf("bad genome label %q: %w", fields[1], err)
	}
	h.SubjectID = fields[2]
	if h.PercentIdentity, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Hit{}, fmt.Errorf("bad pident %q: %w", fields[3], err)
	}
	if h.QueryLen, err = strconv.Atoi(fields[4]); err != nil {
		return Hit{}, fmt.Errorf("bad qlen %q: %w", fields[4], err)
	}
	if h.AlignLen, err = strconv.Atoi(fields[5]); err != nil {
		return Hit{}, fmt.Errorf("bad length %q: %w", fields[5], err)
	}
	if h.BitScore, err = strconv.ParseFloat(fields[6], 64); err != nil {
		return Hit{}, fmt.Errorf("bad bitscore %q: %w", fields[6], err)
	}
	if h.Coverage, err = strconv.Atoi(fields[7]); err != nil {
		return Hit{}, fmt.Errorf("bad qcovhsp %q: %w", fields[7], err)
	}
	h.SubjectTitle = fields[8]
	h.SubjectSeq = fields[9]
	return h, nil
}

// parseUnitFile reads every non-comment row from one unit's output.
func parseUnitFile(r io.Reader) ([]Hit, error) {
	var hits []Hit
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		hits = append(hits, h)
	}
	return hits, sc.Err()
}

// formatRow renders a hit for the accumulated cache, prefixed with its
// original row index so reruns preserve ordering.
func formatRow(h Hit) string {
	return strings.Join([]string{
		strconv.Itoa(h.Row),
		h.QueryID,
		strconv.Itoa(h.Label),
		h.SubjectID,
		strconv.FormatFloat(h.PercentIdentity, 'f', -1, 64),
		strconv.Itoa(h.QueryLen),
		strconv.Itoa(h.AlignLen),
		strconv.FormatFloat(h.BitScore, 'f', -1, 64),
		strconv.Itoa(h.Coverage),
		h.SubjectTitle,
		h.SubjectSeq,
	}, "\t")
}

var cacheHeader = strings.Join([]string{
	"row", "qseqid", "sseqid", "saccver", "pident", "qlen",
	"length", "bitscore", "qcovhsp", "stitle", "sseq",
}, "\t")

// parseCachedRow reads a row written by formatRow.
func parseCachedRow(line string) (Hit, error) {
	idx := strings.IndexByte(line, '\t')
	if idx < 0 {
		return Hit{}, fmt.Errorf("missing row index")
	}
	row, err := strconv.Atoi(line[:idx])
	if err != nil {
		return Hit{}, fmt.Errorf("bad row index %q: %w", line[:idx], err)
	}
	h, err := parseRow(line[idx+1:])
	if err != nil {
		return Hit{}, err
	}
	h.Row = row
	return h, nil
}
