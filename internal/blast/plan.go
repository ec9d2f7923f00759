package blast

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/genome"
	"github.com/seqforge/gomlsa/internal/query"
	"github.com/seqforge/gomlsa/internal/rundir"
)

// Unit is one query×genome search: a single invocation of the search
// program with one query file against one genome database.
type Unit struct {
	QueryName string // query file stem, e.g. rpoB_1a2b3c4d5e6f
	QueryFile string
	Genome    string // genome identifier (basename)
	Label     int
	DB        string // staged genome FASTA (database prefix)
	Out       string // blast/<query>_vs_<genome>.tab
}

// Plan enumerates every search unit in deterministic order: genomes in
// label-list order, queries in input order. The reduce step relies on
// this ordering for stable tie-breaking downstream.
func Plan(d *rundir.Dir, queries []query.Query, genomes []genome.Genome) []Unit {
	units := make([]Unit, 0, len(queries)*len(genomes))
	for _, g := range genomes {
		for _, q := range queries {
			units = append(units, Unit{
				QueryName: q.Name,
				QueryFile: q.File,
				Genome:    g.Base,
				Label:     g.Label,
				DB:        g.Staged,
				Out:       filepath.Join(d.BlastDir(), q.Name+"_vs_"+g.Base+".tab"),
			})
		}
	}
	return units
}

// Pending filters units to those whose output is missing or empty.
// An empty file is a partial result from an interrupted invocation and
// the unit must re-run.
func Pending(units []Unit) []Unit {
	var pending []Unit
	for _, u := range units {
		if !checkpoint.OutputReady(u.Out) {
			pending = append(pending, u)
		}
	}
	return pending
}

// Command builds the argv for one unit.
func Command(exe string, evalue float64, u Unit) []string {
	return []string{
		exe,
		"-evalue", strconv.FormatFloat(evalue, 'g', -1, 64),
		"-outfmt", OutFormat,
		"-db", u.DB,
		"-query", u.QueryFile,
		"-out", u.Out,
	}
}

// WriteCommandFile dumps the given commands, shell-quoted one per
// line, so an operator can execute them out-of-band and resume.
func WriteCommandFile(path string, cmds [][]string) error {
	var sb strings.Builder
	for _, cmd := range cmds {
		quoted := make([]string, len(cmd))
		for i, arg := range cmd {
			quoted[i] = Quote(arg)
		}
		sb.WriteString(strings.Join(quoted, " "))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("cannot write command file %s: %w", path, err)
	}
	return nil
}

// Quote single-quotes an argument when it contains characters the
// shell would interpret.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
