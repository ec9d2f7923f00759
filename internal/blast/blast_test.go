package blast

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seqforge/gomlsa/internal/genome"
	"github.com/seqforge/gomlsa/internal/query"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

func testDir(t *testing.T) *rundir.Dir {
	t.Helper()
	chdir(t, t.TempDir())
	d, err := rundir.Open("testrun")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := EnsureDir(d.BlastDir()); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParseRow(t *testing.T) {
	line := "rpoB\t2\tNC_000913.3\t97.50\t400\t410\t812.5\t98\tEscherichia coli str. K-12\tMKL--AVT"
	h, err := parseRow(line)
	if err != nil {
		t.Fatal(err)
	}
	if h.QueryID != "rpoB" || h.Label != 2 || h.SubjectID != "NC_000913.3" {
		t.Errorf("identity fields = %+v", h)
	}
	if h.PercentIdentity != 97.5 || h.BitScore != 812.5 || h.Coverage != 98 {
		t.Errorf("numeric fields = %+v", h)
	}
	if h.SubjectTitle != "Escherichia coli str. K-12" || h.SubjectSeq != "MKL--AVT" {
		t.Errorf("text fields = %+v", h)
	}
}

func TestParseRowRejectsBadInput(t *testing.T) {
	for _, line := range []string{
		"too\tfew\tcolumns",
		"rpoB\tX\tacc\t97.5\t400\t410\t812.5\t98\ttitle\tseq", // non-integer label
	} {
		if _, err := parseRow(line); err == nil {
			t.Errorf("parseRow(%q) accepted bad row", line)
		}
	}
}

func TestPlanOrderAndNaming(t *testing.T) {
	d := testDir(t)
	queries := []query.Query{
		{Name: "rpoB_aaa", File: "queries/rpoB_aaa.fas"},
		{Name: "gyrB_bbb", File: "queries/gyrB_bbb.fas"},
	}
	genomes := []genome.Genome{
		{Base: "a.fna", Label: 0, Staged: "fasta/a.fna"},
		{Base: "b.fna", Label: 1, Staged: "fasta/b.fna"},
	}
	units := Plan(d, queries, genomes)
	if len(units) != 4 {
		t.Fatalf("planned %d units, want 4", len(units))
	}
	// Genome-major, query order preserved within each genome.
	wantOut := []string{
		"rpoB_aaa_vs_a.fna.tab",
		"gyrB_bbb_vs_a.fna.tab",
		"rpoB_aaa_vs_b.fna.tab",
		"gyrB_bbb_vs_b.fna.tab",
	}
	for i, u := range units {
		if filepath.Base(u.Out) != wantOut[i] {
			t.Errorf("unit %d out = %s, want %s", i, filepath.Base(u.Out), wantOut[i])
		}
	}
}

func TestPendingSkipsCompleteUnits(t *testing.T) {
	d := testDir(t)
	done := Unit{Out: filepath.Join(d.BlastDir(), "done.tab")}
	empty := Unit{Out: filepath.Join(d.BlastDir(), "empty.tab")}
	missing := Unit{Out: filepath.Join(d.BlastDir(), "missing.tab")}
	if err := os.WriteFile(done.Out, []byte("# header\nrow\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty.Out, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	pending := Pending([]Unit{done, empty, missing})
	if len(pending) != 2 {
		t.Fatalf("pending = %d units, want 2 (empty + missing)", len(pending))
	}
}

func TestWriteCommandFile(t *testing.T) {
	d := testDir(t)
	u := Unit{
		QueryFile: "queries/rpoB beta.fas", // space forces quoting
		DB:        "fasta/a.fna",
		Out:       filepath.Join(d.BlastDir(), "rpoB_vs_a.fna.tab"),
	}
	cmds := [][]string{Command("tblastn", 1e-5, u)}
	if err := WriteCommandFile(d.BlastCmds(), cmds); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(d.BlastCmds())
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, "tblastn -evalue 1e-05") {
		t.Errorf("command line = %q", line)
	}
	if !strings.Contains(line, "'queries/rpoB beta.fas'") {
		t.Errorf("argument with space not quoted: %q", line)
	}
	if !strings.Contains(line, "'"+OutFormat+"'") {
		t.Errorf("outfmt not quoted: %q", line)
	}
}

func unitWithOutput(t *testing.T, d *rundir.Dir, name, content string) Unit {
	t.Helper()
	out := filepath.Join(d.BlastDir(), name)
	if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return Unit{Out: out}
}

func TestReadResultsFiltersAndOrders(t *testing.T) {
	d := testDir(t)
	u1 := unitWithOutput(t, d, "rpoB_x_vs_a.fna.tab",
		"# TBLASTN 2.13.0\n"+
			"rpoB\t0\tacc1\t95.0\t400\t400\t800\t99\tt1\tMKL\n"+
			"rpoB\t0\tacc2\t20.0\t400\t200\t100\t99\tt2\tMKL\n") // fails identity
	u2 := unitWithOutput(t, d, "rpoB_x_vs_b.fna.tab",
		"rpoB\t1\tacc3\t90.0\t400\t380\t700\t30\tt3\tMTT\n") // fails coverage
	u3 := unitWithOutput(t, d, "gyrB_y_vs_a.fna.tab",
		"gyrB\t0\tacc4\t88.0\t300\t300\t600\t95\tt4\tMGG\n")

	hits, err := ReadResults(context.Background(), d.ResultsCache(),
		[]Unit{u1, u2, u3}, 30, 50, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 after thresholds", len(hits))
	}
	if hits[0].QueryID != "rpoB" || hits[1].QueryID != "gyrB" {
		t.Errorf("submission order not preserved: %+v", hits)
	}
	for i, h := range hits {
		if h.Row != i {
			t.Errorf("hit %d row = %d", i, h.Row)
		}
	}
}

func TestReadResultsCacheRoundTrip(t *testing.T) {
	d := testDir(t)
	u := unitWithOutput(t, d, "rpoB_x_vs_a.fna.tab",
		"rpoB\t0\tacc1\t95.25\t400\t400\t812.5\t99\tEscherichia coli K-12\tMK--L\n")

	first, err := ReadResults(context.Background(), d.ResultsCache(), []Unit{u}, 30, 50, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Second read must come from the cache even if the unit file is gone.
	if err := os.Remove(u.Out); err != nil {
		t.Fatal(err)
	}
	second, err := ReadResults(context.Background(), d.ResultsCache(), []Unit{u}, 30, 50, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("lengths = %d, %d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Errorf("cache round trip differs:\n %+v\n %+v", first[0], second[0])
	}
}

func TestReadResultsMissingUnitIsEmpty(t *testing.T) {
	d := testDir(t)
	u := Unit{Out: filepath.Join(d.BlastDir(), "never_ran.tab")}
	hits, err := ReadResults(context.Background(), d.ResultsCache(), []Unit{u}, 30, 50, 1)
	if err != nil {
		t.Fatalf("missing unit output must read as empty, got %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestRunFailureDiscardsOutput(t *testing.T) {
	d := testDir(t)
	u := Unit{
		QueryName: "rpoB_x", Genome: "a.fna",
		Out: filepath.Join(d.BlastDir(), "rpoB_x_vs_a.fna.tab"),
	}
	if err := os.WriteFile(u.Out, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Run(context.Background(), "false", 1e-5, []Unit{u}, 1)
	if err == nil {
		t.Fatal("failing search reported success")
	}
	if status.CodeOf(err) != status.External {
		t.Errorf("exit code = %d, want %d", status.CodeOf(err), status.External)
	}
	if _, serr := os.Stat(u.Out); !os.IsNotExist(serr) {
		t.Error("partial output survived a failed unit")
	}
}

func TestRunNoUnitsIsNoop(t *testing.T) {
	if err := Run(context.Background(), "false", 1e-5, nil, 4); err != nil {
		t.Fatal(err)
	}
}

// chdir changes into dir for the duration of the test, restoring the
// previous working directory on cleanup (equivalent of t.Chdir, which
// requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}
