package align

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

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
	return d
}

func TestPlanNaming(t *testing.T) {
	d := testDir(t)
	units := Plan(d, []string{"testrun/unaligned/rpoB.fas", "testrun/unaligned/gyrB.fas"})
	if len(units) != 2 {
		t.Fatalf("units = %d", len(units))
	}
	if filepath.Base(units[0].Out) != "rpoB.aln" || filepath.Base(units[1].Out) != "gyrB.aln" {
		t.Errorf("outputs = %s, %s", units[0].Out, units[1].Out)
	}
	if units[0].Log != units[0].Out+".log" {
		t.Errorf("log = %s", units[0].Log)
	}
}

func TestPendingSkipsExistingAlignments(t *testing.T) {
	d := testDir(t)
	if err := os.MkdirAll(d.AlignedDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	units := Plan(d, []string{"u/done.fas", "u/todo.fas"})
	if err := os.WriteFile(units[0].Out, []byte(">0\nMKL\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pending := Pending(units)
	if len(pending) != 1 || pending[0].Source != "u/todo.fas" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestCommandShape(t *testing.T) {
	u := Unit{Source: "unaligned/rpoB.fas"}
	argv := Command("mafft", 4, []string{"--anysymbol"}, u)
	want := "mafft --localpair --maxiterate 1000 --thread 4 --anysymbol unaligned/rpoB.fas"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestWriteCommandFileRedirects(t *testing.T) {
	d := testDir(t)
	units := Plan(d, []string{"u/rpoB.fas"})
	if err := WriteCommandFile(d.MafftCmds(), "mafft", 2, nil, units); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(d.MafftCmds())
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, " > ") || !strings.HasSuffix(line, units[0].Out) {
		t.Errorf("command line = %q", line)
	}
}

func TestRunFailureDiscardsOutput(t *testing.T) {
	d := testDir(t)
	src := filepath.Join(d.Root, "rpoB.fas")
	if err := os.WriteFile(src, []byte(">0\nMKL\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	units := Plan(d, []string{src})
	err := Run(context.Background(), "false", 1, nil, units)
	if err == nil {
		t.Fatal("failing aligner reported success")
	}
	if status.CodeOf(err) != status.External {
		t.Errorf("exit code = %d, want %d", status.CodeOf(err), status.External)
	}
	if _, serr := os.Stat(units[0].Out); !os.IsNotExist(serr) {
		t.Error("partial alignment survived a failed run")
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
