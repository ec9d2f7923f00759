package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	previous := map[string]string{
		"a.fna": "h1",
		"b.fna": "h2",
		"c.fna": "h3",
	}
	current := map[string]string{
		"a.fna": "h1",      // unchanged
		"b.fna": "h2-edit", // changed
		"d.fna": "h4",      // new
	}
	c := Classify(current, previous)
	if !reflect.DeepEqual(c.New, []string{"d.fna"}) {
		t.Errorf("New = %v", c.New)
	}
	if !reflect.DeepEqual(c.Changed, []string{"b.fna"}) {
		t.Errorf("Changed = %v", c.Changed)
	}
	if !reflect.DeepEqual(c.Removed, []string{"c.fna"}) {
		t.Errorf("Removed = %v", c.Removed)
	}
	if !reflect.DeepEqual(c.Unchanged, []string{"a.fna"}) {
		t.Errorf("Unchanged = %v", c.Unchanged)
	}
	if !c.Dirty() {
		t.Error("Dirty() = false with pending changes")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	set := map[string]string{"a": Hash([]byte("ACGT")), "b": Hash([]byte("TTTT"))}
	c := Classify(set, set)
	if c.Dirty() {
		t.Fatalf("second identical run not clean: %+v", c)
	}
	if len(c.Unchanged) != 2 {
		t.Errorf("Unchanged = %v", c.Unchanged)
	}
}

func TestHashStable(t *testing.T) {
	if Hash([]byte("ACGT")) != Hash([]byte("ACGT")) {
		t.Error("hash not deterministic")
	}
	if Hash([]byte("ACGT")) == Hash([]byte("ACGA")) {
		t.Error("distinct content hashed equal")
	}
	if got := len(Short(Hash([]byte("ACGT")))); got != 12 {
		t.Errorf("Short length = %d, want 12", got)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genomes.json")
	m := map[string]string{"a.fna": "h1", "b.fna": "h2"}
	if err := Save(path, m); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip = %v, want %v", got, m)
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Errorf("missing manifest = %v, want empty", m)
	}
}

func TestLabelsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")

	labels := ExtendLabels(nil, []string{"a.fna", "b.fna", "c.fna"})
	if err := SaveLabels(path, labels); err != nil {
		t.Fatal(err)
	}

	// Later run: b removed, d added. Indices of a and c must not move.
	loaded, err := LoadLabels(path)
	if err != nil {
		t.Fatal(err)
	}
	labels = ExtendLabels(loaded, []string{"a.fna", "c.fna", "d.fna"})
	want := []string{"a.fna", "b.fna", "c.fna", "d.fna"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.json")
	if err := Save(path, map[string]string{"a": "h"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
