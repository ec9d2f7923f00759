package config

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/seqforge/gomlsa/internal/status"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func sp(v string) *string   { return &v }
func bp(v bool) *bool       { return &v }

func TestMergeDefaults(t *testing.T) {
	cfg, changed := Merge(Partial{}, Partial{})
	if cfg.EValue != DefaultEValue || cfg.Coverage != DefaultCoverage ||
		cfg.Identity != DefaultIdentity || cfg.Program != DefaultProgram ||
		cfg.Threads != DefaultThreads || cfg.AllowMissing != DefaultAllowMissing {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(changed) != 0 {
		t.Errorf("changed = %v on empty merge", changed)
	}
}

func TestMergePrecedence(t *testing.T) {
	flags := Partial{Identity: ip(80)}
	persisted := Partial{Identity: ip(30), Coverage: ip(70)}
	cfg, changed := Merge(flags, persisted)
	if cfg.Identity != 80 {
		t.Errorf("flag did not override persisted: identity = %d", cfg.Identity)
	}
	if cfg.Coverage != 70 {
		t.Errorf("persisted did not override default: coverage = %d", cfg.Coverage)
	}
	if !reflect.DeepEqual(changed, []string{"identity"}) {
		t.Errorf("changed = %v, want [identity]", changed)
	}
}

func TestMergeChangeDiff(t *testing.T) {
	flags := Partial{
		EValue:  fp(1e-10),
		Program: sp("blastn"),
		Threads: ip(8),
	}
	persisted := Partial{
		EValue:  fp(1e-5),
		Program: sp("tblastn"),
		Threads: ip(2),
	}
	_, changed := Merge(flags, persisted)
	// Threads changes are tuning only and must not appear.
	want := []string{"evalue", "program"}
	if !reflect.DeepEqual(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
}

func TestMergeSameValueNotChanged(t *testing.T) {
	_, changed := Merge(Partial{EValue: fp(1e-5)}, Partial{EValue: fp(1e-5)})
	if len(changed) != 0 {
		t.Errorf("changed = %v for identical flag and persisted value", changed)
	}
}

func TestMergeBoolsAccumulate(t *testing.T) {
	cfg, _ := Merge(Partial{Protect: bp(true)}, Partial{})
	if !cfg.Protect {
		t.Error("protect flag dropped")
	}
	cfg, _ = Merge(Partial{}, Partial{Dups: bp(true)})
	if !cfg.Dups {
		t.Error("persisted dups dropped")
	}
}

func TestMergeUnionsInputLists(t *testing.T) {
	flags := Partial{Query: []string{"q1.fas"}, Files: []string{"a.fna"}}
	persisted := Partial{Query: []string{"q1.fas", "q2.fas"}, Files: []string{"b.fna"}}
	cfg, _ := Merge(flags, persisted)
	if !reflect.DeepEqual(cfg.Query, []string{"q1.fas", "q2.fas"}) {
		t.Errorf("query union = %v", cfg.Query)
	}
	if !reflect.DeepEqual(cfg.Files, []string{"a.fna", "b.fna"}) {
		t.Errorf("files union = %v", cfg.Files)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		EValue: 1e-5, Coverage: 50, Identity: 30, Program: "tblastn",
		Threads: 1, Query: []string{"q.fas"}, Files: []string{"a.fna"},
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"evalue too large", func(c *Config) { c.EValue = 11 }},
		{"coverage 100", func(c *Config) { c.Coverage = 100 }},
		{"negative coverage", func(c *Config) { c.Coverage = -1 }},
		{"identity over 100", func(c *Config) { c.Identity = 101 }},
		{"negative allow-missing", func(c *Config) { c.AllowMissing = -1 }},
		{"zero threads", func(c *Config) { c.Threads = 0 }},
		{"bad program", func(c *Config) { c.Program = "blastp" }},
		{"no queries", func(c *Config) { c.Query = nil }},
		{"no genomes", func(c *Config) { c.Files = nil; c.Dirs = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if status.CodeOf(err) != status.Usage {
				t.Errorf("exit code = %d, want %d", status.CodeOf(err), status.Usage)
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Config{
		Query: []string{"q.fas"}, Files: []string{"a.fna"},
		EValue: 1e-8, Coverage: 60, Identity: 45, Program: "blastn",
		Threads: 4, AllowMissing: 2, Dups: true, Outgroup: "b.fna",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	merged, changed := Merge(Partial{}, p)
	if !reflect.DeepEqual(merged, cfg) {
		t.Errorf("round trip = %+v, want %+v", merged, cfg)
	}
	if len(changed) != 0 {
		t.Errorf("round trip reported changes: %v", changed)
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.EValue != nil || p.Program != nil || len(p.Query) != 0 {
		t.Errorf("missing config not empty: %+v", p)
	}
}

func TestOverlayFlagWins(t *testing.T) {
	evalue := 1e-8
	seedEValue := 1e-3
	seedProgram := "blastn"
	flags := Partial{EValue: &evalue}
	seed := Partial{EValue: &seedEValue, Program: &seedProgram, Query: []string{"q.fas"}}

	combined := Overlay(flags, seed)
	if *combined.EValue != evalue {
		t.Errorf("explicit flag lost to seed: %g", *combined.EValue)
	}
	if combined.Program == nil || *combined.Program != "blastn" {
		t.Error("seed did not fill unset program")
	}
	if len(combined.Query) != 1 {
		t.Error("seed did not fill unset query list")
	}
}
