// Package config reconciles command-line flags with the run's
// persisted configuration. Precedence is explicit flag > persisted
// value > built-in default, and the merge reports which settings
// changed so stale search artifacts can be invalidated.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/seqforge/gomlsa/internal/status"
)

// Built-in defaults.
const (
	DefaultEValue       = 1e-5
	DefaultCoverage     = 50
	DefaultIdentity     = 30
	DefaultProgram      = "tblastn"
	DefaultThreads      = 1
	DefaultAllowMissing = 0
)

// Config is the fully resolved run configuration.
type Config struct {
	Query         []string `yaml:"query,omitempty"`
	Files         []string `yaml:"files,omitempty"`
	Dirs          []string `yaml:"dir,omitempty"`
	EValue        float64  `yaml:"evalue"`
	Coverage      int      `yaml:"coverage"`
	Identity      int      `yaml:"identity"`
	Program       string   `yaml:"program"`
	Threads       int      `yaml:"threads"`
	AllowMissing  int      `yaml:"allow_missing"`
	AcceptMissing bool     `yaml:"accept_missing"`
	Dups          bool     `yaml:"dups"`
	Outgroup      string   `yaml:"outgroup,omitempty"`
	MafftArgs     string   `yaml:"mafft,omitempty"`
	IQTreeArgs    string   `yaml:"iqtree,omitempty"`
	Protect       bool     `yaml:"protect"`
	External      string   `yaml:"external,omitempty"`
}

// Partial is a configuration record in which unset fields are nil.
// Both the command-line flag set and a loaded config file parse into
// this shape before merging.
type Partial struct {
	Query         []string `yaml:"query,omitempty"`
	Files         []string `yaml:"files,omitempty"`
	Dirs          []string `yaml:"dir,omitempty"`
	EValue        *float64 `yaml:"evalue,omitempty"`
	Coverage      *int     `yaml:"coverage,omitempty"`
	Identity      *int     `yaml:"identity,omitempty"`
	Program       *string  `yaml:"program,omitempty"`
	Threads       *int     `yaml:"threads,omitempty"`
	AllowMissing  *int     `yaml:"allow_missing,omitempty"`
	AcceptMissing *bool    `yaml:"accept_missing,omitempty"`
	Dups          *bool    `yaml:"dups,omitempty"`
	Outgroup      *string  `yaml:"outgroup,omitempty"`
	MafftArgs     *string  `yaml:"mafft,omitempty"`
	IQTreeArgs    *string  `yaml:"iqtree,omitempty"`
	Protect       *bool    `yaml:"protect,omitempty"`
	External      *string  `yaml:"external,omitempty"`
}

// Load reads a persisted config file. A missing file yields an empty
// Partial, not an error.
func Load(path string) (Partial, error) {
	var p Partial
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, status.Errorf(status.Usage, "invalid YAML in %s: %v", path, err)
	}
	return p, nil
}

// Save writes the resolved configuration back to the run directory,
// overwriting the previous copy. Checkpoint requests are deliberately
// not persisted; a halt is a per-invocation decision.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Merge resolves flags against the persisted record. The returned
// changed list names every setting where an explicit flag overrode a
// different persisted value; a non-empty list means prior search
// results were produced under other settings and are stale.
func Merge(flags, persisted Partial) (Config, []string) {
	var changed []string

	cfg := Config{
		EValue:       DefaultEValue,
		Coverage:     DefaultCoverage,
		Identity:     DefaultIdentity,
		Program:      DefaultProgram,
		Threads:      DefaultThreads,
		AllowMissing: DefaultAllowMissing,
	}

	mergeFloat := func(name string, flag, saved, dst *float64) {
		if saved != nil {
			*dst = *saved
		}
		if flag != nil {
			if saved != nil && *flag != *saved {
				changed = append(changed, name)
			}
			*dst = *flag
		}
	}
	mergeInt := func(name string, flag, saved, dst *int) {
		if saved != nil {
			*dst = *saved
		}
		if flag != nil {
			if saved != nil && *flag != *saved {
				changed = append(changed, name)
			}
			*dst = *flag
		}
	}
	mergeString := func(name string, flag, saved, dst *string) {
		if saved != nil {
			*dst = *saved
		}
		if flag != nil {
			if saved != nil && *flag != *saved {
				changed = append(changed, name)
			}
			*dst = *flag
		}
	}
	// Boolean flags accumulate rather than diff: once set for a run
	// they stay set until the config file is edited.
	mergeBool := func(flag, saved, dst *bool) {
		if saved != nil {
			*dst = *saved
		}
		if flag != nil && *flag {
			*dst = true
		}
	}

	mergeFloat("evalue", flags.EValue, persisted.EValue, &cfg.EValue)
	mergeInt("coverage", flags.Coverage, persisted.Coverage, &cfg.Coverage)
	mergeInt("identity", flags.Identity, persisted.Identity, &cfg.Identity)
	mergeString("program", flags.Program, persisted.Program, &cfg.Program)
	mergeInt("threads", flags.Threads, persisted.Threads, &cfg.Threads)
	mergeInt("allow_missing", flags.AllowMissing, persisted.AllowMissing, &cfg.AllowMissing)
	mergeString("outgroup", flags.Outgroup, persisted.Outgroup, &cfg.Outgroup)
	mergeString("mafft", flags.MafftArgs, persisted.MafftArgs, &cfg.MafftArgs)
	mergeString("iqtree", flags.IQTreeArgs, persisted.IQTreeArgs, &cfg.IQTreeArgs)
	mergeString("external", flags.External, persisted.External, &cfg.External)
	mergeBool(flags.AcceptMissing, persisted.AcceptMissing, &cfg.AcceptMissing)
	mergeBool(flags.Dups, persisted.Dups, &cfg.Dups)
	mergeBool(flags.Protect, persisted.Protect, &cfg.Protect)

	// Input lists union flag and persisted entries, first-seen order.
	cfg.Query = unionPaths(flags.Query, persisted.Query)
	cfg.Files = unionPaths(flags.Files, persisted.Files)
	cfg.Dirs = unionPaths(flags.Dirs, persisted.Dirs)

	// Thread count and tool locations are tuning, not search
	// semantics; their changes do not invalidate results.
	changed = without(changed, "threads")
	changed = without(changed, "external")
	sort.Strings(changed)
	return cfg, changed
}

// Overlay fills the unset fields of primary from fallback. A config
// file given with --config seeds the flag layer this way; explicit
// flags stay authoritative.
func Overlay(primary, fallback Partial) Partial {
	if primary.Query == nil {
		primary.Query = fallback.Query
	}
	if primary.Files == nil {
		primary.Files = fallback.Files
	}
	if primary.Dirs == nil {
		primary.Dirs = fallback.Dirs
	}
	if primary.EValue == nil {
		primary.EValue = fallback.EValue
	}
	if primary.Coverage == nil {
		primary.Coverage = fallback.Coverage
	}
	if primary.Identity == nil {
		primary.Identity = fallback.Identity
	}
	if primary.Program == nil {
		primary.Program = fallback.Program
	}
	if primary.Threads == nil {
		primary.Threads = fallback.Threads
	}
	if primary.AllowMissing == nil {
		primary.AllowMissing = fallback.AllowMissing
	}
	if primary.AcceptMissing == nil {
		primary.AcceptMissing = fallback.AcceptMissing
	}
	if primary.Dups == nil {
		primary.Dups = fallback.Dups
	}
	if primary.Outgroup == nil {
		primary.Outgroup = fallback.Outgroup
	}
	if primary.MafftArgs == nil {
		primary.MafftArgs = fallback.MafftArgs
	}
	if primary.IQTreeArgs == nil {
		primary.IQTreeArgs = fallback.IQTreeArgs
	}
	if primary.Protect == nil {
		primary.Protect = fallback.Protect
	}
	if primary.External == nil {
		primary.External = fallback.External
	}
	return primary
}

// Validate checks the resolved configuration per the CLI contract.
func Validate(cfg Config) error {
	if cfg.EValue > 10 {
		return status.Errorf(status.Usage,
			"evalue %g is greater than 10; specify an evalue <= 10", cfg.EValue)
	}
	if cfg.Coverage < 0 || cfg.Coverage >= 100 {
		return status.Errorf(status.Usage,
			"coverage %d is not between 0 and 100", cfg.Coverage)
	}
	if cfg.Identity < 0 || cfg.Identity > 100 {
		return status.Errorf(status.Usage,
			"identity %d is not between 0 and 100", cfg.Identity)
	}
	if cfg.AllowMissing < 0 {
		return status.Errorf(status.Usage,
			"allow-missing %d is negative; specify a count >= 0", cfg.AllowMissing)
	}
	if cfg.Threads < 1 {
		return status.Errorf(status.Usage, "threads must be >= 1, got %d", cfg.Threads)
	}
	if cfg.Program != "tblastn" && cfg.Program != "blastn" {
		return status.Errorf(status.Usage,
			"program %q is not valid; give either tblastn or blastn", cfg.Program)
	}
	if len(cfg.Query) == 0 {
		return status.Errorf(status.Usage, "no query files given (--query)")
	}
	if len(cfg.Files) == 0 && len(cfg.Dirs) == 0 {
		return status.Errorf(status.Usage, "no genome inputs given (--files or --dir)")
	}
	return nil
}

func unionPaths(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func without(list []string, drop string) []string {
	out := list[:0]
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
