package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/seqforge/gomlsa/internal/align"
	"github.com/seqforge/gomlsa/internal/blast"
	"github.com/seqforge/gomlsa/internal/checkpoint"
	"github.com/seqforge/gomlsa/internal/config"
	"github.com/seqforge/gomlsa/internal/extern"
	"github.com/seqforge/gomlsa/internal/filter"
	"github.com/seqforge/gomlsa/internal/genome"
	"github.com/seqforge/gomlsa/internal/invalidate"
	"github.com/seqforge/gomlsa/internal/phylo"
	"github.com/seqforge/gomlsa/internal/query"
	"github.com/seqforge/gomlsa/internal/rundir"
	"github.com/seqforge/gomlsa/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run RUNID",
	Short: "Run or resume an analysis in the RUNID directory",
	Long: `Run executes the pipeline in the RUNID directory, creating it on
first use. Settings are merged with the directory's config.yaml
(explicit flag > saved value > default) and saved back, so a bare
"gomlsa run RUNID" resumes where the previous invocation stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

var (
	flagQuery      []string
	flagFiles      []string
	flagDirs       []string
	flagEValue     float64
	flagCoverage   int
	flagIdentity   int
	flagProgram    string
	flagThreads    int
	flagAllow      int
	flagAccept     bool
	flagDups       bool
	flagProtect    bool
	flagCheckpoint string
	flagOutgroup   string
	flagMafft      string
	flagIQTree     string
	flagExternal   string
	flagConfig     string
	flagDebug      bool
	flagQuiet      bool
)

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&flagQuery, "query", "q", nil, "query FASTA file(s) holding the reference genes")
	f.StringSliceVar(&flagFiles, "files", nil, "individual genome FASTA files")
	f.StringSliceVar(&flagDirs, "dir", nil, "directories scanned for genome FASTA files")
	f.Float64VarP(&flagEValue, "evalue", "e", config.DefaultEValue, "e-value cutoff for search hits")
	f.IntVarP(&flagCoverage, "coverage", "c", config.DefaultCoverage, "percent query coverage cutoff")
	f.IntVarP(&flagIdentity, "identity", "i", config.DefaultIdentity, "percent identity cutoff")
	f.StringVarP(&flagProgram, "program", "p", config.DefaultProgram, "search program (tblastn or blastn)")
	f.IntVarP(&flagThreads, "threads", "t", config.DefaultThreads, "worker pool size for searches and result parsing")
	f.IntVar(&flagAllow, "allow-missing", config.DefaultAllowMissing, "missing genes tolerated per genome")
	f.BoolVar(&flagAccept, "accept-missing", false, "continue although genomes would be dropped")
	f.BoolVar(&flagDups, "dups", false, "allow duplicate query identifiers")
	f.BoolVar(&flagProtect, "protect", false, "refuse to delete previously computed results")
	f.StringVar(&flagCheckpoint, "checkpoint", string(checkpoint.None),
		"halt at a pipeline boundary: "+checkpoint.BoundaryNames())
	f.StringVar(&flagOutgroup, "outgroup", "", "outgroup genome name for tree rooting")
	f.StringVar(&flagMafft, "mafft", "", "extra arguments passed to the aligner")
	f.StringVar(&flagIQTree, "iqtree", "", "extra arguments passed to the tree builder")
	f.StringVar(&flagExternal, "external", "", "directory holding the external tool binaries")
	f.StringVar(&flagConfig, "config", "", "config file seeding the settings for this invocation")
	f.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	f.BoolVar(&flagQuiet, "quiet", false, "log warnings and errors only")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	runid := args[0]

	boundary, err := checkpoint.ParseBoundary(flagCheckpoint)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := rundir.Open(runid)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := setupLogging(d); err != nil {
		return err
	}
	slog.Info("starting analysis", "runid", runid, "dir", d.Root)

	cfg, coord, err := resolveConfig(cmd.Flags(), d)
	if err != nil {
		return err
	}

	tools, err := extern.Resolve(cfg.External, cfg.Program)
	if err != nil {
		return err
	}

	gate := checkpoint.NewGate(d.CheckpointDir(), boundary)

	// Stage inputs. Content changes detected here purge exactly the
	// artifacts derived from the changed inputs.
	buildDB := func(ctx context.Context, staged string) error {
		return extern.Run(ctx, filepath.Join(d.FastaDir(), "makeblastdb.log"),
			tools.MakeBlastDB, "-dbtype", "nucl", "-in", staged)
	}
	gen, err := genome.Stage(ctx, d, cfg, coord, buildDB)
	if err != nil {
		return err
	}
	if err := gate.Mark("genomes"); err != nil {
		return err
	}
	queries, err := query.Stage(d, cfg, coord)
	if err != nil {
		return err
	}
	if err := gate.Mark("queries"); err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Configured); err != nil {
		return err
	}

	// Search.
	if err := blast.EnsureDir(d.BlastDir()); err != nil {
		return err
	}
	units := blast.Plan(d, queries, gen.Genomes)
	pending := blast.Pending(units)
	if boundary == checkpoint.BeforeSearch {
		cmds := make([][]string, 0, len(pending))
		for _, u := range pending {
			cmds = append(cmds, blast.Command(tools.Search, cfg.EValue, u))
		}
		if err := blast.WriteCommandFile(d.BlastCmds(), cmds); err != nil {
			return err
		}
		printInfo("", fmt.Sprintf("%d search commands written to %s", len(cmds), d.BlastCmds()))
		printInfo("", "run these commands and resubmit to continue")
		return gate.HaltIf(checkpoint.BeforeSearch, "prior to searches")
	}
	if err := blast.Run(ctx, tools.Search, cfg.EValue, pending, cfg.Threads); err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Searched); err != nil {
		return err
	}
	if err := gate.Mark("search"); err != nil {
		return err
	}
	if err := gate.HaltIf(checkpoint.AfterSearch, "after searches"); err != nil {
		return err
	}

	// Filter.
	hits, err := blast.ReadResults(ctx, d.ResultsCache(), units, cfg.Identity, cfg.Coverage, cfg.Threads)
	if err != nil {
		return err
	}
	res, err := filter.Summarize(d, hits, gen.Genomes, queries, cfg.AllowMissing)
	if err != nil {
		return err
	}
	if err := gate.HaltIf(checkpoint.BeforeFilterDecision, "before the filter decision"); err != nil {
		return err
	}
	if err := res.Enforce(cfg.AcceptMissing); err != nil {
		return err
	}
	if len(res.Dropped) > 0 {
		printWarn("", fmt.Sprintf("continuing without %d genome(s) missing genes", len(res.Dropped)))
	}
	if err := res.Reconcile(coord); err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Filtered); err != nil {
		return err
	}
	if err := gate.Mark("filter"); err != nil {
		return err
	}

	// Align.
	unaligned, err := filter.WriteUnaligned(d, res.Filtered, gen.Labels)
	if err != nil {
		return err
	}
	alnUnits := align.Plan(d, unaligned)
	pendingAln := align.Pending(alnUnits)
	mafftExtra := strings.Fields(cfg.MafftArgs)
	if boundary == checkpoint.BeforeAlignment {
		if err := align.WriteCommandFile(d.MafftCmds(), tools.Mafft, cfg.Threads, mafftExtra, pendingAln); err != nil {
			return err
		}
		printInfo("", fmt.Sprintf("%d alignment commands written to %s", len(pendingAln), d.MafftCmds()))
		printInfo("", "run these commands and resubmit to continue")
		return gate.HaltIf(checkpoint.BeforeAlignment, "prior to alignments")
	}
	if err := align.Run(ctx, tools.Mafft, cfg.Threads, mafftExtra, pendingAln); err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Aligned); err != nil {
		return err
	}
	if err := gate.Mark("align"); err != nil {
		return err
	}
	if err := gate.HaltIf(checkpoint.AfterAlignment, "after alignments"); err != nil {
		return err
	}

	// Tree.
	aligned := make([]string, len(alnUnits))
	for i, u := range alnUnits {
		aligned[i] = u.Out
	}
	if _, err := phylo.WriteNexus(d, aligned); err != nil {
		return err
	}
	if err := gate.Mark("nexus"); err != nil {
		return err
	}
	if err := gate.HaltIf(checkpoint.BeforeTree, "before tree building"); err != nil {
		return err
	}
	tree, err := phylo.Run(ctx, d, tools.IQTree, cfg.Threads, strings.Fields(cfg.IQTreeArgs), cfg.Outgroup)
	if err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Treed); err != nil {
		return err
	}
	if err := gate.Mark("tree"); err != nil {
		return err
	}
	if err := gate.Advance(checkpoint.Done); err != nil {
		return err
	}

	printOK("", fmt.Sprintf("analysis complete, %d genomes over %d genes", len(res.Kept), len(unaligned)))
	printOK("", "tree written to "+tree)
	return nil
}

// resolveConfig merges flags, an optional seed config and the run
// directory's persisted config, validates the result and saves it
// back. A change to search-relevant settings invalidates derived
// artifacts before the run proceeds.
func resolveConfig(f *pflag.FlagSet, d *rundir.Dir) (config.Config, *invalidate.Coordinator, error) {
	flags := flagPartial(f)
	if flagConfig != "" {
		if _, err := os.Stat(flagConfig); err != nil {
			return config.Config{}, nil, status.Errorf(status.Usage,
				"config file %s does not exist", flagConfig)
		}
		seed, err := config.Load(flagConfig)
		if err != nil {
			return config.Config{}, nil, err
		}
		flags = config.Overlay(flags, seed)
	}
	persisted, err := config.Load(d.ConfigFile())
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, changed := config.Merge(flags, persisted)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, nil, err
	}

	coord := &invalidate.Coordinator{Dir: d, Protect: cfg.Protect}
	if len(changed) > 0 {
		slog.Info("search settings changed since the previous run",
			"settings", strings.Join(changed, ", "))
		if err := coord.GenomeScope("search settings changed"); err != nil {
			return config.Config{}, nil, err
		}
	}
	if err := config.Save(d.ConfigFile(), cfg); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, coord, nil
}

// flagPartial lifts only the flags the user actually set, so merge
// precedence can distinguish an explicit value from a default.
func flagPartial(f *pflag.FlagSet) config.Partial {
	var p config.Partial
	if f.Changed("query") {
		p.Query = flagQuery
	}
	if f.Changed("files") {
		p.Files = flagFiles
	}
	if f.Changed("dir") {
		p.Dirs = flagDirs
	}
	if f.Changed("evalue") {
		p.EValue = &flagEValue
	}
	if f.Changed("coverage") {
		p.Coverage = &flagCoverage
	}
	if f.Changed("identity") {
		p.Identity = &flagIdentity
	}
	if f.Changed("program") {
		p.Program = &flagProgram
	}
	if f.Changed("threads") {
		p.Threads = &flagThreads
	}
	if f.Changed("allow-missing") {
		p.AllowMissing = &flagAllow
	}
	if f.Changed("accept-missing") {
		p.AcceptMissing = &flagAccept
	}
	if f.Changed("dups") {
		p.Dups = &flagDups
	}
	if f.Changed("protect") {
		p.Protect = &flagProtect
	}
	if f.Changed("outgroup") {
		p.Outgroup = &flagOutgroup
	}
	if f.Changed("mafft") {
		p.MafftArgs = &flagMafft
	}
	if f.Changed("iqtree") {
		p.IQTreeArgs = &flagIQTree
	}
	if f.Changed("external") {
		p.External = &flagExternal
	}
	return p
}

// setupLogging routes structured logs to stderr and the run log file.
// The log file accumulates across invocations of the same run.
func setupLogging(d *rundir.Dir) error {
	logfh, err := os.OpenFile(d.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open run log %s: %w", d.LogFile(), err)
	}
	level := slog.LevelInfo
	if flagQuiet {
		level = slog.LevelWarn
	}
	if flagDebug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logfh), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
