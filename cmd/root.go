package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/seqforge/gomlsa/internal/status"
)

var rootCmd = &cobra.Command{
	Use:           "gomlsa",
	Short:         "gomlsa — incremental multi-locus sequence analysis",
	SilenceUsage:  true, // don't print usage on operational errors
	SilenceErrors: true, // errors are reported with exit-status context
	Long: `gomlsa searches a set of reference genes against a set of genomes,
filters the hits into a per-genome presence decision, aligns the
surviving genes and builds a partitioned phylogenetic tree. Runs are
incremental: unchanged inputs are never recomputed, and changed
inputs invalidate exactly the artifacts derived from them.`,
}

// Execute is called by main.go. It maps the error taxonomy onto the
// documented exit statuses; a checkpoint halt is an expected stop,
// not a failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	code := status.CodeOf(err)
	switch {
	case status.IsHalt(err):
		printInfo("", "run was stopped at an intermediate stage")
		printInfo("", "resubmit the same command to continue")
	case code == status.Interrupted:
		printErr("", "run was interrupted")
		printInfo("", "partial files may exist; rerunning the analysis is suggested")
	default:
		printErr("", err.Error())
	}
	os.Exit(code)
}
