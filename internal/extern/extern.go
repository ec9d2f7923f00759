// Package extern locates and invokes the external bioinformatics
// executables the pipeline depends on. The pipeline never retries or
// times out an invocation; process management is left to the caller's
// environment.
package extern

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/seqforge/gomlsa/internal/status"
)

// Tools holds resolved absolute paths to the external programs.
type Tools struct {
	MakeBlastDB string
	Search      string // tblastn or blastn, per configuration
	Mafft       string
	IQTree      string
}

// Resolve finds each required executable, preferring the external
// directory when given, then PATH. iqtree resolves from either the
// iqtree2 or iqtree name.
func Resolve(externalDir, program string) (Tools, error) {
	var t Tools
	var err error
	if t.MakeBlastDB, err = find(externalDir, "makeblastdb"); err != nil {
		return t, err
	}
	if t.Search, err = find(externalDir, program); err != nil {
		return t, err
	}
	if t.Mafft, err = find(externalDir, "mafft"); err != nil {
		return t, err
	}
	if t.IQTree, err = find(externalDir, "iqtree2"); err != nil {
		if t.IQTree, err = find(externalDir, "iqtree"); err != nil {
			return t, err
		}
	}
	return t, nil
}

func find(externalDir, name string) (string, error) {
	if externalDir != "" {
		candidates := []string{
			filepath.Join(externalDir, name),
			filepath.Join(externalDir, name, "bin", name),
		}
		for _, c := range candidates {
			if info, err := os.Stat(c); err == nil && !info.IsDir() {
				return c, nil
			}
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", status.Errorf(status.Usage,
			"%s is not installed or not on PATH; install it or point --external at its location", name)
	}
	return path, nil
}

// Run executes a command with stdout and stderr appended to the given
// log file. Cancellation of ctx terminates the child process.
func Run(ctx context.Context, logPath string, argv ...string) error {
	logfh, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open log %s: %w", logPath, err)
	}
	defer logfh.Close()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdout = logfh
	c.Stderr = logfh
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w (see %s)", filepath.Base(argv[0]), err, logPath)
	}
	return nil
}

// RunToFile executes a command with stdout redirected to outPath and
// stderr to logPath, the shape mafft expects.
func RunToFile(ctx context.Context, outPath, logPath string, argv ...string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", outPath, err)
	}
	defer out.Close()
	logfh, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", logPath, err)
	}
	defer logfh.Close()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdout = out
	c.Stderr = logfh
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w (see %s)", filepath.Base(argv[0]), err, logPath)
	}
	return nil
}
