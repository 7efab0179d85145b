package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tenpenny/imgtool/internal/img"
)

var cmdRebuild = &cobra.Command{
	Use:   "rebuild [flags]",
	Short: "Rebuild an IMG archive with a fresh sector-aligned layout",
	Long: `
The "rebuild" command reads every entry payload, recomputes the archive
layout and atomically replaces the file. A .backup copy of the original is
created once per invocation before the first rebuild touches it.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuild(cmd.Context(), rebuildOptions)
	},
}

var cmdRebuildBatch = &cobra.Command{
	Use:   "rebuild-batch [flags]",
	Short: "Rebuild every IMG archive under a directory",
	Long: `
The "rebuild-batch" command finds archives under a directory and rebuilds
them concurrently, one worker per archive. A failing archive is recorded
and the batch continues.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 3 if some archives could not be rebuilt.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuildBatch(cmd.Context(), rebuildBatchOptions)
	},
}

// RebuildOptions bundles all options for the rebuild command.
type RebuildOptions struct {
	Archive    string
	Validation string
	BackupDir  string
}

// RebuildBatchOptions bundles all options for the rebuild-batch command.
type RebuildBatchOptions struct {
	Dir        string
	Workers    int
	Validation string
	BackupDir  string
}

var (
	rebuildOptions      RebuildOptions
	rebuildBatchOptions RebuildBatchOptions
)

func init() {
	cmdRoot.AddCommand(cmdRebuild)
	cmdRoot.AddCommand(cmdRebuildBatch)

	f := cmdRebuild.Flags()
	f.StringVarP(&rebuildOptions.Archive, "archive", "a", "", "archive path")
	f.StringVar(&rebuildOptions.Validation, "validation", "quick", "post-rebuild check: none, quick or full")
	f.StringVar(&rebuildOptions.BackupDir, "backup-dir", "", "directory for .backup copies (default: alongside the archive)")
	_ = cmdRebuild.MarkFlagRequired("archive")

	g := cmdRebuildBatch.Flags()
	g.StringVarP(&rebuildBatchOptions.Dir, "dir", "d", "", "directory to scan for archives")
	g.IntVar(&rebuildBatchOptions.Workers, "workers", 2, "rebuild `n` archives concurrently")
	g.StringVar(&rebuildBatchOptions.Validation, "validation", "quick", "post-rebuild check: none, quick or full")
	g.StringVar(&rebuildBatchOptions.BackupDir, "backup-dir", "", "directory for .backup copies")
	_ = cmdRebuildBatch.MarkFlagRequired("dir")
}

func parseValidation(s string) (img.ValidationLevel, error) {
	switch s {
	case "none":
		return img.ValidationNone, nil
	case "quick":
		return img.ValidationQuick, nil
	case "full":
		return img.ValidationFull, nil
	}
	return 0, errors.Errorf("unknown validation level %q", s)
}

func runRebuild(ctx context.Context, opts RebuildOptions) error {
	level, err := parseValidation(opts.Validation)
	if err != nil {
		return err
	}

	a, err := img.Open(opts.Archive)
	if err != nil {
		return err
	}

	r := img.NewRebuilder()
	r.Validation = level
	r.BackupDir = opts.BackupDir

	result, err := r.Rebuild(ctx, a)
	if err != nil {
		return err
	}

	for _, d := range result.Dropped {
		log.Warnf("dropped %q: %v", d.Name, d.Reason)
	}
	log.Infof("rebuilt %s: %d written, %d dropped, backup %s",
		a.Path, result.Written, len(result.Dropped), result.BackupPath)
	return nil
}

func runRebuildBatch(ctx context.Context, opts RebuildBatchOptions) error {
	level, err := parseValidation(opts.Validation)
	if err != nil {
		return err
	}

	paths, err := findArchives(opts.Dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		log.Infof("no archives under %s", opts.Dir)
		return nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	// The engine itself is synchronous; concurrency lives up here, one
	// worker per archive, never two workers on the same file.
	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(workers)

	var mu sync.Mutex
	succeeded, failed := 0, 0
	var failures []error

	for _, path := range paths {
		path := path
		wg.Go(func() error {
			r := img.NewRebuilder()
			r.Validation = level
			r.BackupDir = opts.BackupDir

			err := func() error {
				a, err := img.Open(path)
				if err != nil {
					return err
				}
				_, err = r.Rebuild(wgCtx, a)
				return err
			}()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("rebuild of %s failed: %v", path, err)
				failed++
				failures = append(failures, errors.Wrap(err, path))
				// Recorded, not returned: one bad archive must not stop
				// the rest of the batch.
				return nil
			}
			succeeded++
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}

	log.Infof("batch rebuild finished: %d succeeded, %d failed of %d", succeeded, failed, len(paths))
	if failed > 0 {
		return &exitError{code: 3, msg: "some archives could not be rebuilt"}
	}
	return nil
}

// findArchives collects .img files under dir. Directory siblings of
// two-file archives are reached through their data file, not listed twice.
func findArchives(dir string) ([]string, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".img") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
