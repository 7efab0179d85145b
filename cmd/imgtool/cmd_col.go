package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tenpenny/imgtool/internal/col"
)

var cmdCol = &cobra.Command{
	Use:               "col",
	Short:             "Inspect and optimize COL collision files",
	DisableAutoGenTag: true,
}

var cmdColInfo = &cobra.Command{
	Use:   "info FILE",
	Short: "Print the models and element counts of a COL file",
	Long: `
The "col info" command scans a COL file, which may hold any number of
concatenated models, and prints per-model and total element counts.
Models that fail to parse are reported; the scan continues past them.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runColInfo(args[0])
	},
}

var cmdColOptimize = &cobra.Command{
	Use:   "optimize FILE",
	Short: "Run geometry-optimization passes over a COL file",
	Long: `
The "col optimize" command decodes every model, removes duplicate and
unused vertices, optionally merges vertices within a distance threshold,
drops degenerate faces, and re-encodes the file.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runColOptimize(args[0], colOptimizeOptions)
	},
}

// ColOptimizeOptions bundles all options for the col optimize command.
type ColOptimizeOptions struct {
	Out            string
	MergeThreshold float64
	TargetVersion  int
}

var colOptimizeOptions ColOptimizeOptions

func init() {
	cmdRoot.AddCommand(cmdCol)
	cmdCol.AddCommand(cmdColInfo)
	cmdCol.AddCommand(cmdColOptimize)

	f := cmdColOptimize.Flags()
	f.StringVarP(&colOptimizeOptions.Out, "out", "o", "", "output path (default: overwrite the input)")
	f.Float64Var(&colOptimizeOptions.MergeThreshold, "merge-threshold", 0, "merge vertices within this distance (0 disables)")
	f.IntVar(&colOptimizeOptions.TargetVersion, "target-version", 0, "convert models to this COL version (0 keeps each model's version)")
}

func runColInfo(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}

	result := col.Scan(data, col.ScanOptions{})
	var total col.Stats
	for _, m := range result.Models {
		s := m.Stats()
		total.Add(s)
		status := ""
		if m.Invalid {
			status = " (invalid face indices)"
		}
		fmt.Printf("model %q v%d id=%d: %d spheres, %d boxes, %d vertices, %d faces%s\n",
			m.Name, m.Version, m.ModelID, s.Spheres, s.Boxes, s.Vertices, s.Faces, status)
	}

	fmt.Printf("total: %d models, %d spheres, %d boxes, %d vertices, %d faces\n",
		len(result.Models), total.Spheres, total.Boxes, total.Vertices, total.Faces)
	if len(result.Errors) > 0 {
		fmt.Printf("skipped: %d unparsable models, %d bytes\n", len(result.Errors), result.SkippedBytes)
	}
	return nil
}

func runColOptimize(path string, opts ColOptimizeOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}

	result := col.Scan(data, col.ScanOptions{})
	if len(result.Models) == 0 {
		return errors.Errorf("no parsable models in %s", path)
	}

	for _, m := range result.Models {
		removed := col.RemoveDuplicateVertices(m)
		removed += col.RemoveUnusedVertices(m)
		merged := col.MergeNearbyVertices(m, opts.MergeThreshold)
		faces := col.RemoveDegenerateFaces(m)

		if opts.TargetVersion != 0 {
			col.ConvertVersion(m, col.Version(opts.TargetVersion))
		}
		m.RecalculateBounds()

		log.Infof("model %q: %d vertices removed, %d merged, %d faces dropped",
			m.Name, removed, merged, faces)
	}

	out, err := col.EncodeArchive(result.Models)
	if err != nil {
		return err
	}

	dst := opts.Out
	if dst == "" {
		dst = path
	}
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return errors.WithStack(err)
	}

	log.Infof("wrote %d models to %s (%d bytes)", len(result.Models), dst, len(out))
	return nil
}
