package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	sha256 "github.com/minio/sha256-simd"
	"github.com/spf13/cobra"

	"github.com/tenpenny/imgtool/internal/img"
)

var cmdList = &cobra.Command{
	Use:   "list [flags]",
	Short: "List the entries of an IMG archive",
	Long: `
The "list" command prints the entry directory of an archive: name, offset,
size and, with --checksums, the SHA-256 of each payload.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(listOptions.Archive, listOptions.Checksums)
	},
}

// ListOptions bundles all options for the list command.
type ListOptions struct {
	Archive   string
	Checksums bool
}

var listOptions ListOptions

func init() {
	cmdRoot.AddCommand(cmdList)

	f := cmdList.Flags()
	f.StringVarP(&listOptions.Archive, "archive", "a", "", "archive path")
	f.BoolVar(&listOptions.Checksums, "checksums", false, "print the SHA-256 of each entry payload")
	_ = cmdList.MarkFlagRequired("archive")
}

func runList(path string, checksums bool) error {
	a, err := img.Open(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "# %s archive %s, %d entries\n", a.Version, a.Path, len(a.Entries))
	for i := range a.Entries {
		e := &a.Entries[i]
		if !checksums {
			fmt.Fprintf(w, "%s\t%d\t%d\n", e.Name, e.Offset, e.Size)
			continue
		}

		data, err := img.ReadEntryData(a, e)
		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t%d\tunreadable: %v\n", e.Name, e.Offset, e.Size, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%x\n", e.Name, e.Offset, e.Size, sha256.Sum256(data))
	}
	return nil
}
