package img

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tenpenny/imgtool/internal/fs"
)

// ExportOptions controls batch extraction.
type ExportOptions struct {
	// Raw skips per-entry decompression and writes the stored bytes.
	Raw bool
	// Progress, when set, is called after each entry.
	Progress func(done, total int, name string)
}

// ExportResult accumulates per-entry outcomes of a batch export.
type ExportResult struct {
	Written int
	Failed  []error
}

// ExportFileName flattens an entry name into a bare file name for use
// under an export directory. Entry names come from untrusted archives and
// may carry path separators or dot-dot segments; a payload must never land
// outside the directory the caller chose.
func ExportFileName(name string) string {
	clean := SanitizeName(name)
	if i := strings.LastIndexAny(clean, `/\`); i >= 0 {
		clean = clean[i+1:]
	}
	if clean == "" || clean == "." || clean == ".." {
		clean = FallbackName
	}
	return clean
}

// Export writes one entry's payload to dstPath.
func Export(a *Archive, e *Entry, dstPath string, raw bool) error {
	var data []byte
	var err error
	if raw {
		data, err = readEntryData(a, e)
	} else {
		data, err = ReadEntryData(a, e)
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(fs.WriteFile(dstPath, data, 0o644), "export %q", e.Name)
}

// ExportAll extracts every entry into dir, sanitizing names for use as
// file names. One failing entry is recorded and the batch continues.
func ExportAll(ctx context.Context, a *Archive, dir string, opts ExportOptions) (*ExportResult, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create export directory")
	}

	result := &ExportResult{}
	for i := range a.Entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		e := &a.Entries[i]
		dst := filepath.Join(dir, ExportFileName(e.Name))
		if err := Export(a, e, dst, opts.Raw); err != nil {
			log.Warnf("export of %q failed: %v", e.Name, err)
			result.Failed = append(result.Failed, err)
		} else {
			result.Written++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(a.Entries), e.Name)
		}
	}
	return result, nil
}
