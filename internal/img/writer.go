package img

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tenpenny/imgtool/internal/fs"
)

// ValidationLevel selects how hard the rebuilder checks its own output.
// There is exactly one rebuild implementation; the level only widens the
// post-write verification.
type ValidationLevel uint8

const (
	// ValidationNone skips post-write checks entirely.
	ValidationNone ValidationLevel = iota
	// ValidationQuick runs the structural smoke test on the first
	// directory record.
	ValidationQuick
	// ValidationFull reopens the archive and compares entry names, sizes
	// and payload SHA-256 digests against what was written.
	ValidationFull
)

// DroppedEntry records an entry left out of a rebuild because its payload
// could not be read.
type DroppedEntry struct {
	Name   string
	Reason error
}

// RebuildResult reports what a rebuild did.
type RebuildResult struct {
	Archive    *Archive
	Written    int
	Dropped    []DroppedEntry
	BackupPath string
}

// Rebuilder recomputes an archive's layout and rewrites it in place. The
// temp-file-then-rename discipline here is the only mutation path for
// on-disk archives; a crash or cancellation mid-rebuild leaves the original
// untouched.
type Rebuilder struct {
	Source     EntryDataSource
	Validation ValidationLevel
	Limits     Limits
	// BackupDir receives the one-per-session .backup copy; empty means
	// alongside the archive.
	BackupDir string

	backedUp map[string]bool
}

// NewRebuilder returns a rebuilder reading payloads straight from the
// archive file.
func NewRebuilder() *Rebuilder {
	return &Rebuilder{Source: FileSource{}, Validation: ValidationQuick}
}

// Rebuild reads all payloads, computes a fresh sector-aligned layout and
// atomically replaces the archive. Entries whose payloads cannot be read
// are dropped and reported, never silently lost mid-write.
func (r *Rebuilder) Rebuild(ctx context.Context, a *Archive) (*RebuildResult, error) {
	src := r.Source
	if src == nil {
		src = FileSource{}
	}

	backupPath, err := r.backupOnce(a)
	if err != nil {
		return nil, err
	}

	// Bulk read up front. Writing from live reads would mean a read error
	// discovered halfway through a destructive write.
	payloads, droppedErrs, err := BulkRead(ctx, a, src)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{BackupPath: backupPath}
	items := make([]PlanItem, 0, len(a.Entries))
	kept := make([]int, 0, len(a.Entries))
	for i := range a.Entries {
		data, ok := payloads[i]
		if !ok {
			result.Dropped = append(result.Dropped, DroppedEntry{Name: a.Entries[i].Name, Reason: dropReason(droppedErrs, a.Entries[i].Name)})
			continue
		}
		items = append(items, PlanItem{Name: SanitizeName(a.Entries[i].Name), Size: int64(len(data))})
		kept = append(kept, i)
	}

	// The extended layout is read-only; rebuilding it emits the
	// single-file layout.
	outVersion := a.Version
	if outVersion != Version1 {
		outVersion = Version2
	}

	plan, err := PlanLayout(outVersion, items, r.Limits)
	if err != nil {
		return nil, err
	}

	var digests [][sha256.Size]byte
	if r.Validation == ValidationFull {
		digests = make([][sha256.Size]byte, len(kept))
		for n, i := range kept {
			digests[n] = sha256.Sum256(payloads[i])
		}
	}

	if outVersion == Version1 {
		err = r.writeTwoFile(ctx, a, plan, payloads, kept)
	} else {
		err = r.writeSingleFile(ctx, a, plan, payloads, kept)
	}
	if err != nil {
		return nil, err
	}

	rebuilt := &Archive{
		Path:     a.Path,
		DirPath:  a.DirPath,
		Version:  outVersion,
		Platform: a.Platform,
		Entries:  make([]Entry, len(plan.Entries)),
	}
	for i, pe := range plan.Entries {
		rebuilt.Entries[i] = Entry{Name: pe.Name, Offset: pe.Offset, Size: pe.Size}
	}
	result.Archive = rebuilt
	result.Written = len(plan.Entries)

	if err := r.verify(rebuilt, digests); err != nil {
		return nil, err
	}

	log.Infof("rebuilt %s: %d entries written, %d dropped", a.Path, result.Written, len(result.Dropped))
	return result, nil
}

func dropReason(errs []error, name string) error {
	for _, err := range errs {
		var ee *EntryError
		if errors.As(err, &ee) && ee.Entry == name {
			return err
		}
	}
	return errors.New("payload unreadable")
}

// backupOnce copies the pre-rebuild file(s) with a .backup suffix, once per
// rebuilder session per path. The backup is the recovery path after a
// failed validation; the engine never restores it automatically.
func (r *Rebuilder) backupOnce(a *Archive) (string, error) {
	if r.backedUp == nil {
		r.backedUp = make(map[string]bool)
	}
	if r.backedUp[a.Path] {
		return "", nil
	}

	paths := []string{a.Path}
	if a.Version == Version1 {
		paths = append(paths, a.DirPath)
	}

	var backupPath string
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		dst := backupDest(p, r.BackupDir)
		// An earlier session left its backup read-only; replace it rather
		// than truncating in place.
		if err := fs.RemoveIfExists(dst); err != nil {
			return "", errors.Wrap(err, "replace old backup")
		}
		if err := fs.CopyFile(p, dst, 0o644); err != nil {
			return "", errors.Wrap(err, "create backup")
		}
		// Read-only so the recovery copy does not get edited by accident.
		_ = fs.Chmod(dst, 0o444)
		if backupPath == "" {
			backupPath = dst
		}
	}

	r.backedUp[a.Path] = true
	return backupPath, nil
}

func backupDest(path, dir string) string {
	if dir == "" {
		return path + ".backup"
	}
	_ = fs.MkdirAll(dir, 0o755)
	return filepath.Join(dir, filepath.Base(path)+".backup")
}

// writeSingleFile writes directory, padding and payloads to a temp file and
// renames it over the archive only after everything landed.
func (r *Rebuilder) writeSingleFile(ctx context.Context, a *Archive, plan *Plan, payloads map[int][]byte, kept []int) error {
	tmp, err := fs.TempFile(a.Path)
	if err != nil {
		return errors.Wrap(err, "create temp archive")
	}
	tmpPath := tmp.Name()

	err = writeArchiveBody(ctx, tmp, plan, payloads, kept, true)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.RemoveIfExists(tmpPath)
		return err
	}

	if err := fs.Rename(tmpPath, a.Path); err != nil {
		_ = fs.RemoveIfExists(tmpPath)
		return errors.Wrap(err, "commit rebuilt archive")
	}
	return fsyncParent(a.Path)
}

// writeTwoFile writes the directory sibling and the data file to separate
// temp files. Both renames happen only after both writes succeed; on any
// failure the temps are removed and the originals stay untouched.
func (r *Rebuilder) writeTwoFile(ctx context.Context, a *Archive, plan *Plan, payloads map[int][]byte, kept []int) error {
	dirTmp, err := fs.TempFile(a.DirPath)
	if err != nil {
		return errors.Wrap(err, "create temp directory file")
	}
	dirTmpPath := dirTmp.Name()

	dataTmp, err := fs.TempFile(a.Path)
	if err != nil {
		_ = dirTmp.Close()
		_ = fs.RemoveIfExists(dirTmpPath)
		return errors.Wrap(err, "create temp data file")
	}
	dataTmpPath := dataTmp.Name()

	cleanup := func() {
		_ = fs.RemoveIfExists(dirTmpPath)
		_ = fs.RemoveIfExists(dataTmpPath)
	}

	err = writeDirectory(dirTmp, plan)
	if cerr := dirTmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = dataTmp.Close()
		cleanup()
		return err
	}

	err = writeArchiveBody(ctx, dataTmp, plan, payloads, kept, false)
	if cerr := dataTmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return err
	}

	if err := fs.Rename(dirTmpPath, a.DirPath); err != nil {
		cleanup()
		return errors.Wrap(err, "commit directory file")
	}
	if err := fs.Rename(dataTmpPath, a.Path); err != nil {
		_ = fs.RemoveIfExists(dataTmpPath)
		return errors.Wrap(err, "commit data file")
	}
	return fsyncParent(a.Path)
}

// writeDirectory writes the bare record block with no padding, the on-disk
// form of a .dir sibling.
func writeDirectory(f *os.File, plan *Plan) error {
	w := bufio.NewWriter(f)
	buf := make([]byte, 0, DirectoryRecordSize)
	for _, pe := range plan.Entries {
		buf = EncodeDirectoryRecord(buf[:0], DirectoryRecord{
			Name:   pe.Name,
			Offset: uint32(pe.Offset),
			Size:   uint32(pe.Size),
		})
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "write directory record")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush directory")
	}
	return errors.Wrap(f.Sync(), "sync directory")
}

// writeArchiveBody writes the payload regions, each zero-padded to the next
// sector boundary. withDirectory additionally prefixes the directory block
// padded to the first data offset.
func writeArchiveBody(ctx context.Context, f *os.File, plan *Plan, payloads map[int][]byte, kept []int, withDirectory bool) error {
	w := bufio.NewWriterSize(f, 1<<20)

	if withDirectory {
		buf := make([]byte, 0, DirectoryRecordSize)
		for _, pe := range plan.Entries {
			buf = EncodeDirectoryRecord(buf[:0], DirectoryRecord{
				Name:   pe.Name,
				Offset: uint32(pe.Offset),
				Size:   uint32(pe.Size),
			})
			if _, err := w.Write(buf); err != nil {
				return errors.Wrap(err, "write directory record")
			}
		}
		if err := writePadding(w, plan.FirstOffset-plan.HeaderSize); err != nil {
			return err
		}
	}

	for n, i := range kept {
		// Cancellation between entries only. Interrupting mid-write would
		// leave a torn temp file that still gets committed.
		if err := ctx.Err(); err != nil {
			return err
		}

		data := payloads[i]
		if _, err := w.Write(data); err != nil {
			return errors.Wrapf(err, "write entry %q", plan.Entries[n].Name)
		}
		pad := RoundToSector(int64(len(data))) - int64(len(data))
		if err := writePadding(w, pad); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush archive")
	}
	return errors.Wrap(f.Sync(), "sync archive")
}

var zeroSector [SectorSize]byte

func writePadding(w *bufio.Writer, n int64) error {
	for n > 0 {
		chunk := n
		if chunk > SectorSize {
			chunk = SectorSize
		}
		if _, err := w.Write(zeroSector[:chunk]); err != nil {
			return errors.Wrap(err, "write padding")
		}
		n -= chunk
	}
	return nil
}

func fsyncParent(path string) error {
	return fs.FsyncDir(filepath.Dir(path))
}

// verify runs the configured post-write checks against the rebuilt archive.
func (r *Rebuilder) verify(a *Archive, digests [][sha256.Size]byte) error {
	switch r.Validation {
	case ValidationNone:
		return nil
	case ValidationQuick:
		return Validate(validatePath(a), len(a.Entries))
	case ValidationFull:
		if err := Validate(validatePath(a), len(a.Entries)); err != nil {
			return err
		}
		return verifyPayloads(a, digests)
	}
	return nil
}

func validatePath(a *Archive) string {
	if a.Version == Version1 {
		return a.DirPath
	}
	return a.Path
}

// verifyPayloads reopens the rebuilt archive and compares every payload
// digest, in order, against what the rebuilder intended to write.
func verifyPayloads(a *Archive, digests [][sha256.Size]byte) error {
	reopened, err := Open(validatePath(a))
	if err != nil {
		return &ValidationError{Path: a.Path, Reason: "reopen failed: " + err.Error()}
	}
	if len(reopened.Entries) != len(digests) {
		return &ValidationError{Path: a.Path, Reason: "entry count mismatch after rebuild"}
	}

	for i := range reopened.Entries {
		e := &reopened.Entries[i]
		data, err := readEntryData(reopened, e)
		if err != nil {
			return &ValidationError{Path: a.Path, Reason: "reread of " + e.Name + " failed: " + err.Error()}
		}
		if sha256.Sum256(data) != digests[i] {
			return &ValidationError{Path: a.Path, Reason: "payload digest mismatch for " + e.Name}
		}
	}
	return nil
}
