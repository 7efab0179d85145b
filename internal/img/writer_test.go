package img

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStagedArchive stages the given payloads into a fresh archive that has
// never been written to disk.
func newStagedArchive(t *testing.T, version Version, path string, payloads map[string][]byte, order []string) (*Archive, *Rebuilder) {
	t.Helper()

	a := &Archive{Path: path, Version: version, Platform: "PC"}
	if version == Version1 {
		a.DirPath = DirSiblingPath(path)
	}

	staged := StagedSource{}
	for _, name := range order {
		a.Stage(name, int64(len(payloads[name])))
		staged.Put(name, payloads[name])
	}

	r := NewRebuilder()
	r.Source = OverlaySource{Staged: staged}
	return a, r
}

func TestRebuildRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"a.dff": bytes.Repeat([]byte{0xAA}, 100),
		"b.txd": bytes.Repeat([]byte{0xBB}, 5000),
		"c.col": bytes.Repeat([]byte{0xCC}, 10),
	}
	order := []string{"a.dff", "b.txd", "c.col"}

	path := filepath.Join(t.TempDir(), "test.img")
	a, r := newStagedArchive(t, Version2, path, payloads, order)

	result, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, 3, result.Written)
	assert.Empty(t, result.Dropped)

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reopened.Entries, 3)

	for i, name := range order {
		e := &reopened.Entries[i]
		assert.Equal(t, name, e.Name)
		assert.Equal(t, int64(len(payloads[name])), e.Size)
		assert.Zero(t, e.Offset%SectorSize, "entry %q not sector-aligned", name)

		data, err := ReadEntryData(reopened, e)
		require.NoError(t, err)
		assert.Equal(t, payloads[name], data, "payload of %q changed across rebuild", name)
	}

	// Layout from the known sizes: 96-byte directory rounds to one
	// sector, then 1 + 3 + 1 payload sectors.
	assert.Equal(t, int64(2048), reopened.Entries[0].Offset)
	assert.Equal(t, int64(4096), reopened.Entries[1].Offset)
	assert.Equal(t, int64(10240), reopened.Entries[2].Offset)

	for i := 0; i+1 < len(reopened.Entries); i++ {
		assert.LessOrEqual(t, reopened.Entries[i].Offset+reopened.Entries[i].Size, reopened.Entries[i+1].Offset)
	}
}

func TestRebuildTwoFileLayout(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"first.dff":  bytes.Repeat([]byte{1}, 3000),
		"second.col": bytes.Repeat([]byte{2}, 100),
	}
	order := []string{"first.dff", "second.col"}

	path := filepath.Join(t.TempDir(), "legacy.img")
	a, r := newStagedArchive(t, Version1, path, payloads, order)

	_, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)

	// Both siblings must exist; the data file starts with payload bytes,
	// not a directory.
	dirInfo, err := os.Stat(DirSiblingPath(path))
	require.NoError(t, err)
	assert.Equal(t, int64(2*DirectoryRecordSize), dirInfo.Size())

	// Opening through either sibling resolves the pair.
	for _, open := range []string{path, DirSiblingPath(path)} {
		reopened, err := Open(open)
		require.NoError(t, err)
		require.Equal(t, Version1, reopened.Version)
		require.Len(t, reopened.Entries, 2)
		assert.Zero(t, reopened.Entries[0].Offset)
		assert.Equal(t, int64(4096), reopened.Entries[1].Offset)

		data, err := ReadEntryData(reopened, &reopened.Entries[1])
		require.NoError(t, err)
		assert.Equal(t, payloads["second.col"], data)
	}
}

func TestRebuildDropsUnreadableEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "holes.img")
	a := &Archive{Path: path, Version: Version2}
	a.Stage("good.dff", 4)
	a.Stage("missing.txd", 9)

	staged := StagedSource{}
	staged.Put("good.dff", []byte("data"))
	// missing.txd has no staged bytes and no file location: unreadable.

	r := NewRebuilder()
	r.Source = OverlaySource{Staged: staged}

	result, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "missing.txd", result.Dropped[0].Name)

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reopened.Entries, 1)
	assert.Equal(t, "good.dff", reopened.Entries[0].Name)
}

func TestRebuildBackupOncePerSession(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{"x.dff": []byte("original")}
	path := filepath.Join(t.TempDir(), "bk.img")
	a, r := newStagedArchive(t, Version2, path, payloads, []string{"x.dff"})

	// First rebuild: nothing on disk yet, so nothing to back up.
	result, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, result.BackupPath)

	// Second rebuild within the same session: the file exists now but the
	// session already handled this path.
	reopened, err := Open(path)
	require.NoError(t, err)
	result, err = r.Rebuild(context.Background(), reopened)
	require.NoError(t, err)
	assert.Empty(t, result.BackupPath)
	_, err = os.Stat(path + ".backup")
	assert.True(t, os.IsNotExist(err))

	// A fresh session backs up before touching the file.
	r2 := NewRebuilder()
	reopened, err = Open(path)
	require.NoError(t, err)
	result, err = r2.Rebuild(context.Background(), reopened)
	require.NoError(t, err)
	assert.Equal(t, path+".backup", result.BackupPath)

	backup, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	assert.NotEmpty(t, backup)
}

func TestRebuildReplacesReadOnlyBackup(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{"x.dff": []byte("payload")}
	path := filepath.Join(t.TempDir(), "stale.img")
	writeArchiveFixture(t, path, payloads, []string{"x.dff"})

	// A previous session left its backup behind, read-only.
	backup := path + ".backup"
	require.NoError(t, os.WriteFile(backup, []byte("old"), 0o444))

	a, err := Open(path)
	require.NoError(t, err)

	result, err := NewRebuilder().Rebuild(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, backup, result.BackupPath)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("old"), data, "stale backup was not replaced")
}

func TestRebuildExtendedArchiveEmitsSingleFileLayout(t *testing.T) {
	t.Parallel()

	// An extended-layout archive: header, one record at sector 1 spanning
	// one sector, name table, then the payload sector.
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, 0xA94E2A52)
	buf = binary.LittleEndian.AppendUint32(buf, 3)
	buf = binary.LittleEndian.AppendUint32(buf, 1)  // entry count
	buf = binary.LittleEndian.AppendUint32(buf, 16) // table size
	buf = binary.LittleEndian.AppendUint32(buf, 16) // entry size + padding
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 1)     // offset in sectors
	buf = binary.LittleEndian.AppendUint32(buf, 1<<11) // one sector
	buf = append(buf, []byte("grass.dff\x00")...)
	buf = append(buf, make([]byte, SectorSize-len(buf))...)
	payload := bytes.Repeat([]byte{0xAB}, SectorSize)
	buf = append(buf, payload...)

	path := filepath.Join(t.TempDir(), "ext.img")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, Version3, a.Version)

	result, err := NewRebuilder().Rebuild(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, Version2, result.Archive.Version)

	// The file on disk is now the single-file layout.
	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, Version2, reopened.Version)
	require.Len(t, reopened.Entries, 1)
	assert.Equal(t, "grass.dff", reopened.Entries[0].Name)

	data, err := ReadEntryData(reopened, &reopened.Entries[0])
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRebuildCancelledBeforeWrite(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{"x.dff": []byte("payload")}
	path := filepath.Join(t.TempDir(), "cancel.img")
	a, r := newStagedArchive(t, Version2, path, payloads, []string{"x.dff"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rebuild(ctx, a)
	require.ErrorIs(t, err, context.Canceled)

	// No partial output, no leftover temp files.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRebuildFullValidation(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"a.dff": bytes.Repeat([]byte{7}, 1234),
		"b.txd": bytes.Repeat([]byte{9}, 60000),
	}
	path := filepath.Join(t.TempDir(), "full.img")
	a, r := newStagedArchive(t, Version2, path, payloads, []string{"a.dff", "b.txd"})
	r.Validation = ValidationFull

	result, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
}

func TestRebuildSanitizesNames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dirty.img")
	a := &Archive{Path: path, Version: Version2}
	a.Entries = append(a.Entries, Entry{Name: "veh\x00\xfficle", Offset: -1, Size: 3})

	staged := StagedSource{}
	staged.Put("veh\x00\xfficle", []byte("abc"))

	r := NewRebuilder()
	r.Source = OverlaySource{Staged: staged}

	_, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reopened.Entries, 1)
	assert.Equal(t, "vehicle", reopened.Entries[0].Name)
}
