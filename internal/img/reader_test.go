package img

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchiveFixture(t *testing.T, path string, payloads map[string][]byte, order []string) {
	t.Helper()
	a, r := newStagedArchive(t, Version2, path, payloads, order)
	_, err := r.Rebuild(context.Background(), a)
	require.NoError(t, err)
}

func TestDetectVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Two-file pair.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair.img"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair.dir"), nil, 0o644))
	v, err := DetectVersion(filepath.Join(dir, "pair.img"))
	require.NoError(t, err)
	assert.Equal(t, Version1, v)
	v, err = DetectVersion(filepath.Join(dir, "pair.dir"))
	require.NoError(t, err)
	assert.Equal(t, Version1, v)

	// Fastman92 signature.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fm.img"), []byte("VERF\x01\x00\x00\x00"), 0o644))
	v, err = DetectVersion(filepath.Join(dir, "fm.img"))
	require.NoError(t, err)
	assert.Equal(t, VersionFastman92, v)

	// Version 3 magic.
	head := binary.LittleEndian.AppendUint32(nil, version3Magic)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v3.img"), head, 0o644))
	v, err = DetectVersion(filepath.Join(dir, "v3.img"))
	require.NoError(t, err)
	assert.Equal(t, Version3, v)

	// Anything else is the single-file layout.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.img"), nil, 0o644))
	v, err = DetectVersion(filepath.Join(dir, "plain.img"))
	require.NoError(t, err)
	assert.Equal(t, Version2, v)
}

func TestOpenRejectsFastman92(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fm.img")
	require.NoError(t, os.WriteFile(path, []byte("VERF\x01\x00\x00\x00"), 0o644))

	_, err := Open(path)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestOpenEmptyArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.img")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, a.Entries)
}

func TestReadEntryDataBoundsChecks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bounds.img")
	writeArchiveFixture(t, path, map[string][]byte{"ok.dff": []byte("fine")}, []string{"ok.dff"})

	a, err := Open(path)
	require.NoError(t, err)

	bad := []Entry{
		{Name: "neg-offset", Offset: -1, Size: 4},
		{Name: "neg-size", Offset: 0, Size: -4},
		{Name: "past-end", Offset: 2048, Size: 1 << 20},
	}
	for _, e := range bad {
		e := e
		_, err := ReadEntryData(a, &e)
		var ee *EntryError
		require.ErrorAs(t, err, &ee, "entry %s must fail", e.Name)
		assert.Equal(t, e.Name, ee.Entry)
	}

	// A bad entry must not poison reads of good ones.
	data, err := ReadEntryData(a, &a.Entries[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("fine"), data)
}

func TestOpenVersion3(t *testing.T) {
	t.Parallel()

	// Header, one 16-byte record (offset sector 1, one sector packed into
	// size_info at bit 11), then the name table.
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, version3Magic)
	buf = binary.LittleEndian.AppendUint32(buf, 3)
	buf = binary.LittleEndian.AppendUint32(buf, 1)  // entry count
	buf = binary.LittleEndian.AppendUint32(buf, 16) // table size
	buf = binary.LittleEndian.AppendUint32(buf, 16) // entry size + padding
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 1)            // offset in sectors
	buf = binary.LittleEndian.AppendUint32(buf, 1<<11|0x005)  // one sector, flag bits set
	buf = append(buf, []byte("grass.dff\x00")...)

	path := filepath.Join(t.TempDir(), "v3.img")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, Version3, a.Version)
	require.Len(t, a.Entries, 1)
	assert.Equal(t, "grass.dff", a.Entries[0].Name)
	assert.Equal(t, int64(2048), a.Entries[0].Offset)
	assert.Equal(t, int64(2048), a.Entries[0].Size)
	assert.Equal(t, uint16(0x005), a.Entries[0].Flags, "size-field flag bits must be retained")
}

func TestDecompressZlib(t *testing.T) {
	t.Parallel()

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write([]byte("collision payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out, err := Decompress(compressed.Bytes(), CompressionZLIB)
	require.NoError(t, err)
	assert.Equal(t, []byte("collision payload"), out)

	// Unsupported algorithms are typed errors, not garbage output.
	_, err = Decompress([]byte{1, 2, 3}, CompressionLZO)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}
