package img

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DetectVersion inspects path and reports the archive layout without
// parsing the directory. The two-file layout is recognized by the .dir
// extension or a .dir sibling; everything else is decided by the leading
// bytes of the file.
func DetectVersion(path string) (Version, error) {
	if hasDirExtension(path) {
		if _, err := os.Stat(DataSiblingPath(path)); err == nil {
			return Version1, nil
		}
		return VersionUnknown, nil
	}

	if _, err := os.Stat(DirSiblingPath(path)); err == nil {
		return Version1, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return VersionUnknown, errors.WithStack(err)
	}
	defer f.Close()

	var head [4]byte
	n, err := io.ReadFull(f, head[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return VersionUnknown, errors.WithStack(err)
	}
	if n < 4 {
		// Too short for any signature; an empty single-file archive is
		// still valid.
		return Version2, nil
	}

	if string(head[:]) == fastman92Signature {
		return VersionFastman92, nil
	}
	if binary.LittleEndian.Uint32(head[:]) == version3Magic {
		return Version3, nil
	}
	return Version2, nil
}

// Open reads the directory of an existing archive. The payloads stay on
// disk; use ReadEntryData or an EntryDataSource to fetch them.
func Open(path string) (*Archive, error) {
	version, err := DetectVersion(path)
	if err != nil {
		return nil, err
	}

	a := &Archive{Path: path, Version: version, Platform: "PC"}

	switch version {
	case Version1:
		err = openVersion1(a, path)
	case Version2:
		err = openVersion2(a)
	case Version3:
		err = openVersion3(a)
	case VersionFastman92:
		err = formatErrorf(path, "fastman92 archives are not supported")
	default:
		err = formatErrorf(path, "unrecognized archive layout")
	}
	if err != nil {
		return nil, err
	}

	a.warnDuplicateNames()
	log.Debugf("opened %s archive %s with %d entries", a.Version, a.Path, len(a.Entries))
	return a, nil
}

// openVersion1 reads the two-file layout. The directory sibling is derived
// from the data path (and vice versa), never read from stored metadata.
func openVersion1(a *Archive, path string) error {
	if hasDirExtension(path) {
		a.DirPath = path
		a.Path = DataSiblingPath(path)
	} else {
		a.DirPath = DirSiblingPath(path)
		a.Path = path
	}

	fi, err := os.Stat(a.DirPath)
	if err != nil {
		return errors.WithStack(err)
	}
	if fi.Size()%DirectoryRecordSize != 0 {
		return formatErrorf(a.DirPath, "directory size %d is not a multiple of %d", fi.Size(), DirectoryRecordSize)
	}

	buf, err := os.ReadFile(a.DirPath)
	if err != nil {
		return errors.WithStack(err)
	}

	count := len(buf) / DirectoryRecordSize
	a.Entries = make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		rec := DecodeDirectoryRecord(buf[i*DirectoryRecordSize:])
		if rec.Name == "" {
			continue
		}
		a.Entries = append(a.Entries, Entry{
			Name:   rec.Name,
			Offset: int64(rec.Offset),
			Size:   int64(rec.Size),
		})
	}
	return nil
}

// openVersion2 reads the single-file layout: a bare directory at the head
// of the file. The first record's offset field bounds the directory region;
// records are parsed up to that boundary or the first all-zero record.
func openVersion2(a *Archive) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.WithStack(err)
	}
	if fi.Size() == 0 {
		return nil
	}
	if fi.Size() < DirectoryRecordSize {
		return formatErrorf(a.Path, "file of %d bytes cannot hold a directory record", fi.Size())
	}

	var first [DirectoryRecordSize]byte
	if _, err := io.ReadFull(f, first[:]); err != nil {
		return errors.WithStack(err)
	}
	if isZeroRecord(first[:]) {
		// Empty archive: a zero-filled directory sector.
		return nil
	}

	rec := DecodeDirectoryRecord(first[:])
	if !bytes.ContainsRune(first[:NameFieldSize], 0) {
		return formatErrorf(a.Path, "first directory record has an unterminated name field")
	}
	dirEnd := int64(rec.Offset)
	if dirEnd%SectorSize != 0 || dirEnd < DirectoryRecordSize || dirEnd > fi.Size() {
		return formatErrorf(a.Path, "first entry offset %d does not bound a directory", dirEnd)
	}

	dir := make([]byte, dirEnd-DirectoryRecordSize)
	if _, err := io.ReadFull(f, dir); err != nil {
		return errors.WithStack(err)
	}

	a.Entries = append(a.Entries, Entry{Name: rec.Name, Offset: int64(rec.Offset), Size: int64(rec.Size)})
	for off := 0; off+DirectoryRecordSize <= len(dir); off += DirectoryRecordSize {
		buf := dir[off : off+DirectoryRecordSize]
		if isZeroRecord(buf) {
			break
		}
		rec := DecodeDirectoryRecord(buf)
		a.Entries = append(a.Entries, Entry{
			Name:   rec.Name,
			Offset: int64(rec.Offset),
			Size:   int64(rec.Size),
		})
	}
	return nil
}

// openVersion3 reads the extended layout: a 20-byte header, fixed 16-byte
// records with sector-packed offset/size, then a NUL-separated name table.
func openVersion3(a *Archive) error {
	buf, err := os.ReadFile(a.Path)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(buf) < version3HeaderSize {
		return formatErrorf(a.Path, "truncated header")
	}

	if binary.LittleEndian.Uint32(buf) != version3Magic {
		return formatErrorf(a.Path, "bad magic")
	}
	if v := binary.LittleEndian.Uint32(buf[4:]); v != 3 {
		return formatErrorf(a.Path, "unexpected header version %d", v)
	}
	count := int(binary.LittleEndian.Uint32(buf[8:]))

	tableEnd := version3HeaderSize + count*version3RecordSize
	if count < 0 || tableEnd > len(buf) {
		return formatErrorf(a.Path, "entry count %d exceeds file size", count)
	}

	a.Entries = make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		rec := buf[version3HeaderSize+i*version3RecordSize:]
		offsetSectors := binary.LittleEndian.Uint32(rec[8:])
		sizeInfo := binary.LittleEndian.Uint32(rec[12:])
		sizeSectors := (sizeInfo >> 11) & 0x1FFFFF
		a.Entries = append(a.Entries, Entry{
			Offset: int64(offsetSectors) * SectorSize,
			Size:   int64(sizeSectors) * SectorSize,
			Flags:  uint16(sizeInfo & 0x7FF),
		})
	}

	// Names trail the record table, one NUL-terminated string per entry.
	names := buf[tableEnd:]
	for i := range a.Entries {
		end := bytes.IndexByte(names, 0)
		if end < 0 {
			return formatErrorf(a.Path, "name table truncated at entry %d", i)
		}
		a.Entries[i].Name = DecodeName(names[:end])
		names = names[end+1:]
	}
	return nil
}

// readEntryData reads the raw payload for an entry, validating its
// offset/size against the data file before seeking. Violations are
// per-entry errors; they never abort a batch read of other entries.
func readEntryData(a *Archive, e *Entry) ([]byte, error) {
	if e.Offset < 0 || e.Size < 0 {
		return nil, &EntryError{Entry: e.Name, Err: formatErrorf(a.Path, "negative offset %d or size %d", e.Offset, e.Size)}
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, &EntryError{Entry: e.Name, Err: errors.WithStack(err)}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &EntryError{Entry: e.Name, Err: errors.WithStack(err)}
	}
	if e.Offset+e.Size > fi.Size() {
		return nil, &EntryError{
			Entry: e.Name,
			Err:   formatErrorf(a.Path, "entry region [%d, %d) exceeds file size %d", e.Offset, e.Offset+e.Size, fi.Size()),
		}
	}

	buf := make([]byte, e.Size)
	if _, err := f.ReadAt(buf, e.Offset); err != nil {
		return nil, &EntryError{Entry: e.Name, Err: errors.Wrap(err, "read entry")}
	}
	return buf, nil
}

// ReadEntryData reads an entry payload and transparently undoes per-entry
// compression when the entry carries a compression tag.
func ReadEntryData(a *Archive, e *Entry) ([]byte, error) {
	raw, err := readEntryData(a, e)
	if err != nil {
		return nil, err
	}
	return Decompress(raw, e.Compression)
}

// Decompress undoes the given per-entry compression. Unknown or unsupported
// algorithms yield a FormatError rather than garbage bytes.
func Decompress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "zlib")
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		return out, errors.Wrap(err, "zlib")
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
		return out, errors.Wrap(err, "lz4")
	default:
		return nil, &FormatError{Reason: "unsupported compression " + c.String()}
	}
}

// BulkRead reads every entry payload via src, checking ctx before each
// entry. A failed entry is recorded and skipped, not fatal: one unreadable
// member must not sink the rest of the batch. Cancellation is fatal and
// returned separately.
func BulkRead(ctx context.Context, a *Archive, src EntryDataSource) (map[int][]byte, []error, error) {
	payloads := make(map[int][]byte, len(a.Entries))
	var dropped []error

	for i := range a.Entries {
		if err := ctx.Err(); err != nil {
			return nil, dropped, err
		}

		data, err := src.ReadEntry(a, &a.Entries[i])
		if err != nil {
			log.Warnf("dropping entry %q: %v", a.Entries[i].Name, err)
			dropped = append(dropped, err)
			continue
		}
		payloads[i] = data
	}
	return payloads, dropped, nil
}
