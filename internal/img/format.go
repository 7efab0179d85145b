package img

import (
	"encoding/binary"
	"path/filepath"
	"strings"
)

// SectorSize is the alignment unit for entry data regions, a constraint
// inherited from optical-media-era tooling. Entry offsets are always a
// multiple of it.
const SectorSize = 2048

// DirectoryRecordSize is the width of one on-disk directory record:
// 24-byte zero-padded name, uint32 LE offset, uint32 LE size.
const DirectoryRecordSize = NameFieldSize + 8

// Version identifies the archive container layout.
type Version uint8

const (
	VersionUnknown Version = iota
	// Version1 is the legacy two-file layout: directory records in a .dir
	// sibling, payloads in the data file.
	Version1
	// Version2 is the single-file layout: directory at the head of the
	// file, padded to the first sector boundary, then payloads.
	Version2
	// Version3 is the extended layout with a binary header and a trailing
	// name table. Read-only.
	Version3
	// VersionFastman92 is the modded extended-limits layout. Detected but
	// not supported.
	VersionFastman92
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	case Version3:
		return "v3"
	case VersionFastman92:
		return "fastman92"
	}
	return "unknown"
}

// Version3 header magic and the fastman92 signature, from the wild.
const (
	version3Magic      = 0xA94E2A52
	fastman92Signature = "VERF"
	version3HeaderSize = 20
	version3RecordSize = 16
)

// DirectoryRecord is one decoded directory entry.
type DirectoryRecord struct {
	Name   string
	Offset uint32
	Size   uint32
}

// EncodeDirectoryRecord appends the on-disk form of rec to dst.
func EncodeDirectoryRecord(dst []byte, rec DirectoryRecord) []byte {
	field := EncodeName(rec.Name)
	dst = append(dst, field[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, rec.Offset)
	dst = binary.LittleEndian.AppendUint32(dst, rec.Size)
	return dst
}

// DecodeDirectoryRecord decodes one 32-byte directory record.
func DecodeDirectoryRecord(buf []byte) DirectoryRecord {
	return DirectoryRecord{
		Name:   DecodeName(buf[:NameFieldSize]),
		Offset: binary.LittleEndian.Uint32(buf[NameFieldSize:]),
		Size:   binary.LittleEndian.Uint32(buf[NameFieldSize+4:]),
	}
}

// isZeroRecord reports whether buf is directory padding (all zero bytes).
func isZeroRecord(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// RoundToSector rounds n up to the next sector boundary.
func RoundToSector(n int64) int64 {
	return (n + SectorSize - 1) / SectorSize * SectorSize
}

// SectorCount returns the number of sectors needed to hold n bytes.
func SectorCount(n int64) int64 {
	return (n + SectorSize - 1) / SectorSize
}

// DirSiblingPath resolves the directory file belonging to a two-file
// archive. The sibling is derived from the data path, never trusted from
// stored metadata.
func DirSiblingPath(dataPath string) string {
	return trimExtension(dataPath) + ".dir"
}

// DataSiblingPath resolves the data file belonging to a .dir directory file.
func DataSiblingPath(dirPath string) string {
	return trimExtension(dirPath) + ".img"
}

func trimExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// hasDirExtension reports whether path names a directory file of a two-file
// archive.
func hasDirExtension(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".dir")
}
