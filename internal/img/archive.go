package img

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Compression identifies how an entry payload is stored. Only extended
// archive variants ever set anything other than CompressionNone.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZLIB
	CompressionLZ4
	CompressionLZO
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZLIB:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	case CompressionLZO:
		return "lzo1x"
	}
	return "invalid"
}

// Entry is one named member of an archive. Offset is relative to the start
// of the data region: the archive file itself for the single-file layout,
// the data sibling for the two-file layout. A staged entry that has not been
// through a rebuild yet has Offset == -1.
type Entry struct {
	Name        string
	Offset      int64
	Size        int64
	Compression Compression
	// Flags carries the low 11 bits of an extended-layout size field.
	// Their meaning is mostly undocumented; they are retained as read.
	Flags uint16
}

// Staged reports whether the entry has no on-disk location yet.
func (e *Entry) Staged() bool { return e.Offset < 0 }

// PaddedSize returns the entry's size rounded up to the sector boundary,
// i.e. the length of its reserved region after a rebuild.
func (e *Entry) PaddedSize() int64 { return RoundToSector(e.Size) }

// Archive is an ordered sequence of entries plus container metadata. It
// holds no open file handles; reads go through an EntryDataSource.
type Archive struct {
	Path     string // data file path
	DirPath  string // directory sibling, two-file layout only
	Version  Version
	Platform string
	Entries  []Entry
}

// FindEntry returns the first entry matching name case-insensitively, or
// nil. Archives are not guaranteed to have unique names; first match wins
// and Open warns about duplicates rather than resolving them.
func (a *Archive) FindEntry(name string) *Entry {
	for i := range a.Entries {
		if strings.EqualFold(a.Entries[i].Name, name) {
			return &a.Entries[i]
		}
	}
	return nil
}

// Stage appends a new entry whose payload lives in memory until the next
// rebuild. If an entry with the same name exists it is left in place; the
// staged copy shadows it through an OverlaySource.
func (a *Archive) Stage(name string, size int64) *Entry {
	a.Entries = append(a.Entries, Entry{
		Name:   SanitizeName(name),
		Offset: -1,
		Size:   size,
	})
	return &a.Entries[len(a.Entries)-1]
}

// Remove deletes the entry at index i, keeping order.
func (a *Archive) Remove(i int) bool {
	if i < 0 || i >= len(a.Entries) {
		return false
	}
	a.Entries = append(a.Entries[:i], a.Entries[i+1:]...)
	return true
}

// warnDuplicateNames logs one warning per name that occurs more than once.
// Whether duplicate names are valid archive content or a latent bug is an
// open question upstream; the engine only surfaces them.
func (a *Archive) warnDuplicateNames() {
	seen := make(map[string]int, len(a.Entries))
	for i := range a.Entries {
		key := strings.ToLower(a.Entries[i].Name)
		if first, ok := seen[key]; ok {
			log.Warnf("archive %s: duplicate entry name %q (entries %d and %d), lookups match the first",
				a.Path, a.Entries[i].Name, first, i)
			continue
		}
		seen[key] = i
	}
}
