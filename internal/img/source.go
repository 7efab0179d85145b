package img

import (
	"strings"

	"github.com/pkg/errors"
)

// EntryDataSource yields the payload bytes of an archive entry. There is
// exactly one contract: return the payload or an error, never probe the
// entry for alternative access paths.
type EntryDataSource interface {
	ReadEntry(a *Archive, e *Entry) ([]byte, error)
}

// FileSource reads payloads from the archive's data file by offset/size.
// The zero value is ready to use.
type FileSource struct{}

func (FileSource) ReadEntry(a *Archive, e *Entry) ([]byte, error) {
	if e.Staged() {
		return nil, errors.Errorf("entry %q is staged and has no file location", e.Name)
	}
	return readEntryData(a, e)
}

// StagedSource serves payloads for entries staged in memory, keyed by
// lower-cased name.
type StagedSource map[string][]byte

// Put stages data under name.
func (s StagedSource) Put(name string, data []byte) {
	s[strings.ToLower(name)] = data
}

func (s StagedSource) ReadEntry(a *Archive, e *Entry) ([]byte, error) {
	data, ok := s[strings.ToLower(e.Name)]
	if !ok {
		return nil, errors.Errorf("no staged data for entry %q", e.Name)
	}
	return data, nil
}

// OverlaySource is the single explicit fallback order for entry data:
// staged bytes first, then the archive file. Nothing else is ever tried.
type OverlaySource struct {
	Staged StagedSource
	File   FileSource
}

func (s OverlaySource) ReadEntry(a *Archive, e *Entry) ([]byte, error) {
	if s.Staged != nil {
		if data, ok := s.Staged[strings.ToLower(e.Name)]; ok {
			return data, nil
		}
	}
	if e.Staged() {
		return nil, errors.Errorf("entry %q is staged but has no staged data", e.Name)
	}
	return s.File.ReadEntry(a, e)
}
