package img

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Validate is the post-rebuild structural smoke test: it confirms the file
// exists, is large enough to hold the expected directory records, and that
// the first record's name field is properly NUL-padded with sane
// offset/size fields. It exists
// to catch the two historical corruption modes (unterminated names,
// garbled offsets), not to replace a full re-parse.
func Validate(path string, expectedEntries int) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "validate rebuilt archive")
	}

	if expectedEntries == 0 {
		// An empty archive has nothing to check beyond existing.
		return nil
	}

	if fi.Size() < int64(expectedEntries)*DirectoryRecordSize {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("file of %d bytes cannot hold %d directory records", fi.Size(), expectedEntries),
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "validate rebuilt archive")
	}
	defer f.Close()

	var rec [DirectoryRecordSize]byte
	if _, err := io.ReadFull(f, rec[:]); err != nil {
		return errors.Wrap(err, "read first directory record")
	}

	if !bytes.ContainsRune(rec[:NameFieldSize], 0) {
		return &ValidationError{Path: path, Reason: "first record name field has no terminator"}
	}

	decoded := DecodeDirectoryRecord(rec[:])
	if decoded.Name == "" {
		return &ValidationError{Path: path, Reason: "first record has an empty name"}
	}
	if decoded.Offset%SectorSize != 0 {
		return &ValidationError{Path: path, Reason: "first record offset is not sector-aligned"}
	}
	return nil
}
