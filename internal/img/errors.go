package img

import "fmt"

// FormatError reports an archive whose on-disk structure cannot be trusted:
// bad signature, a directory record that does not decode, or offset/size
// fields inconsistent with the file length.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("img: invalid archive %s: %s", e.Path, e.Reason)
}

func formatErrorf(path, format string, args ...interface{}) *FormatError {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a post-rebuild structural check failure. The
// pre-rebuild backup remains the recovery path, nothing is restored
// automatically.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("img: validation of %s failed: %s", e.Path, e.Reason)
}

// EntryError wraps a failure scoped to a single entry, so batch operations
// can record it and keep going.
type EntryError struct {
	Entry string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %q: %v", e.Entry, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
