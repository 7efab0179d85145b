package img

import (
	"bytes"

	log "github.com/sirupsen/logrus"
)

// NameFieldSize is the width of the name field in a directory record. Names
// longer than this are truncated on encode.
const NameFieldSize = 24

// FallbackName replaces names that are empty after sanitization. Legacy
// archives contain entries whose stored names are pure garbage; a rebuild
// must never fail because of one.
const FallbackName = "unnamed_file"

// SanitizeName strips control characters and non-ASCII bytes from a raw
// directory name and truncates it to the name field width. The cleanup is
// lossy and deliberate, but every change is logged so callers can warn the
// user about renamed entries.
func SanitizeName(raw string) string {
	var b bytes.Buffer
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}

	clean := b.String()
	if clean == "" {
		clean = FallbackName
	}
	// Keep one byte for the NUL terminator. A name field without a single
	// zero byte is one of the historical corruption modes the validator
	// checks for, so the writer must never produce one.
	if len(clean) > NameFieldSize-1 {
		clean = clean[:NameFieldSize-1]
	}

	if clean != raw {
		log.Warnf("entry name %q sanitized to %q", raw, clean)
	}
	return clean
}

// EncodeName packs a sanitized name into a zero-padded name field. The last
// byte is always zero.
func EncodeName(name string) [NameFieldSize]byte {
	var field [NameFieldSize]byte
	n := len(name)
	if n > NameFieldSize-1 {
		n = NameFieldSize - 1
	}
	copy(field[:], name[:n])
	return field
}

// DecodeName extracts the NUL-terminated name from a name field. Bytes after
// the first NUL are padding and ignored.
func DecodeName(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
