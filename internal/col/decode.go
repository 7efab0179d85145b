package col

import (
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// ParseError reports a model record that cannot be decoded. In a
// multi-model scan it marks one skipped model, never the whole buffer.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("col: parse error at offset %d: %s", e.Offset, e.Reason)
}

// reader is a bounds-checked cursor over a model record body. Every count
// read from the stream is validated against the remaining bytes before it
// is trusted as a loop bound.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, &ParseError{Offset: r.off, Reason: fmt.Sprintf("%s needs %d bytes, %d left", what, n, r.remaining())}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u16(what string) (uint16, error) {
	b, err := r.take(2, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) f32(what string) (float32, error) {
	v, err := r.u32(what)
	return math.Float32frombits(v), err
}

// count reads a section count and rejects any value whose records cannot
// fit in the remaining buffer. This is the guard against the classic
// garbage-count-field allocation blowup.
func (r *reader) count(recordSize int, what string) (int, error) {
	n, err := r.u32(what + " count")
	if err != nil {
		return 0, err
	}
	if recordSize > 0 && int64(n)*int64(recordSize) > int64(r.remaining()) {
		return 0, &ParseError{Offset: r.off, Reason: fmt.Sprintf("%s count %d exceeds remaining %d bytes", what, n, r.remaining())}
	}
	return int(n), nil
}

func (r *reader) vector(what string) (Vector3, error) {
	b, err := r.take(12, what)
	if err != nil {
		return Vector3{}, err
	}
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b)),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}

func (r *reader) surface(what string) (Surface, error) {
	b, err := r.take(4, what)
	if err != nil {
		return Surface{}, err
	}
	return Surface{Material: b[0], Flag: b[1], Brightness: b[2], Light: b[3]}, nil
}

// DecodeModel decodes one model record from the start of data and returns
// the decoded model and the number of bytes consumed.
func DecodeModel(data []byte) (*Model, int, error) {
	version := signatureAt(data)
	if version == VersionUnknown {
		return nil, 0, &ParseError{Offset: 0, Reason: "no COL signature"}
	}
	if len(data) < 8 {
		return nil, 0, &ParseError{Offset: 0, Reason: "record shorter than signature and size field"}
	}

	// The size field covers everything after itself.
	size := int(binary.LittleEndian.Uint32(data[4:]))
	if size < 0 || 8+size > len(data) {
		return nil, 0, &ParseError{Offset: 4, Reason: fmt.Sprintf("size field %d exceeds remaining %d bytes", size, len(data)-8)}
	}

	m := &Model{Version: version}
	r := &reader{buf: data[8 : 8+size]}
	if err := decodeBody(r, m); err != nil {
		return nil, 0, err
	}

	m.CheckFaceIndices()
	return m, 8 + size, nil
}

func decodeBody(r *reader, m *Model) error {
	nameField, err := r.take(nameFieldSize, "name")
	if err != nil {
		return err
	}
	m.Name = decodeModelName(nameField)

	if m.ModelID, err = r.u16("model id"); err != nil {
		return err
	}
	if err := decodeBounds(r, m); err != nil {
		return err
	}

	if m.Version == Version1 {
		// Unknown block, count plus count 4-byte words. Preserved nowhere;
		// the encoder writes it back as empty.
		n, err := r.count(4, "unknown block")
		if err != nil {
			return err
		}
		if _, err := r.take(n*4, "unknown block"); err != nil {
			return err
		}
	}

	if err := decodeSpheres(r, m); err != nil {
		return err
	}
	if err := decodeBoxes(r, m); err != nil {
		return err
	}
	if err := decodeVertices(r, m); err != nil {
		return err
	}
	if m.Faces, err = decodeFaces(r, m.Version, "face"); err != nil {
		return err
	}

	if hasFaceGroups(m.Version) {
		if err := decodeFaceGroups(r, m); err != nil {
			return err
		}
	}
	if hasShadowMesh(m.Version) {
		if err := decodeShadowMesh(r, m); err != nil {
			return err
		}
	}
	return nil
}

func decodeModelName(field []byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

func decodeBounds(r *reader, m *Model) error {
	if m.Version == Version1 {
		radius, err := r.f32("bounds radius")
		if err != nil {
			return err
		}
		center, err := r.vector("bounds center")
		if err != nil {
			return err
		}
		min, err := r.vector("bounds min")
		if err != nil {
			return err
		}
		max, err := r.vector("bounds max")
		if err != nil {
			return err
		}
		m.Bounds = Bounds{Radius: radius, Center: center, Min: min, Max: max}
		return nil
	}

	// Version 2+ drops the stored center; it is the box midpoint.
	min, err := r.vector("bounds min")
	if err != nil {
		return err
	}
	max, err := r.vector("bounds max")
	if err != nil {
		return err
	}
	radius, err := r.f32("bounds radius")
	if err != nil {
		return err
	}
	m.Bounds = Bounds{
		Radius: radius,
		Min:    min,
		Max:    max,
		Center: Vector3{(min.X + max.X) / 2, (min.Y + max.Y) / 2, (min.Z + max.Z) / 2},
	}
	return nil
}

func decodeSpheres(r *reader, m *Model) error {
	n, err := r.count(sphereRecordSize, "sphere")
	if err != nil || n == 0 {
		return err
	}
	m.Spheres = make([]Sphere, 0, n)
	for i := 0; i < n; i++ {
		var s Sphere
		if m.Version == Version1 {
			// Version 1 stores radius before center, version 2+ the
			// other way around.
			if s.Radius, err = r.f32("sphere radius"); err != nil {
				return err
			}
			if s.Center, err = r.vector("sphere center"); err != nil {
				return err
			}
		} else {
			if s.Center, err = r.vector("sphere center"); err != nil {
				return err
			}
			if s.Radius, err = r.f32("sphere radius"); err != nil {
				return err
			}
		}
		if s.Surface, err = r.surface("sphere surface"); err != nil {
			return err
		}
		m.Spheres = append(m.Spheres, s)
	}
	return nil
}

// decodeBoxes handles both box record widths. The wide 72-byte variant is
// detected by checking which stride leaves the following vertex section
// with a sane count; only the leading 28 bytes of a wide record carry data.
func decodeBoxes(r *reader, m *Model) error {
	n, err := r.count(boxRecordSize, "box")
	if err != nil {
		return err
	}

	stride := boxRecordSize
	if n > 0 {
		switch {
		case boxSectionSane(r, n, boxRecordSize, m.Version):
			stride = boxRecordSize
		case boxSectionSane(r, n, boxRecordSizeWide, m.Version):
			stride = boxRecordSizeWide
		default:
			return &ParseError{Offset: r.off, Reason: fmt.Sprintf("box section with %d records fits neither known record size", n)}
		}
	}

	if n == 0 {
		return nil
	}
	m.Boxes = make([]Box, 0, n)
	for i := 0; i < n; i++ {
		var b Box
		if b.Min, err = r.vector("box min"); err != nil {
			return err
		}
		if b.Max, err = r.vector("box max"); err != nil {
			return err
		}
		if b.Surface, err = r.surface("box surface"); err != nil {
			return err
		}
		if stride > boxRecordSize {
			if _, err := r.take(stride-boxRecordSize, "box padding"); err != nil {
				return err
			}
		}
		m.Boxes = append(m.Boxes, b)
	}
	return nil
}

// boxSectionSane speculatively checks whether reading n boxes with the
// given stride leaves a plausible vertex section behind.
func boxSectionSane(r *reader, n, stride int, v Version) bool {
	end := r.off + n*stride
	if end+4 > len(r.buf) {
		return false
	}
	vcount := int64(binary.LittleEndian.Uint32(r.buf[end:]))
	return vcount*int64(vertexSize(v)) <= int64(len(r.buf)-end-4)
}

func decodeVertices(r *reader, m *Model) error {
	n, err := r.count(vertexSize(m.Version), "vertex")
	if err != nil || n == 0 {
		return err
	}
	m.Vertices = make([]Vector3, 0, n)
	for i := 0; i < n; i++ {
		if m.Version == Version1 {
			v, err := r.vector("vertex")
			if err != nil {
				return err
			}
			m.Vertices = append(m.Vertices, v)
			continue
		}

		b, err := r.take(vertexSizeV2, "vertex")
		if err != nil {
			return err
		}
		m.Vertices = append(m.Vertices, Vector3{
			X: float32(int16(binary.LittleEndian.Uint16(b))) / vertexScale,
			Y: float32(int16(binary.LittleEndian.Uint16(b[2:]))) / vertexScale,
			Z: float32(int16(binary.LittleEndian.Uint16(b[4:]))) / vertexScale,
		})
	}
	return nil
}

func decodeFaces(r *reader, v Version, what string) ([]Face, error) {
	n, err := r.count(faceSize(v), what)
	if err != nil || n == 0 {
		return nil, err
	}
	faces := make([]Face, 0, n)
	for i := 0; i < n; i++ {
		var f Face
		if v == Version1 {
			a, err := r.u32(what + " index")
			if err != nil {
				return nil, err
			}
			b, err := r.u32(what + " index")
			if err != nil {
				return nil, err
			}
			c, err := r.u32(what + " index")
			if err != nil {
				return nil, err
			}
			f.A, f.B, f.C = a, b, c
			if f.Surface, err = r.surface(what + " surface"); err != nil {
				return nil, err
			}
		} else {
			buf, err := r.take(faceSizeV2, what)
			if err != nil {
				return nil, err
			}
			f.A = uint32(binary.LittleEndian.Uint16(buf))
			f.B = uint32(binary.LittleEndian.Uint16(buf[2:]))
			f.C = uint32(binary.LittleEndian.Uint16(buf[4:]))
			f.Surface = Surface{Material: buf[6], Light: buf[7]}
		}
		faces = append(faces, f)
	}
	return faces, nil
}

func decodeFaceGroups(r *reader, m *Model) error {
	n, err := r.count(faceGroupSize, "face group")
	if err != nil || n == 0 {
		return err
	}
	m.FaceGroups = make([]FaceGroup, 0, n)
	for i := 0; i < n; i++ {
		var g FaceGroup
		if g.Min, err = r.vector("face group min"); err != nil {
			return err
		}
		if g.Max, err = r.vector("face group max"); err != nil {
			return err
		}
		if g.StartFace, err = r.u16("face group start"); err != nil {
			return err
		}
		if g.EndFace, err = r.u16("face group end"); err != nil {
			return err
		}
		m.FaceGroups = append(m.FaceGroups, g)
	}
	return nil
}

func decodeShadowMesh(r *reader, m *Model) error {
	n, err := r.count(vertexSizeV2, "shadow vertex")
	if err != nil {
		return err
	}
	if n > 0 {
		m.Shadow.Vertices = make([]Vector3, 0, n)
	}
	for i := 0; i < n; i++ {
		b, err := r.take(vertexSizeV2, "shadow vertex")
		if err != nil {
			return err
		}
		m.Shadow.Vertices = append(m.Shadow.Vertices, Vector3{
			X: float32(int16(binary.LittleEndian.Uint16(b))) / vertexScale,
			Y: float32(int16(binary.LittleEndian.Uint16(b[2:]))) / vertexScale,
			Z: float32(int16(binary.LittleEndian.Uint16(b[4:]))) / vertexScale,
		})
	}

	m.Shadow.Faces, err = decodeFaces(r, m.Version, "shadow face")
	return err
}

// ScanOptions bounds a multi-model scan.
type ScanOptions struct {
	// MaxModels caps how many models one buffer may yield.
	MaxModels int
}

// DefaultMaxModels is plenty for every archive seen in the wild.
const DefaultMaxModels = 4096

// ModelError records one model that failed to decode during a scan.
type ModelError struct {
	Offset int
	Err    error
}

// ScanResult is the outcome of a multi-model scan: the models that decoded,
// plus an account of everything that did not.
type ScanResult struct {
	Models       []*Model
	SkippedBytes int
	Errors       []ModelError
}

// Scan decodes a buffer holding one or more concatenated model records.
// A model that fails to parse is recorded and the scan resumes at the next
// signature; one bad model never sinks the rest. The cursor always
// advances, so malformed input cannot loop forever.
func Scan(data []byte, opts ScanOptions) *ScanResult {
	maxModels := opts.MaxModels
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}

	result := &ScanResult{}
	off := 0
	for off < len(data) && len(result.Models) < maxModels {
		if signatureAt(data[off:]) == VersionUnknown {
			next := nextSignature(data, off+1)
			result.SkippedBytes += next - off
			off = next
			continue
		}

		m, consumed, err := DecodeModel(data[off:])
		if err != nil {
			result.Errors = append(result.Errors, ModelError{Offset: off, Err: err})
			log.Warnf("skipping model at offset %d: %v", off, err)
			next := nextSignature(data, off+1)
			result.SkippedBytes += next - off
			off = next
			continue
		}

		result.Models = append(result.Models, m)
		off += consumed
	}
	return result
}

// nextSignature returns the offset of the next COL signature at or after
// from, or len(data).
func nextSignature(data []byte, from int) int {
	for i := from; i+4 <= len(data); i++ {
		if signatureAt(data[i:]) != VersionUnknown {
			return i
		}
	}
	return len(data)
}
