package col

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// EncodeModel builds the binary record for one model. Boxes are always
// written as the canonical 28-byte records, regardless of what the decoder
// accepted, and the version 1 unknown block is written empty.
func EncodeModel(m *Model) ([]byte, error) {
	if m.Version < Version1 || m.Version > Version4 {
		return nil, errors.Errorf("col: cannot encode model %q with version %d", m.Name, m.Version)
	}
	if len(m.Vertices) > maxVertexIndex(m.Version) {
		return nil, errors.Errorf("col: model %q has %d vertices, more than version %d can index", m.Name, len(m.Vertices), m.Version)
	}

	body := make([]byte, 0, bodySizeHint(m))
	body = appendName(body, m.Name)
	body = binary.LittleEndian.AppendUint16(body, m.ModelID)
	body = appendBounds(body, m)

	if m.Version == Version1 {
		body = binary.LittleEndian.AppendUint32(body, 0) // unknown block
	}

	body = binary.LittleEndian.AppendUint32(body, uint32(len(m.Spheres)))
	for _, s := range m.Spheres {
		if m.Version == Version1 {
			body = appendF32(body, s.Radius)
			body = appendVector(body, s.Center)
		} else {
			body = appendVector(body, s.Center)
			body = appendF32(body, s.Radius)
		}
		body = appendSurface(body, s.Surface)
	}

	body = binary.LittleEndian.AppendUint32(body, uint32(len(m.Boxes)))
	for _, b := range m.Boxes {
		body = appendVector(body, b.Min)
		body = appendVector(body, b.Max)
		body = appendSurface(body, b.Surface)
	}

	body = appendVertices(body, m.Version, m.Vertices)
	body = appendFaces(body, m.Version, m.Faces)

	if hasFaceGroups(m.Version) {
		body = binary.LittleEndian.AppendUint32(body, uint32(len(m.FaceGroups)))
		for _, g := range m.FaceGroups {
			body = appendVector(body, g.Min)
			body = appendVector(body, g.Max)
			body = binary.LittleEndian.AppendUint16(body, g.StartFace)
			body = binary.LittleEndian.AppendUint16(body, g.EndFace)
		}
	}
	if hasShadowMesh(m.Version) {
		body = appendVertices(body, m.Version, m.Shadow.Vertices)
		body = appendFaces(body, m.Version, m.Shadow.Faces)
	}

	sig := m.Version.Signature()
	out := make([]byte, 0, 8+len(body))
	out = append(out, sig[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

// EncodeArchive concatenates the binary records of all models. A COL
// archive has no header of its own.
func EncodeArchive(models []*Model) ([]byte, error) {
	var out []byte
	for _, m := range models {
		rec, err := EncodeModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec...)
	}
	return out, nil
}

// maxVertexIndex is what a face index can address per version: uint16 for
// the reduced formats, effectively unbounded for version 1.
func maxVertexIndex(v Version) int {
	if v == Version1 {
		return math.MaxInt32
	}
	return math.MaxUint16 + 1
}

func bodySizeHint(m *Model) int {
	return nameFieldSize + 2 + boundsSize(m.Version) +
		4 + len(m.Spheres)*sphereRecordSize +
		4 + len(m.Boxes)*boxRecordSize +
		8 + len(m.Vertices)*vertexSize(m.Version) +
		len(m.Faces)*faceSize(m.Version) +
		4 + len(m.FaceGroups)*faceGroupSize
}

func appendName(dst []byte, name string) []byte {
	var field [nameFieldSize]byte
	n := len(name)
	if n > nameFieldSize-1 {
		n = nameFieldSize - 1
	}
	copy(field[:], name[:n])
	return append(dst, field[:]...)
}

func appendF32(dst []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
}

func appendVector(dst []byte, v Vector3) []byte {
	dst = appendF32(dst, v.X)
	dst = appendF32(dst, v.Y)
	return appendF32(dst, v.Z)
}

func appendSurface(dst []byte, s Surface) []byte {
	return append(dst, s.Material, s.Flag, s.Brightness, s.Light)
}

func appendBounds(dst []byte, m *Model) []byte {
	if m.Version == Version1 {
		dst = appendF32(dst, m.Bounds.Radius)
		dst = appendVector(dst, m.Bounds.Center)
		dst = appendVector(dst, m.Bounds.Min)
		return appendVector(dst, m.Bounds.Max)
	}
	dst = appendVector(dst, m.Bounds.Min)
	dst = appendVector(dst, m.Bounds.Max)
	return appendF32(dst, m.Bounds.Radius)
}

func appendVertices(dst []byte, v Version, vertices []Vector3) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(vertices)))
	for _, vert := range vertices {
		if v == Version1 {
			dst = appendVector(dst, vert)
			continue
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(clampFixed(vert.X))))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(clampFixed(vert.Y))))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(clampFixed(vert.Z))))
	}
	return dst
}

// clampFixed converts a coordinate to the fixed-point range of the reduced
// vertex format, clamping instead of wrapping on overflow.
func clampFixed(f float32) int32 {
	v := int32(math.Round(float64(f) * vertexScale))
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}

func appendFaces(dst []byte, v Version, faces []Face) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(faces)))
	for _, f := range faces {
		if v == Version1 {
			dst = binary.LittleEndian.AppendUint32(dst, f.A)
			dst = binary.LittleEndian.AppendUint32(dst, f.B)
			dst = binary.LittleEndian.AppendUint32(dst, f.C)
			dst = appendSurface(dst, f.Surface)
			continue
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(f.A))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(f.B))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(f.C))
		dst = append(dst, f.Surface.Material, f.Surface.Light)
	}
	return dst
}
