package col

import "math"

// Version is a COL format generation. The four versions differ in record
// precision and in which optional sections exist.
type Version uint8

const (
	VersionUnknown Version = 0
	Version1       Version = 1 // GTA III / VC, full-precision records
	Version2       Version = 2 // reduced-precision records, face groups
	Version3       Version = 3 // Version2 plus shadow mesh
	Version4       Version = 4 // rare, Version2 layout without face groups
)

// Signature returns the 4-byte tag that opens a model record of this
// version.
func (v Version) Signature() [4]byte {
	switch v {
	case Version1:
		return [4]byte{'C', 'O', 'L', 'L'}
	case Version2, Version3, Version4:
		return [4]byte{'C', 'O', 'L', byte(v)}
	}
	return [4]byte{}
}

// Vector3 is one point or direction. COL stores float32 throughout.
type Vector3 struct {
	X, Y, Z float32
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Length returns the Euclidean norm.
func (v Vector3) Length() float64 {
	return math.Sqrt(float64(v.X)*float64(v.X) + float64(v.Y)*float64(v.Y) + float64(v.Z)*float64(v.Z))
}

// Dist returns the Euclidean distance between v and o.
func (v Vector3) Dist(o Vector3) float64 {
	return v.Sub(o).Length()
}

// Surface carries the per-primitive material properties.
type Surface struct {
	Material   uint8
	Flag       uint8
	Brightness uint8
	Light      uint8
}

// Sphere is one collision sphere.
type Sphere struct {
	Center  Vector3
	Radius  float32
	Surface Surface
}

// Box is one axis-aligned collision box.
type Box struct {
	Min, Max Vector3
	Surface  Surface
}

// Face is one collision triangle. Indices address Model.Vertices. Version 1
// stores a full surface; version 2+ stores only material and light, the
// other surface bytes stay zero.
type Face struct {
	A, B, C uint32
	Surface Surface
}

// FaceGroup is a spatial bucket over a face range, version 2/3 only.
type FaceGroup struct {
	Min, Max  Vector3
	StartFace uint16
	EndFace   uint16
}

// ShadowMesh is the separate shadow-casting geometry, version 3 only.
type ShadowMesh struct {
	Vertices []Vector3
	Faces    []Face
}

// Bounds is the precomputed bounding volume of a model.
type Bounds struct {
	Radius   float32
	Center   Vector3
	Min, Max Vector3
}

// Model is one named collision mesh.
type Model struct {
	Name    string
	ModelID uint16
	Version Version
	Bounds  Bounds

	Spheres  []Sphere
	Boxes    []Box
	Vertices []Vector3
	Faces    []Face

	FaceGroups []FaceGroup
	Shadow     ShadowMesh

	// Invalid marks a model whose face indices point outside the vertex
	// list. The decoder keeps such models so a multi-model scan can
	// continue, but optimization refuses to touch them.
	Invalid bool
}

// CheckFaceIndices marks the model invalid if any face references a vertex
// that does not exist, and reports the result.
func (m *Model) CheckFaceIndices() bool {
	n := uint32(len(m.Vertices))
	for i := range m.Faces {
		f := &m.Faces[i]
		if f.A >= n || f.B >= n || f.C >= n {
			m.Invalid = true
			return false
		}
	}
	return true
}

// RecalculateBounds recomputes the bounding volume from the model's
// geometry, spheres and boxes included.
func (m *Model) RecalculateBounds() {
	if len(m.Vertices) == 0 && len(m.Spheres) == 0 && len(m.Boxes) == 0 {
		m.Bounds = Bounds{}
		return
	}

	min := Vector3{X: float32(math.Inf(1)), Y: float32(math.Inf(1)), Z: float32(math.Inf(1))}
	max := Vector3{X: float32(math.Inf(-1)), Y: float32(math.Inf(-1)), Z: float32(math.Inf(-1))}

	grow := func(lo, hi Vector3) {
		min.X = minf(min.X, lo.X)
		min.Y = minf(min.Y, lo.Y)
		min.Z = minf(min.Z, lo.Z)
		max.X = maxf(max.X, hi.X)
		max.Y = maxf(max.Y, hi.Y)
		max.Z = maxf(max.Z, hi.Z)
	}

	for _, v := range m.Vertices {
		grow(v, v)
	}
	for _, s := range m.Spheres {
		grow(Vector3{s.Center.X - s.Radius, s.Center.Y - s.Radius, s.Center.Z - s.Radius},
			Vector3{s.Center.X + s.Radius, s.Center.Y + s.Radius, s.Center.Z + s.Radius})
	}
	for _, b := range m.Boxes {
		grow(b.Min, b.Max)
	}

	center := Vector3{(min.X + max.X) / 2, (min.Y + max.Y) / 2, (min.Z + max.Z) / 2}
	m.Bounds = Bounds{
		Min:    min,
		Max:    max,
		Center: center,
		Radius: float32(max.Dist(center)),
	}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Stats summarizes a model's element counts.
type Stats struct {
	Spheres        int
	Boxes          int
	Vertices       int
	Faces          int
	FaceGroups     int
	ShadowVertices int
	ShadowFaces    int
}

// Stats returns the element counts of the model.
func (m *Model) Stats() Stats {
	return Stats{
		Spheres:        len(m.Spheres),
		Boxes:          len(m.Boxes),
		Vertices:       len(m.Vertices),
		Faces:          len(m.Faces),
		FaceGroups:     len(m.FaceGroups),
		ShadowVertices: len(m.Shadow.Vertices),
		ShadowFaces:    len(m.Shadow.Faces),
	}
}

// Add accumulates other into s, for whole-archive totals.
func (s *Stats) Add(other Stats) {
	s.Spheres += other.Spheres
	s.Boxes += other.Boxes
	s.Vertices += other.Vertices
	s.Faces += other.Faces
	s.FaceGroups += other.FaceGroups
	s.ShadowVertices += other.ShadowVertices
	s.ShadowFaces += other.ShadowFaces
}
