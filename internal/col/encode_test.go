package col

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVersion1(t *testing.T) {
	t.Parallel()

	m := &Model{
		Name:    "lamppost",
		ModelID: 1203,
		Version: Version1,
		Spheres: []Sphere{
			{Center: Vector3{1, 2, 3}, Radius: 0.5, Surface: Surface{Material: 4, Flag: 1, Brightness: 200, Light: 9}},
		},
		Boxes: []Box{
			{Min: Vector3{-1, -1, -1}, Max: Vector3{1, 1, 1}, Surface: Surface{Material: 2}},
		},
		Vertices: []Vector3{{0, 0, 0}, {1.5, 0, 0}, {0, 2.25, 0}},
		Faces: []Face{
			{A: 0, B: 1, C: 2, Surface: Surface{Material: 7, Flag: 3, Brightness: 128, Light: 1}},
		},
	}
	m.RecalculateBounds()

	buf, err := EncodeModel(m)
	require.NoError(t, err)

	got, consumed, err := DecodeModel(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, m, got)
}

func TestEncodeDecodeVersion2FaceGroups(t *testing.T) {
	t.Parallel()

	// Coordinates are exact multiples of 1/128 so the fixed-point vertex
	// format reproduces them bit for bit. Reduced faces keep only the
	// material and light bytes of the surface.
	m := &Model{
		Name:     "fence",
		ModelID:  900,
		Version:  Version2,
		Vertices: []Vector3{{0, 0, 0}, {0.5, 0, 0}, {0, 0.25, 0}, {1, 1, 0.125}},
		Faces: []Face{
			{A: 0, B: 1, C: 2, Surface: Surface{Material: 5, Light: 12}},
			{A: 1, B: 2, C: 3, Surface: Surface{Material: 5, Light: 12}},
		},
		FaceGroups: []FaceGroup{
			{Min: Vector3{0, 0, 0}, Max: Vector3{1, 1, 1}, StartFace: 0, EndFace: 1},
		},
	}
	m.RecalculateBounds()

	buf, err := EncodeModel(m)
	require.NoError(t, err)

	got, consumed, err := DecodeModel(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, m, got)
}

func TestEncodeDecodeVersion3ShadowMesh(t *testing.T) {
	t.Parallel()

	m := &Model{
		Name:     "bridge",
		ModelID:  3111,
		Version:  Version3,
		Vertices: []Vector3{{0, 0, 0}, {2, 0, 0}, {0, 2, 0}},
		Faces:    []Face{{A: 0, B: 1, C: 2, Surface: Surface{Material: 1, Light: 3}}},
		Shadow: ShadowMesh{
			Vertices: []Vector3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			Faces:    []Face{{A: 0, B: 1, C: 2, Surface: Surface{Material: 0, Light: 0}}},
		},
	}
	m.RecalculateBounds()

	buf, err := EncodeModel(m)
	require.NoError(t, err)

	got, consumed, err := DecodeModel(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, Version3, got.Version)
	assert.Equal(t, m.Shadow, got.Shadow)
	assert.Equal(t, m, got)
}

func TestEncodeArchiveConcatenates(t *testing.T) {
	t.Parallel()

	a := &Model{Name: "a", Version: Version1}
	b := &Model{Name: "b", Version: Version1}

	buf, err := EncodeArchive([]*Model{a, b})
	require.NoError(t, err)

	result := Scan(buf, ScanOptions{})
	require.Len(t, result.Models, 2)
	assert.Equal(t, "a", result.Models[0].Name)
	assert.Equal(t, "b", result.Models[1].Name)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.SkippedBytes)
}

func TestEncodeRejectsBadVersion(t *testing.T) {
	t.Parallel()

	_, err := EncodeModel(&Model{Name: "x", Version: VersionUnknown})
	assert.Error(t, err)
}

func TestEncodeRejectsTooManyVerticesForReducedFormat(t *testing.T) {
	t.Parallel()

	m := &Model{Name: "dense", Version: Version2, Vertices: make([]Vector3, 70000)}
	_, err := EncodeModel(m)
	assert.Error(t, err)
}

func TestEncodeTruncatesLongName(t *testing.T) {
	t.Parallel()

	m := &Model{Name: "this_name_is_way_longer_than_the_field", Version: Version1}
	buf, err := EncodeModel(m)
	require.NoError(t, err)

	got, _, err := DecodeModel(buf)
	require.NoError(t, err)
	assert.Len(t, got.Name, nameFieldSize-1)
	assert.Equal(t, m.Name[:nameFieldSize-1], got.Name)
}

func TestEncodeClampsFixedPointOverflow(t *testing.T) {
	t.Parallel()

	// 300 units is beyond the int16 fixed-point range at scale 128; the
	// encoder clamps instead of wrapping to a wildly wrong coordinate.
	m := &Model{Name: "far", Version: Version2, Vertices: []Vector3{{300, -300, 0}}}
	buf, err := EncodeModel(m)
	require.NoError(t, err)

	got, _, err := DecodeModel(buf)
	require.NoError(t, err)
	require.Len(t, got.Vertices, 1)
	assert.InDelta(t, 255.99, got.Vertices[0].X, 0.01)
	assert.InDelta(t, -256.0, got.Vertices[0].Y, 0.01)
}
