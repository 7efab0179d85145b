package col

import (
	log "github.com/sirupsen/logrus"
)

// The optimizer passes are pure transforms over a decoded model. Each
// returns the number of elements it changed and reports zero when run a
// second time on its own output.

// RemoveDuplicateVertices collapses vertices at exactly equal positions
// onto the first occurrence and remaps face indices. Returns the number of
// vertices removed.
func RemoveDuplicateVertices(m *Model) int {
	if m.Invalid || len(m.Vertices) == 0 {
		return 0
	}

	firstAt := make(map[Vector3]uint32, len(m.Vertices))
	remap := make([]uint32, len(m.Vertices))
	kept := m.Vertices[:0:0]

	for i, v := range m.Vertices {
		if j, ok := firstAt[v]; ok {
			remap[i] = j
			continue
		}
		idx := uint32(len(kept))
		firstAt[v] = idx
		remap[i] = idx
		kept = append(kept, v)
	}

	removed := len(m.Vertices) - len(kept)
	if removed == 0 {
		return 0
	}

	m.Vertices = kept
	remapFaces(m.Faces, remap)
	log.Debugf("model %q: removed %d duplicate vertices", m.Name, removed)
	return removed
}

// RemoveUnusedVertices drops vertices no face references and remaps the
// rest. Returns the number of vertices removed.
func RemoveUnusedVertices(m *Model) int {
	if m.Invalid || len(m.Vertices) == 0 {
		return 0
	}

	used := make([]bool, len(m.Vertices))
	for _, f := range m.Faces {
		used[f.A] = true
		used[f.B] = true
		used[f.C] = true
	}

	remap := make([]uint32, len(m.Vertices))
	kept := m.Vertices[:0:0]
	for i, v := range m.Vertices {
		if !used[i] {
			continue
		}
		remap[i] = uint32(len(kept))
		kept = append(kept, v)
	}

	removed := len(m.Vertices) - len(kept)
	if removed == 0 {
		return 0
	}

	m.Vertices = kept
	remapFaces(m.Faces, remap)
	log.Debugf("model %q: removed %d unused vertices", m.Name, removed)
	return removed
}

// MergeNearbyVertices clusters vertices within threshold of each other onto
// the cluster's first vertex. A threshold of zero or less is a no-op:
// identical positions are RemoveDuplicateVertices' job. The pairwise scan
// is quadratic, collision meshes are small enough for that.
func MergeNearbyVertices(m *Model, threshold float64) int {
	if m.Invalid || threshold <= 0 || len(m.Vertices) < 2 {
		return 0
	}

	processed := make([]bool, len(m.Vertices))
	remap := make([]uint32, len(m.Vertices))
	kept := m.Vertices[:0:0]

	for i, v := range m.Vertices {
		if processed[i] {
			continue
		}
		idx := uint32(len(kept))
		kept = append(kept, v)
		remap[i] = idx
		processed[i] = true

		for j := i + 1; j < len(m.Vertices); j++ {
			if processed[j] {
				continue
			}
			if v.Dist(m.Vertices[j]) <= threshold {
				remap[j] = idx
				processed[j] = true
			}
		}
	}

	merged := len(m.Vertices) - len(kept)
	if merged == 0 {
		return 0
	}

	m.Vertices = kept
	remapFaces(m.Faces, remap)
	log.Debugf("model %q: merged %d nearby vertices", m.Name, merged)
	return merged
}

// RemoveDegenerateFaces drops faces with out-of-range indices or an area
// below minFaceArea. Returns the number of faces removed.
func RemoveDegenerateFaces(m *Model) int {
	if len(m.Faces) == 0 {
		return 0
	}

	kept := m.Faces[:0:0]
	for _, f := range m.Faces {
		if faceValid(m, f) {
			kept = append(kept, f)
		}
	}

	removed := len(m.Faces) - len(kept)
	if removed == 0 {
		return 0
	}

	m.Faces = kept
	log.Debugf("model %q: removed %d degenerate faces", m.Name, removed)
	return removed
}

const minFaceArea = 1e-3

func faceValid(m *Model, f Face) bool {
	n := uint32(len(m.Vertices))
	if f.A >= n || f.B >= n || f.C >= n {
		return false
	}

	e1 := m.Vertices[f.B].Sub(m.Vertices[f.A])
	e2 := m.Vertices[f.C].Sub(m.Vertices[f.A])
	cross := Vector3{
		X: e1.Y*e2.Z - e1.Z*e2.Y,
		Y: e1.Z*e2.X - e1.X*e2.Z,
		Z: e1.X*e2.Y - e1.Y*e2.X,
	}
	return 0.5*cross.Length() > minFaceArea
}

// ConvertVersion changes the model's version tag and nothing else. The
// decoded records are re-encoded at whatever precision the new version
// uses the next time the model is written; sections the target version
// cannot carry are simply not written. No caller depends on any deeper
// payload translation, so none happens here. Returns true if the tag
// changed.
func ConvertVersion(m *Model, target Version) bool {
	if target < Version1 || target > Version4 || m.Version == target {
		return false
	}
	m.Version = target
	return true
}

func remapFaces(faces []Face, remap []uint32) {
	for i := range faces {
		faces[i].A = remap[faces[i].A]
		faces[i].B = remap[faces[i].B]
		faces[i].C = remap[faces[i].C]
	}
}
