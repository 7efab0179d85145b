package col

// Section record sizes, fixed by the format.
const (
	nameFieldSize = 22

	boundsSizeV1 = 40 // radius, center, min, max as float32
	boundsSizeV2 = 28 // min, max, radius; center is derived

	sphereRecordSize = 20
	boxRecordSize    = 28
	// boxRecordSizeWide is a historical variant seen in the wild; the
	// decoder detects it by bounds-checking the section against the
	// remaining buffer. Only the leading 28 bytes carry data.
	boxRecordSizeWide = 72

	vertexSizeV1 = 12 // 3 x float32
	vertexSizeV2 = 6  // 3 x int16, fixed-point /128

	faceSizeV1 = 16 // 3 x uint32 indices + surface
	faceSizeV2 = 8  // 3 x uint16 indices + material, light

	faceGroupSize = 28
)

// vertexScale converts between float coordinates and the version 2+
// fixed-point representation.
const vertexScale = 128.0

// signatureAt decodes the model signature at the start of buf, if any.
func signatureAt(buf []byte) Version {
	if len(buf) < 4 || buf[0] != 'C' || buf[1] != 'O' || buf[2] != 'L' {
		return VersionUnknown
	}
	switch buf[3] {
	case 'L':
		return Version1
	case 2, 3, 4:
		return Version(buf[3])
	}
	return VersionUnknown
}

func vertexSize(v Version) int {
	if v == Version1 {
		return vertexSizeV1
	}
	return vertexSizeV2
}

func faceSize(v Version) int {
	if v == Version1 {
		return faceSizeV1
	}
	return faceSizeV2
}

func boundsSize(v Version) int {
	if v == Version1 {
		return boundsSizeV1
	}
	return boundsSizeV2
}

func hasFaceGroups(v Version) bool {
	return v == Version2 || v == Version3
}

func hasShadowMesh(v Version) bool {
	return v == Version3
}
