// SPDX-License-Identifier: MIT OR Apache-2.0

package scene

import "math"

// Transform is the spatial component of an entity.
//
// Rotation is stored as a quaternion and is always captured and restored
// as one canonical value. Decomposing it into per-axis angle channels and
// recombining them loses information (the original editor shipped exactly
// that bug), so nothing in this package ever round-trips rotation through
// euler angles.
type Transform struct {
	// Position is the translation (x, y, z).
	Position [3]float64

	// Rotation is the orientation quaternion (x, y, z, w).
	Rotation [4]float64

	// Scale is the per-axis scale.
	Scale [3]float64
}

// IdentityTransform returns a transform at the origin with no rotation and
// unit scale.
func IdentityTransform() Transform {
	return Transform{
		Rotation: [4]float64{0, 0, 0, 1},
		Scale:    [3]float64{1, 1, 1},
	}
}

// QuatFromEulerDegrees converts euler angles in degrees to a quaternion.
//
// Convenience for tools and tests that author rotations as angles. The
// conversion happens once at edit time; the quaternion is what gets
// captured.
func QuatFromEulerDegrees(xDeg, yDeg, zDeg float64) [4]float64 {
	hx := xDeg * math.Pi / 180 * 0.5
	hy := yDeg * math.Pi / 180 * 0.5
	hz := zDeg * math.Pi / 180 * 0.5

	sx, cx := math.Sincos(hx)
	sy, cy := math.Sincos(hy)
	sz, cz := math.Sincos(hz)

	return [4]float64{
		sx*cy*cz - cx*sy*sz,
		cx*sy*cz + sx*cy*sz,
		cx*cy*sz - sx*sy*cz,
		cx*cy*cz + sx*sy*sz,
	}
}
