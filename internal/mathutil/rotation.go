package mathutil

import "math"

// RotX returns a 3×3 rotation matrix around the X axis. Angle in radians.
func RotX(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	}
}

// RotY returns a 3×3 rotation matrix around the Y axis.
func RotY(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	}
}

// RotZ returns a 3×3 rotation matrix around the Z axis.
func RotZ(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(d float64) float64 {
	return d * math.Pi / 180
}

// LookAt returns the world→camera rotation and translation of a camera at
// eye looking at target. Camera axes: +X right, +Y down, +Z forward.
func LookAt(eye, target, up Vec3) (Mat3, Vec3) {
	fwd := target.Sub(eye).Normalize()
	right := fwd.Cross(up).Normalize()
	if right == (Vec3{}) {
		right = fwd.Cross(Vec3{0, 0, 1}).Normalize()
	}
	down := fwd.Cross(right)
	r := Mat3{
		right[0], right[1], right[2],
		down[0], down[1], down[2],
		fwd[0], fwd[1], fwd[2],
	}
	return r, r.MulVec3(eye).Scale(-1)
}
