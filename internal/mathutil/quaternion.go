package mathutil

import "math"

// Quat represents a quaternion (x, y, z, w).
type Quat [4]float64

// QuatIdentity is the zero rotation.
func QuatIdentity() Quat { return Quat{0, 0, 0, 1} }

// EulerToQuat converts Euler XYZ (radians) to a quaternion.
func EulerToQuat(rx, ry, rz float64) Quat {
	cx, sx := math.Cos(rx*0.5), math.Sin(rx*0.5)
	cy, sy := math.Cos(ry*0.5), math.Sin(ry*0.5)
	cz, sz := math.Cos(rz*0.5), math.Sin(rz*0.5)

	return Quat{
		sx*cy*cz - cx*sy*sz, // x
		cx*sy*cz + sx*cy*sz, // y
		cx*cy*sz - sx*sy*cz, // z
		cx*cy*cz + sx*sy*sz, // w
	}
}

// Normalize returns q scaled to unit length. A zero quaternion maps to identity.
func (q Quat) Normalize() Quat {
	l := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if l < 1e-12 {
		return QuatIdentity()
	}
	return Quat{q[0] / l, q[1] / l, q[2] / l, q[3] / l}
}

// QuatToMat3 converts a quaternion to a 3×3 rotation matrix.
// The formula assumes a unit quaternion and is applied as written otherwise.
func QuatToMat3(q Quat) Mat3 {
	x, y, z, w := q[0], q[1], q[2], q[3]
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	return Mat3{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy),
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx),
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy),
	}
}

// QuatToMat3Grad maps a gradient with respect to QuatToMat3(q) back to a
// gradient with respect to the four components of q.
func QuatToMat3Grad(q Quat, g Mat3) Quat {
	x, y, z, w := q[0], q[1], q[2], q[3]
	dx := Mat3{
		0, 2 * y, 2 * z,
		2 * y, -4 * x, -2 * w,
		2 * z, 2 * w, -4 * x,
	}
	dy := Mat3{
		-4 * y, 2 * x, 2 * w,
		2 * x, 0, 2 * z,
		-2 * w, 2 * z, -4 * y,
	}
	dz := Mat3{
		-4 * z, -2 * w, 2 * x,
		2 * w, -4 * z, 2 * y,
		2 * x, 2 * y, 0,
	}
	dw := Mat3{
		0, -2 * z, 2 * y,
		2 * z, 0, -2 * x,
		-2 * y, 2 * x, 0,
	}
	var out Quat
	for i := 0; i < 9; i++ {
		out[0] += g[i] * dx[i]
		out[1] += g[i] * dy[i]
		out[2] += g[i] * dz[i]
		out[3] += g[i] * dw[i]
	}
	return out
}

// Mat3ToQuat converts a rotation matrix to a unit quaternion.
func Mat3ToQuat(m Mat3) Quat {
	tr := m[0] + m[4] + m[8]
	var q Quat
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quat{(m[7] - m[5]) / s, (m[2] - m[6]) / s, (m[3] - m[1]) / s, 0.25 * s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = Quat{0.25 * s, (m[1] + m[3]) / s, (m[2] + m[6]) / s, (m[7] - m[5]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = Quat{(m[1] + m[3]) / s, 0.25 * s, (m[5] + m[7]) / s, (m[2] - m[6]) / s}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = Quat{(m[2] + m[6]) / s, (m[5] + m[7]) / s, 0.25 * s, (m[3] - m[1]) / s}
	}
	return q.Normalize()
}
