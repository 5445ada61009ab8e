package camera

import (
	"neural-point-renderer/internal/mathutil"
)

// Projection is a world point seen from a view.
type Projection struct {
	U, V float64       // rendered-window pixel coordinates
	Z    float64       // camera-space depth
	Pc   mathutil.Vec3 // camera-space position
}

// Project transforms a world point into rendered-window pixels.
// Callers must reject projections with Z at or behind the near plane.
func (v *View) Project(p mathutil.Vec3) Projection {
	pc := v.R.MulVec3(p).Add(v.Pose.T)
	pr := Projection{Z: pc[2], Pc: pc}
	if pc[2] == 0 {
		return pr
	}
	k := v.Intrinsics
	x := k.Fx*pc[0]/pc[2] + k.Cx
	y := k.Fy*pc[1]/pc[2] + k.Cy
	pr.U, pr.V = v.Crop.Apply(x, y)
	return pr
}

// ProjectionGrad holds the gradient contributions of one projected point.
type ProjectionGrad struct {
	Point      mathutil.Vec3 // world position
	R          mathutil.Mat3 // rotation matrix of the pose
	T          mathutil.Vec3 // translation of the pose
	Intrinsics [IntrinsicsParams]float64
}

// Backward maps gradients with respect to (U, V) of Project(p) back to the
// world point, the pose and the intrinsics.
func (v *View) Backward(p mathutil.Vec3, pr Projection, gu, gv float64) ProjectionGrad {
	k := v.Intrinsics
	sx, sy := v.Crop.ScaleX, v.Crop.ScaleY
	X, Y, Z := pr.Pc[0], pr.Pc[1], pr.Pc[2]
	invZ := 1 / Z

	gpc := mathutil.Vec3{
		gu * sx * k.Fx * invZ,
		gv * sy * k.Fy * invZ,
		-(gu*sx*k.Fx*X + gv*sy*k.Fy*Y) * invZ * invZ,
	}
	return ProjectionGrad{
		Point: v.R.MulTVec3(gpc),
		R:     mathutil.Outer(gpc, p),
		T:     gpc,
		Intrinsics: [IntrinsicsParams]float64{
			gu * sx * X * invZ,
			gv * sy * Y * invZ,
			gu * sx,
			gv * sy,
		},
	}
}

// Ray returns the camera-space direction through rendered-window pixel
// (x, y), not normalised (its Z component is 1).
func (v *View) Ray(x, y float64) mathutil.Vec3 {
	fx, fy := v.Crop.Unapply(x, y)
	k := v.Intrinsics
	return mathutil.Vec3{(fx - k.Cx) / k.Fx, (fy - k.Cy) / k.Fy, 1}
}

// WorldDir rotates a camera-space direction into world space.
func (v *View) WorldDir(d mathutil.Vec3) mathutil.Vec3 {
	return v.R.MulTVec3(d)
}
