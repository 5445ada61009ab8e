// Package camera holds pinhole camera geometry: rigid poses, intrinsics,
// crop windows, and the projection Jacobians the point renderer needs for
// its backward pass.
package camera

import (
	"neural-point-renderer/internal/mathutil"
)

// PoseParams is the number of scalars per pose row: quaternion x, y, z, w
// followed by translation x, y, z.
const PoseParams = 7

// IntrinsicsParams is the number of scalars per intrinsics row: fx, fy, cx, cy.
const IntrinsicsParams = 4

// Pose is a world→camera rigid transform: p_cam = R(Q)·p_world + T.
type Pose struct {
	Q mathutil.Quat
	T mathutil.Vec3
}

// IdentityPose places the camera at the origin looking along +Z.
func IdentityPose() Pose {
	return Pose{Q: mathutil.QuatIdentity()}
}

// PoseFromRow decodes one row of a pose table.
func PoseFromRow(row []float32) Pose {
	return Pose{
		Q: mathutil.Quat{float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])},
		T: mathutil.Vec3{float64(row[4]), float64(row[5]), float64(row[6])},
	}
}

// Row encodes the pose as a pose-table row.
func (p Pose) Row() []float32 {
	return []float32{
		float32(p.Q[0]), float32(p.Q[1]), float32(p.Q[2]), float32(p.Q[3]),
		float32(p.T[0]), float32(p.T[1]), float32(p.T[2]),
	}
}

// Rotation returns R(Q).
func (p Pose) Rotation() mathutil.Mat3 {
	return mathutil.QuatToMat3(p.Q)
}

// Intrinsics are pinhole projection parameters in full-resolution pixels.
type Intrinsics struct {
	Fx, Fy, Cx, Cy float64
}

// IntrinsicsFromRow decodes one row of an intrinsics table.
func IntrinsicsFromRow(row []float32) Intrinsics {
	return Intrinsics{
		Fx: float64(row[0]), Fy: float64(row[1]),
		Cx: float64(row[2]), Cy: float64(row[3]),
	}
}

// Row encodes the intrinsics as a table row.
func (k Intrinsics) Row() []float32 {
	return []float32{float32(k.Fx), float32(k.Fy), float32(k.Cx), float32(k.Cy)}
}

// View bundles everything needed to project into one rendered image.
type View struct {
	Pose       Pose
	R          mathutil.Mat3
	Intrinsics Intrinsics
	Crop       CropTransform
}

// NewView precomputes the rotation matrix of pose.
func NewView(pose Pose, k Intrinsics, crop CropTransform) View {
	return View{Pose: pose, R: pose.Rotation(), Intrinsics: k, Crop: crop}
}
