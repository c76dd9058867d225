package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// HeadPoseLandmarks are the face mesh indices used for the pose solve:
// left eye corner, right eye corner, nose tip, mouth corners, chin.
var HeadPoseLandmarks = []int{33, 263, 1, 61, 291, 199}

// Camera is a pinhole camera without distortion.
type Camera struct {
	Focal float64
	CX    float64
	CY    float64
}

// SyntheticCamera approximates an uncalibrated camera: focal length equal to
// the frame width, principal point at the image center.
func SyntheticCamera(width, height int) Camera {
	return Camera{
		Focal: float64(width),
		CX:    float64(width) / 2,
		CY:    float64(height) / 2,
	}
}

// Pose holds Euler angles in degrees. X is pitch, Y is yaw, Z is roll.
type Pose struct {
	X float64
	Y float64
	Z float64
}

// CanonicalFace is a generic head model in millimetres (x right, y down, z away
// from the camera), ordered like HeadPoseLandmarks.
var CanonicalFace = []r3.Vec{
	{X: -225, Y: -170, Z: 135}, // eye outer corner, image left
	{X: 225, Y: -170, Z: 135},  // eye outer corner, image right
	{X: 0, Y: 0, Z: 0},         // nose tip
	{X: -150, Y: 150, Z: 125},  // mouth corner, image left
	{X: 150, Y: 150, Z: 125},   // mouth corner, image right
	{X: 0, Y: 330, Z: 65},      // chin
}

// HeadPose estimates head rotation by solving CanonicalFace against the pixel
// positions of HeadPoseLandmarks. Angles are zero for a face looking straight
// into the camera.
func HeadPose(width, height int, landmarks []models.Landmark) (Pose, error) {
	image, err := Pixels(landmarks, HeadPoseLandmarks, width, height)
	if err != nil {
		return Pose{}, err
	}
	rot, err := SolvePnP(CanonicalFace, image, SyntheticCamera(width, height))
	if err != nil {
		return Pose{}, err
	}
	return EulerAngles(rot), nil
}

// SolvePnP recovers the rotation mapping object points onto their image
// projections with a normalized direct linear transform. At least six
// non-coplanar points are required.
func SolvePnP(object []r3.Vec, image []r2.Vec, cam Camera) (*mat.Dense, error) {
	n := len(object)
	if n < 6 || len(image) != n {
		return nil, fmt.Errorf("pnp needs 6 matched points, got %d/%d: %w", len(object), len(image), ErrInsufficientPoints)
	}
	if cam.Focal == 0 {
		return nil, ErrDegenerate
	}

	// Per-axis conditioning of the object points keeps shallow depth usable.
	var mean r3.Vec
	for _, p := range object {
		mean = r3.Add(mean, p)
	}
	mean = r3.Scale(1/float64(n), mean)
	var variance r3.Vec
	for _, p := range object {
		d := r3.Sub(p, mean)
		variance = r3.Add(variance, r3.Vec{X: d.X * d.X, Y: d.Y * d.Y, Z: d.Z * d.Z})
	}
	scale := r3.Vec{
		X: math.Sqrt(variance.X / float64(n)),
		Y: math.Sqrt(variance.Y / float64(n)),
		Z: math.Sqrt(variance.Z / float64(n)),
	}
	if scale.X == 0 || scale.Y == 0 || scale.Z == 0 {
		return nil, ErrDegenerate
	}

	norm := make([]r2.Vec, n)
	var centroid r2.Vec
	for i, p := range image {
		norm[i] = r2.Vec{X: (p.X - cam.CX) / cam.Focal, Y: (p.Y - cam.CY) / cam.Focal}
		centroid = r2.Add(centroid, norm[i])
	}
	centroid = r2.Scale(1/float64(n), centroid)
	var spread float64
	for _, p := range norm {
		spread += Distance(p, centroid)
	}
	spread /= float64(n)
	if spread == 0 {
		return nil, ErrDegenerate
	}
	imgScale := math.Sqrt2 / spread

	a := mat.NewDense(2*n, 12, nil)
	for i := range object {
		X := []float64{
			(object[i].X - mean.X) / scale.X,
			(object[i].Y - mean.Y) / scale.Y,
			(object[i].Z - mean.Z) / scale.Z,
			1,
		}
		u := (norm[i].X - centroid.X) * imgScale
		v := (norm[i].Y - centroid.Y) * imgScale
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, X[j])
			a.Set(2*i, 8+j, -u*X[j])
			a.Set(2*i+1, 4+j, X[j])
			a.Set(2*i+1, 8+j, -v*X[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, ErrDegenerate
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[10]/values[0] < 1e-12 {
		return nil, ErrDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	pn := mat.NewDense(3, 4, mat.Col(nil, 11, &v))

	// Undo the conditioning: P = Timg^-1 * Pn * Tobj.
	imgInv := mat.NewDense(3, 3, []float64{
		1 / imgScale, 0, centroid.X,
		0, 1 / imgScale, centroid.Y,
		0, 0, 1,
	})
	obj := mat.NewDense(4, 4, []float64{
		1 / scale.X, 0, 0, -mean.X / scale.X,
		0, 1 / scale.Y, 0, -mean.Y / scale.Y,
		0, 0, 1 / scale.Z, -mean.Z / scale.Z,
		0, 0, 0, 1,
	})
	var tmp, p mat.Dense
	tmp.Mul(imgInv, pn)
	p.Mul(&tmp, obj)

	// Object points must lie in front of the camera.
	depth := p.At(2, 0)*mean.X + p.At(2, 1)*mean.Y + p.At(2, 2)*mean.Z + p.At(2, 3)
	if depth < 0 {
		p.Scale(-1, &p)
	}

	m := p.Slice(0, 3, 0, 3)
	var msvd mat.SVD
	if !msvd.Factorize(m, mat.SVDFull) {
		return nil, ErrDegenerate
	}
	var u, w mat.Dense
	msvd.UTo(&u)
	msvd.VTo(&w)
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(&u, w.T())
	if mat.Det(rot) < 0 {
		return nil, ErrDegenerate
	}
	return rot, nil
}

// EulerAngles decomposes R = Rz * Ry * Rx into degrees.
func EulerAngles(r mat.Matrix) Pose {
	sy := math.Hypot(r.At(0, 0), r.At(1, 0))
	var x, y, z float64
	if sy > 1e-6 {
		x = math.Atan2(r.At(2, 1), r.At(2, 2))
		y = math.Atan2(-r.At(2, 0), sy)
		z = math.Atan2(r.At(1, 0), r.At(0, 0))
	} else {
		x = math.Atan2(-r.At(1, 2), r.At(1, 1))
		y = math.Atan2(-r.At(2, 0), sy)
	}
	return Pose{X: degrees(x), Y: degrees(y), Z: degrees(z)}
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
