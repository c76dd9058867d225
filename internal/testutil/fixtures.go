// Package testutil provides shared landmark fixtures and fakes for tests.
package testutil

import (
	"image"
	"image/color"

	"DRIVER_MONITOR/go-backend/internal/models"
)

const (
	FrameWidth  = 640
	FrameHeight = 480

	meshSize = 478
)

// Eye and mouth openness values, in pixels at 640x480.
const (
	EyeOpen     = 5.0
	EyeClosed   = 1.0
	MouthClosed = 2.0
	MouthWide   = 40.0
)

// frontal holds the pixel positions of a face looking straight at the camera:
// eye outer corners (33, 263), nose tip (1), mouth corners (61, 291) and chin (199).
var frontal = map[int][2]float64{
	33:  {231.93, 173.46},
	263: {408.07, 173.46},
	1:   {320, 240},
	61:  {260.92, 299.08},
	291: {379.08, 299.08},
	199: {320, 374.95},
}

// FaceMesh builds a face mesh whose eye aspect ratio is eye/15 and whose mouth
// aspect ratio is 6*mouth/236 (both measured in pixels at 640x480).
func FaceMesh(eye, mouth float64) []models.Landmark {
	px := make(map[int][2]float64, 32)
	for idx, p := range frontal {
		px[idx] = p
	}

	l := frontal[33]
	px[160] = [2]float64{l[0] + 10, l[1] - eye}
	px[158] = [2]float64{l[0] + 20, l[1] - eye}
	px[133] = [2]float64{l[0] + 30, l[1]}
	px[153] = [2]float64{l[0] + 20, l[1] + eye}
	px[144] = [2]float64{l[0] + 10, l[1] + eye}

	r := frontal[263]
	px[362] = [2]float64{r[0] - 30, r[1]}
	px[385] = [2]float64{r[0] - 20, r[1] - eye}
	px[387] = [2]float64{r[0] - 10, r[1] - eye}
	px[373] = [2]float64{r[0] - 10, r[1] + eye}
	px[380] = [2]float64{r[0] - 20, r[1] + eye}

	m0, m1 := frontal[61], frontal[291]
	step := (m1[0] - m0[0]) / 4
	px[39] = [2]float64{m0[0] + step, m0[1] - mouth}
	px[0] = [2]float64{m0[0] + 2*step, m0[1] - mouth}
	px[269] = [2]float64{m0[0] + 3*step, m0[1] - mouth}
	px[405] = [2]float64{m0[0] + 3*step, m0[1] + mouth}
	px[17] = [2]float64{m0[0] + 2*step, m0[1] + mouth}
	px[181] = [2]float64{m0[0] + step, m0[1] + mouth}

	mesh := make([]models.Landmark, meshSize)
	for i := range mesh {
		mesh[i] = models.Landmark{X: 0.5, Y: 0.5}
	}
	for idx, p := range px {
		mesh[idx] = models.Landmark{X: p[0] / FrameWidth, Y: p[1] / FrameHeight}
	}
	return mesh
}

// AlertFace is a face with open eyes and a closed mouth.
func AlertFace() []models.Landmark { return FaceMesh(EyeOpen, MouthClosed) }

// DrowsyFace is a face with both eyes closed.
func DrowsyFace() []models.Landmark { return FaceMesh(EyeClosed, MouthClosed) }

// YawningFace is a face with open eyes and a wide open mouth.
func YawningFace() []models.Landmark { return FaceMesh(EyeOpen, MouthWide) }

// CollapsedFace has every landmark on the same point.
func CollapsedFace() []models.Landmark {
	return make([]models.Landmark, meshSize)
}

// BodyPose builds a 33 point skeleton with each wrist the given pixel
// distance straight below its ear.
func BodyPose(leftWristToEar, rightWristToEar float64) []models.Landmark {
	pose := make([]models.Landmark, 33)
	for i := range pose {
		pose[i] = models.Landmark{X: 0.5, Y: 0.8}
	}
	pose[7] = models.Landmark{X: 280.0 / FrameWidth, Y: 200.0 / FrameHeight}
	pose[8] = models.Landmark{X: 360.0 / FrameWidth, Y: 200.0 / FrameHeight}
	pose[15] = models.Landmark{X: 280.0 / FrameWidth, Y: (200 + leftWristToEar) / FrameHeight}
	pose[16] = models.Landmark{X: 360.0 / FrameWidth, Y: (200 + rightWristToEar) / FrameHeight}
	return pose
}

// Hand builds a 21 point hand around a centre point.
func Hand(cx, cy float64) []models.Landmark {
	hand := make([]models.Landmark, 21)
	for i := range hand {
		hand[i] = models.Landmark{X: cx + float64(i%5)*0.005, Y: cy + float64(i/5)*0.005}
	}
	return hand
}

// Frame returns a uniformly coloured test frame.
func Frame(shade uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	c := color.RGBA{R: shade, G: shade, B: shade, A: 255}
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
