// Package annotate draws detection results onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"DRIVER_MONITOR/go-backend/internal/models"
)

var (
	Green   = color.RGBA{G: 255, A: 255}
	Red     = color.RGBA{R: 255, A: 255}
	Magenta = color.RGBA{R: 255, B: 255, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, A: 255}
	Cyan    = color.RGBA{G: 255, B: 255, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Face mesh contours drawn on each face.
var (
	leftEyeContour  = []int{33, 246, 161, 160, 159, 158, 157, 173, 133, 155, 154, 153, 145, 144, 163, 7}
	rightEyeContour = []int{263, 466, 388, 387, 386, 385, 384, 398, 362, 382, 381, 380, 374, 373, 390, 249}
	outerLips       = []int{61, 185, 40, 39, 37, 0, 267, 269, 270, 409, 291, 375, 321, 405, 314, 17, 84, 181, 91, 146}
)

// Clone returns a copy of src that can be drawn on.
func Clone(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// Face draws the bounding box, eye and lip contours, state labels and gaze
// direction for one face.
func Face(img *image.RGBA, f models.FaceState) {
	if img == nil || len(f.Landmarks) == 0 {
		return
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	box := bounds(f.Landmarks, w, h)
	Rect(img, box, Green)
	Text(img, box.Min.X, box.Min.Y-6, fmt.Sprintf("Face %d", f.FaceID), Green)

	for _, contour := range [][]int{leftEyeContour, rightEyeContour, outerLips} {
		for _, idx := range contour {
			if idx < len(f.Landmarks) {
				x, y := f.Landmarks[idx].Pixel(w, h)
				Dot(img, int(x), int(y), 1, Cyan)
			}
		}
	}

	x := box.Max.X + 10
	if f.PoseValid {
		Text(img, x, box.Min.Y+20, "Looking "+f.Direction, Red)
	}
	if f.IsDrowsy {
		Text(img, x, box.Min.Y+45, "Drowsy!", Red)
	}
	if f.IsYawning {
		Text(img, x, box.Min.Y+70, "Yawning!", Magenta)
	}
}

// Phone marks the ears and wrists of the pose and labels a call.
func Phone(img *image.RGBA, p models.PhoneState, ears, wrists []int) {
	if img == nil || len(p.Landmarks) == 0 {
		return
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for _, idx := range append(append([]int{}, ears...), wrists...) {
		if idx < len(p.Landmarks) {
			x, y := p.Landmarks[idx].Pixel(w, h)
			Dot(img, int(x), int(y), 4, Yellow)
		}
	}
	if p.IsCalling {
		label := "Calling!"
		if p.Distance != nil {
			label = fmt.Sprintf("Calling! (%.0fpx)", *p.Distance)
		}
		Text(img, 10, 40, label, Red)
	}
}

// Hand marks every landmark of one hand.
func Hand(img *image.RGBA, hs models.HandState) {
	if img == nil {
		return
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for _, l := range hs.Landmarks {
		x, y := l.Pixel(w, h)
		Dot(img, int(x), int(y), 2, Magenta)
	}
}

// FPS writes the loop rate in the top left corner.
func FPS(img *image.RGBA, fps float64) {
	if img == nil {
		return
	}
	Text(img, 10, 20, fmt.Sprintf("FPS : %.2f", fps), Green)
}

// Text draws s with its baseline at (x, y).
func Text(img *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// Rect draws a one pixel outline of r clipped to img.
func Rect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

// Mask halves the brightness inside the triangle spanned by the bottom
// corners and the top middle of img, outlines it and marks the apex.
func Mask(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return
	}
	apex := w / 2
	for y := 0; y < h; y++ {
		t := float64(y) / float64(h-1)
		xl := apex - int(float64(apex)*t+0.5)
		xr := apex + int(float64(w-1-apex)*t+0.5)
		for x := xl; x <= xr; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.Pix[i] /= 2
			img.Pix[i+1] /= 2
			img.Pix[i+2] /= 2
		}
		for _, x := range []int{xl, xl + 1, xr - 1, xr} {
			if x >= 0 && x < w {
				img.SetRGBA(b.Min.X+x, b.Min.Y+y, Green)
			}
		}
	}
	for x := 0; x < w; x++ {
		img.SetRGBA(b.Min.X+x, b.Max.Y-1, Green)
	}
	Dot(img, b.Min.X+apex, b.Min.Y, 6, Red)
}

// Dot fills a square of the given radius around (x, y).
func Dot(img *image.RGBA, x, y, radius int, c color.RGBA) {
	r := image.Rect(x-radius, y-radius, x+radius+1, y+radius+1)
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func bounds(landmarks []models.Landmark, w, h int) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, l := range landmarks {
		x, y := l.Pixel(w, h)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(int(minX), int(minY), int(maxX)+1, int(maxY)+1)
}
