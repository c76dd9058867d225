// Package geometry holds the pure landmark math used by the detectors: pixel
// distances, eye and mouth aspect ratios and the head pose solve.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"DRIVER_MONITOR/go-backend/internal/models"
)

var (
	// ErrDegenerate is returned when a reference distance or matrix collapses
	// and the ratio or angle would be NaN or infinite.
	ErrDegenerate = errors.New("geometry: degenerate landmark set")
	// ErrInsufficientPoints is returned when fewer landmarks than required are supplied.
	ErrInsufficientPoints = errors.New("geometry: insufficient landmarks")
)

// Distance is the Euclidean distance between two pixel points.
func Distance(p1, p2 r2.Vec) float64 {
	return r2.Norm(r2.Sub(p1, p2))
}

// EAR computes the eye aspect ratio over a 6-point eye contour ordered outer
// corner, two upper lid points, inner corner, two lower lid points.
func EAR(eye []r2.Vec) (float64, error) {
	if len(eye) != 6 {
		return 0, fmt.Errorf("ear needs 6 points, got %d: %w", len(eye), ErrInsufficientPoints)
	}
	horizontal := Distance(eye[0], eye[3])
	if horizontal == 0 {
		return 0, ErrDegenerate
	}
	return finite((Distance(eye[1], eye[5]) + Distance(eye[2], eye[4])) / (2 * horizontal))
}

// MAR computes the mouth aspect ratio over an 8-point outer lip contour.
func MAR(mouth []r2.Vec) (float64, error) {
	if len(mouth) != 8 {
		return 0, fmt.Errorf("mar needs 8 points, got %d: %w", len(mouth), ErrInsufficientPoints)
	}
	horizontal := Distance(mouth[0], mouth[4])
	if horizontal == 0 {
		return 0, ErrDegenerate
	}
	vertical := Distance(mouth[1], mouth[7]) + Distance(mouth[2], mouth[6]) + Distance(mouth[3], mouth[5])
	return finite(vertical / (2 * horizontal))
}

// Pixels picks the landmarks at indices and scales them to pixel space.
func Pixels(landmarks []models.Landmark, indices []int, width, height int) ([]r2.Vec, error) {
	out := make([]r2.Vec, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(landmarks) {
			return nil, fmt.Errorf("landmark %d of %d: %w", idx, len(landmarks), ErrInsufficientPoints)
		}
		x, y := landmarks[idx].Pixel(width, height)
		out[i] = r2.Vec{X: x, Y: y}
	}
	return out, nil
}

func finite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrDegenerate
	}
	return v, nil
}
