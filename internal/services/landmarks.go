package services

import (
	"context"
	"errors"
	"image"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// ErrNoFrame is returned when a frame source has nothing to deliver.
var ErrNoFrame = errors.New("services: no frame available")

// FaceLandmarker returns one face mesh per detected face, driver first.
type FaceLandmarker interface {
	DetectFaces(ctx context.Context, frame *image.RGBA) ([][]models.Landmark, error)
}

// PoseLandmarker returns the body skeleton of the single tracked person, or
// nil when nobody is visible.
type PoseLandmarker interface {
	DetectPose(ctx context.Context, frame *image.RGBA) ([]models.Landmark, error)
}

// HandLandmarker returns one landmark set per detected hand.
type HandLandmarker interface {
	DetectHands(ctx context.Context, frame *image.RGBA) ([][]models.Landmark, error)
}

// LandmarkProvider is an inference backend. "Nothing found" is an empty
// result, never an error.
type LandmarkProvider interface {
	FaceLandmarker
	PoseLandmarker
	HandLandmarker
	Ready(ctx context.Context) bool
	Close() error
}

// NoopProvider finds nothing. It backs INFERENCE_ENGINE=none.
type NoopProvider struct{}

func (NoopProvider) DetectFaces(context.Context, *image.RGBA) ([][]models.Landmark, error) {
	return nil, nil
}

func (NoopProvider) DetectPose(context.Context, *image.RGBA) ([]models.Landmark, error) {
	return nil, nil
}

func (NoopProvider) DetectHands(context.Context, *image.RGBA) ([][]models.Landmark, error) {
	return nil, nil
}

func (NoopProvider) Ready(context.Context) bool { return true }

func (NoopProvider) Close() error { return nil }
