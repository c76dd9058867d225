// Package camera captures frames from a local device, file or stream URL via OpenCV.
package camera

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device yields no frame.
var ErrNoFrame = errors.New("camera: no frame")

type Options struct {
	Source string
	Width  int
	Height int
	Mirror bool
}

// Camera owns one VideoCapture. Capture must not be called concurrently
// with Close.
type Camera struct {
	mu   sync.Mutex
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	flip gocv.Mat
	opts Options
}

// Open opens opts.Source. A numeric source selects a device index.
func Open(opts Options) (*Camera, error) {
	var (
		cap *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(opts.Source); convErr == nil {
		cap, err = gocv.OpenVideoCapture(idx)
	} else {
		cap, err = gocv.OpenVideoCapture(opts.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("open video source %q: %w", opts.Source, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video source not opened: %s", opts.Source)
	}
	if opts.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}
	if opts.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	log.Info().
		Str("source", opts.Source).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Bool("mirror", opts.Mirror).
		Msg("Camera opened")

	return &Camera{cap: cap, mat: gocv.NewMat(), flip: gocv.NewMat(), opts: opts}, nil
}

// Capture reads the next frame, mirrored horizontally when configured.
func (c *Camera) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil, ErrNoFrame
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}

	src := c.mat
	if c.opts.Mirror {
		gocv.Flip(c.mat, &c.flip, 1)
		src = c.flip
	}
	img, err := src.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	c.mat.Close()
	c.flip.Close()
	err := c.cap.Close()
	c.cap = nil
	log.Info().Msg("Camera closed")
	return err
}
