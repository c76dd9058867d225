// Package eventimage stores the frame captured on an event edge and optionally
// forwards it to the fleet server.
package eventimage

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/models"
)

const jpegQuality = 90

// ErrOutsideDir is returned for image paths that do not point into the saver's directory.
var ErrOutsideDir = errors.New("eventimage: path outside image directory")

// Saver writes event images to {dir}/{id}.jpg.
type Saver struct {
	dir      string
	uploader *Uploader
}

// NewSaver returns a saver rooted at dir. uploader may be nil.
func NewSaver(dir string, uploader *Uploader) *Saver {
	return &Saver{dir: dir, uploader: uploader}
}

// Path returns where the image for id is stored.
func (s *Saver) Path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".jpg")
}

// Save encodes img as JPEG and queues it for upload when enabled.
func (s *Saver) Save(img image.Image, id uuid.UUID, eventType models.EventType) (string, error) {
	if img == nil {
		return "", fmt.Errorf("save event image %s: no frame", id)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	path := s.Path(id)
	tmp, err := os.CreateTemp(s.dir, ".event-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encode event image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write event image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store event image: %w", err)
	}

	log.Info().Str("event_id", id.String()).Str("event_type", string(eventType)).Str("path", path).Msg("Event image saved")
	if s.uploader != nil {
		s.uploader.Enqueue(path, eventType)
	}
	return path, nil
}

// Resolve checks that path names a file directly inside the image directory
// and returns it cleaned.
func (s *Saver) Resolve(path string) (string, error) {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("resolve image dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve image path: %w", err)
	}
	if filepath.Dir(abs) != dir {
		return "", fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}
	return filepath.Clean(path), nil
}

// Remove deletes the image file at path. A missing file is not an error;
// a path outside the image directory is.
func (s *Saver) Remove(path string) error {
	if path == "" {
		return nil
	}
	path, err := s.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
