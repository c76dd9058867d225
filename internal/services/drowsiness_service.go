package services

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/alert"
	"DRIVER_MONITOR/go-backend/internal/annotate"
	"DRIVER_MONITOR/go-backend/internal/detection"
	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/timeutil"
)

// EventStore persists drowsiness events.
type EventStore interface {
	CreateEvent(ctx context.Context, e models.DrowsinessEvent) (models.DrowsinessEvent, error)
}

// ImageSink stores the frame that triggered an event and returns its path.
type ImageSink interface {
	Save(img image.Image, id uuid.UUID, eventType models.EventType) (string, error)
}

// EventPublisher forwards created events to other systems.
type EventPublisher interface {
	Publish(e models.DrowsinessEvent) error
}

// Alerter drives the buzzer. Start must be idempotent for the same pattern.
type Alerter interface {
	Start(p buzzer.Pattern)
	Stop()
}

type DrowsinessServiceOptions struct {
	VehicleID string
	Store     EventStore
	Images    ImageSink
	Publisher EventPublisher
	Alerter   Alerter
	Clock     timeutil.Clock
	Metrics   *Metrics

	// ApplyMasking shades the driver-seat triangle on the debug frame.
	ApplyMasking bool
}

// DrowsinessService runs the face detector on a frame and escalates the
// buzzer while the driver stays drowsy. It creates at most one event per
// continuous drowsy or yawning episode.
type DrowsinessService struct {
	landmarks FaceLandmarker
	detector  *detection.DrowsinessDetector
	opts      DrowsinessServiceOptions

	// loop goroutine only
	drowsyStart    *time.Time
	stage          alert.Stage
	drowsinessSent bool
	yawningSent    bool

	// alertMu orders Pause against a Start issued by an in-flight frame.
	alertMu      sync.Mutex
	resetPending atomic.Bool
}

func NewDrowsinessService(landmarks FaceLandmarker, detector *detection.DrowsinessDetector, opts DrowsinessServiceOptions) *DrowsinessService {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &DrowsinessService{landmarks: landmarks, detector: detector, opts: opts}
}

// ProcessFrame evaluates frame, drives the alert and draws the faces onto
// processed when it is not nil. A frame without faces changes nothing.
func (s *DrowsinessService) ProcessFrame(ctx context.Context, frame, processed *image.RGBA) (*models.DrowsinessDetectionResult, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	if s.resetPending.Swap(false) {
		s.reset()
	}

	faces, err := s.landmarks.DetectFaces(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	b := frame.Bounds()
	states := s.detector.Evaluate(faces, b.Dx(), b.Dy(), s.opts.Clock.Now())
	result := &models.DrowsinessDetectionResult{Faces: states}

	if primary, ok := result.Primary(); ok {
		s.escalate(primary)
		if primary.IsDrowsy {
			if !s.drowsinessSent {
				result.DrowsinessEvent = s.createEvent(ctx, frame, models.EventDrowsiness, primary)
				s.drowsinessSent = true
			}
		} else {
			s.drowsinessSent = false
		}

		if primary.IsYawning {
			if !s.yawningSent {
				log.Info().Msg("Driver appears to be yawning")
				result.YawningEvent = s.createEvent(ctx, frame, models.EventYawning, primary)
				s.yawningSent = true
			}
		} else {
			s.yawningSent = false
		}
	}

	result.DebugFrame = s.draw(frame, states)
	if processed != nil {
		for _, f := range states {
			annotate.Face(processed, f)
		}
	}
	return result, nil
}

// escalate tracks the continuous drowsy duration of the driver face and
// binds the buzzer pattern for the current stage.
func (s *DrowsinessService) escalate(face models.FaceState) {
	if !face.IsDrowsy {
		if s.drowsyStart != nil {
			log.Info().
				Dur("duration", s.opts.Clock.Since(*s.drowsyStart)).
				Msg("Driver regained alertness")
			s.drowsyStart = nil
			s.stage = alert.StageNone
			s.opts.Alerter.Stop()
		}
		return
	}

	if s.drowsyStart == nil {
		now := s.opts.Clock.Now()
		s.drowsyStart = &now
	}
	d := s.opts.Clock.Since(*s.drowsyStart)
	stage := alert.StageFor(d)
	if stage != s.stage {
		log.Warn().Stringer("stage", stage).Dur("duration", d).Msg("Drowsiness alert escalated")
		s.stage = stage
	}
	if p, ok := stage.Pattern(); ok {
		s.alertMu.Lock()
		defer s.alertMu.Unlock()
		// paused while this frame was in flight
		if s.resetPending.Load() {
			return
		}
		s.opts.Alerter.Start(p)
	}
}

// Stage returns the current alert stage. Loop goroutine only.
func (s *DrowsinessService) Stage() alert.Stage {
	return s.stage
}

// Pause silences the buzzer and makes the next frame start a fresh episode.
// Safe to call from any goroutine.
func (s *DrowsinessService) Pause() {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.resetPending.Store(true)
	s.opts.Alerter.Stop()
}

func (s *DrowsinessService) reset() {
	s.detector.Reset()
	s.drowsyStart = nil
	s.stage = alert.StageNone
	s.drowsinessSent = false
	s.yawningSent = false
}

// createEvent saves the frame and stores the event. It returns the event id,
// or "" when the event could not be stored.
func (s *DrowsinessService) createEvent(ctx context.Context, frame *image.RGBA, eventType models.EventType, face models.FaceState) string {
	id, err := uuid.NewV7()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate event id")
		s.opts.Metrics.IncrementEventErrors()
		return ""
	}

	var path string
	if s.opts.Images != nil {
		path, err = s.opts.Images.Save(frame, id, eventType)
		if err != nil {
			log.Error().Err(err).Str("event_id", id.String()).Msg("Failed to save event image")
		}
	}

	event := models.DrowsinessEvent{
		ID:        id,
		VehicleID: s.opts.VehicleID,
		Timestamp: s.opts.Clock.Now(),
		ImagePath: path,
		EAR:       face.EAR,
		MAR:       face.MAR,
		EventType: eventType,
	}
	if s.opts.Store != nil {
		stored, err := s.opts.Store.CreateEvent(ctx, event)
		if err != nil {
			log.Error().Err(err).Str("event_id", id.String()).Str("event_type", string(eventType)).Msg("Failed to store event")
			s.opts.Metrics.IncrementEventErrors()
			return ""
		}
		event = stored
	}
	s.opts.Metrics.IncrementEvents()
	log.Info().Str("event_id", event.ID.String()).Str("event_type", string(eventType)).Float64("ear", face.EAR).Float64("mar", face.MAR).Msg("Event created")

	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.Publish(event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to publish event")
		}
	}
	return event.ID.String()
}

func (s *DrowsinessService) draw(frame *image.RGBA, faces []models.FaceState) *image.RGBA {
	debug := annotate.Clone(frame)
	if s.opts.ApplyMasking {
		annotate.Mask(debug)
	}
	for _, f := range faces {
		annotate.Face(debug, f)
	}
	if len(faces) > 0 && faces[0].RatiosValid {
		annotate.Text(debug, 10, debug.Bounds().Dy()-30, fmt.Sprintf("EAR: %.3f", faces[0].EAR), annotate.White)
		annotate.Text(debug, 10, debug.Bounds().Dy()-12, fmt.Sprintf("MAR: %.3f", faces[0].MAR), annotate.White)
	}
	return debug
}
