package services

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/annotate"
	"DRIVER_MONITOR/go-backend/internal/framebuffer"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/timeutil"
)

const (
	captureBackoff     = 10 * time.Millisecond
	defaultJoinTimeout = 5 * time.Second
)

// Camera yields frames. Capture returns an error when no frame is available.
type Camera interface {
	Capture() (*image.RGBA, error)
}

type LoopConfig struct {
	Drowsiness  bool
	Phone       bool
	Hands       bool
	Interval    time.Duration
	JoinTimeout time.Duration
}

// DetectionLoop owns the camera and runs the detectors on a single
// goroutine. Control methods are safe to call concurrently.
type DetectionLoop struct {
	camera     Camera
	drowsiness *DrowsinessService
	phone      *PhoneService
	hands      *HandsService
	frames     *framebuffer.SharedFrameState
	metrics    *Metrics
	clock      timeutil.Clock
	cfg        LoopConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running  atomic.Bool
	watchers []func(models.DetectionStatus)

	// loop goroutine only
	prevTick time.Time
}

func NewDetectionLoop(
	camera Camera,
	drowsiness *DrowsinessService,
	phone *PhoneService,
	hands *HandsService,
	frames *framebuffer.SharedFrameState,
	metrics *Metrics,
	clock timeutil.Clock,
	cfg LoopConfig,
) *DetectionLoop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	log.Info().
		Bool("drowsiness_model_run", cfg.Drowsiness).
		Bool("phone_detection_model_run", cfg.Phone).
		Bool("hands_detection_model_run", cfg.Hands).
		Dur("interval", cfg.Interval).
		Msg("Loaded pipeline config")
	return &DetectionLoop{
		camera:     camera,
		drowsiness: drowsiness,
		phone:      phone,
		hands:      hands,
		frames:     frames,
		metrics:    metrics,
		clock:      clock,
		cfg:        cfg,
	}
}

// OnStatusChange registers fn to be called after every control operation
// and when the loop goroutine exits. Register before Start.
func (l *DetectionLoop) OnStatusChange(fn func(models.DetectionStatus)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Start spawns the loop goroutine. It returns false if a loop is still alive.
func (l *DetectionLoop) Start() bool {
	l.mu.Lock()
	if l.aliveLocked() {
		l.mu.Unlock()
		log.Warn().Msg("Attempted to start detection, but loop is already running")
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.running.Store(true)
	l.mu.Unlock()

	go l.run(ctx, done)
	log.Info().Msg("Started detection loop")
	l.notify()
	return true
}

// Stop cancels the loop and waits up to the join timeout for it to exit.
// It returns false when the loop did not exit in time; the goroutine is
// then left to finish on its own.
func (l *DetectionLoop) Stop() bool {
	log.Info().Msg("Stopping detection loop")
	l.running.Store(false)

	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	joined := true
	if cancel != nil {
		cancel()
		select {
		case <-done:
			log.Info().Msg("Detection loop joined")
		case <-time.After(l.cfg.JoinTimeout):
			joined = false
			log.Error().Dur("timeout", l.cfg.JoinTimeout).Msg("Detection loop did not exit in time")
		}
	}
	if l.drowsiness != nil {
		l.drowsiness.Pause()
	}
	l.notify()
	return joined
}

// Restart stops the loop and starts a new one. It returns false if the old
// loop is still alive after the join timeout, so two loops never share the camera.
func (l *DetectionLoop) Restart() bool {
	log.Info().Msg("Restarting detection loop")
	l.Stop()
	return l.Start()
}

// Pause keeps the goroutine alive but skips processing and silences the buzzer.
func (l *DetectionLoop) Pause() bool {
	l.running.Store(false)
	if l.drowsiness != nil {
		l.drowsiness.Pause()
	}
	log.Info().Msg("Detection paused")
	l.notify()
	return true
}

func (l *DetectionLoop) Resume() bool {
	l.running.Store(true)
	log.Info().Msg("Detection resumed")
	l.notify()
	return true
}

func (l *DetectionLoop) Status() models.DetectionStatus {
	l.mu.Lock()
	alive := l.aliveLocked()
	l.mu.Unlock()
	return models.DetectionStatus{IsAlive: alive, IsRunning: l.running.Load()}
}

func (l *DetectionLoop) aliveLocked() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *DetectionLoop) notify() {
	l.mu.Lock()
	watchers := append([]func(models.DetectionStatus){}, l.watchers...)
	l.mu.Unlock()
	if len(watchers) == 0 {
		return
	}
	st := l.Status()
	for _, fn := range watchers {
		fn(st)
	}
}

func (l *DetectionLoop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Detection loop crashed")
		}
		close(done)
		l.notify()
	}()

	l.prevTick = l.clock.Now()
	for ctx.Err() == nil {
		if !l.running.Load() {
			sleep(ctx, l.cfg.Interval+captureBackoff)
			continue
		}

		frame, err := l.camera.Capture()
		if err != nil || frame == nil {
			l.metrics.IncrementCaptureFailures()
			sleep(ctx, captureBackoff)
			continue
		}

		l.iterate(ctx, frame)
		sleep(ctx, l.cfg.Interval)
	}
}

// iterate runs the enabled detectors in order on one frame and publishes
// the results once all of them have finished.
func (l *DetectionLoop) iterate(ctx context.Context, frame *image.RGBA) {
	start := l.clock.Now()
	processed := annotate.Clone(frame)

	var (
		drowsy *models.DrowsinessDetectionResult
		phone  *models.PhoneDetectionResult
	)
	if l.cfg.Drowsiness && l.drowsiness != nil {
		l.guard("drowsiness", func() (err error) {
			drowsy, err = l.drowsiness.ProcessFrame(ctx, frame, processed)
			return err
		})
	}
	if l.cfg.Phone && l.phone != nil {
		l.guard("phone", func() (err error) {
			phone, err = l.phone.ProcessFrame(ctx, frame, processed)
			return err
		})
	}
	if l.cfg.Hands && l.hands != nil {
		l.guard("hands", func() error {
			_, err := l.hands.ProcessFrame(ctx, frame, processed)
			return err
		})
	}

	now := l.clock.Now()
	var fps float64
	if dt := now.Sub(l.prevTick).Seconds(); dt > 0 {
		fps = 1 / dt
	}
	l.prevTick = now
	annotate.FPS(processed, fps)

	l.frames.SetRawFrame(frame, now)
	l.frames.SetProcessedFrame(processed, now)
	if drowsy != nil && drowsy.DebugFrame != nil {
		l.frames.SetDebugFrame(drowsy.DebugFrame, now)
	}

	fm := models.FacialMetrics{IsCalling: phone.IsCalling(), FPS: fps}
	if face, ok := drowsy.Primary(); ok {
		fm.FaceDetected = true
		fm.EAR = face.EAR
		fm.MAR = face.MAR
		fm.IsDrowsy = face.IsDrowsy
		fm.IsYawning = face.IsYawning
	}
	l.frames.SetFacialMetrics(fm)
	if drowsy != nil {
		l.frames.SetRecentEvent(models.RecentEvent{
			DrowsinessEvent: drowsy.DrowsinessEvent,
			YawningEvent:    drowsy.YawningEvent,
		})
	}

	l.metrics.IncrementFrames()
	l.metrics.RecordLatency(now.Sub(start))
	l.metrics.SetFPS(fps)
}

// guard runs one detector, turning an error or panic into an empty result
// for this iteration.
func (l *DetectionLoop) guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.IncrementDetectorErrors()
			log.Error().Str("detector", name).Interface("panic", r).Msg("Detector panicked")
		}
	}()
	if err := fn(); err != nil {
		l.metrics.IncrementDetectorErrors()
		log.Error().Err(err).Str("detector", name).Msg("Detector failed")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
