package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/timeutil"
)

// smallFrame keeps the 4:3 aspect of the fixtures so ratios are unchanged.
func smallFrame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

// scriptedProvider answers with the landmarks registered for each frame.
type scriptedProvider struct {
	mu    sync.Mutex
	faces map[*image.RGBA][][]models.Landmark
	pose  map[*image.RGBA][]models.Landmark
	hands map[*image.RGBA][][]models.Landmark
	err   error
	panic bool

	// when gate is set DetectFaces signals entered and waits for gate
	gate    chan struct{}
	entered chan struct{}
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		faces: map[*image.RGBA][][]models.Landmark{},
		pose:  map[*image.RGBA][]models.Landmark{},
		hands: map[*image.RGBA][][]models.Landmark{},
	}
}

func (p *scriptedProvider) DetectFaces(_ context.Context, frame *image.RGBA) ([][]models.Landmark, error) {
	p.mu.Lock()
	if p.panic {
		p.mu.Unlock()
		panic("model crashed")
	}
	faces, err := p.faces[frame], p.err
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return faces, nil
}

// hold makes the next DetectFaces calls block until release is called.
func (p *scriptedProvider) hold() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.gate, p.entered = gate, make(chan struct{}, 1)
	return p.entered, func() {
		p.mu.Lock()
		p.gate, p.entered = nil, nil
		p.mu.Unlock()
		close(gate)
	}
}

func (p *scriptedProvider) DetectPose(_ context.Context, frame *image.RGBA) ([]models.Landmark, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pose[frame], nil
}

func (p *scriptedProvider) DetectHands(_ context.Context, frame *image.RGBA) ([][]models.Landmark, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hands[frame], nil
}

func (p *scriptedProvider) Ready(context.Context) bool { return true }
func (p *scriptedProvider) Close() error               { return nil }

type fakeAlerter struct {
	mu      sync.Mutex
	pattern *buzzer.Pattern
	starts  int
	stops   int
}

func (a *fakeAlerter) Start(p buzzer.Pattern) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pattern = &p
	a.starts++
}

func (a *fakeAlerter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pattern = nil
	a.stops++
}

func (a *fakeAlerter) active() (buzzer.Pattern, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pattern == nil {
		return buzzer.Pattern{}, false
	}
	return *a.pattern, true
}

type fakeStore struct {
	mu     sync.Mutex
	events []models.DrowsinessEvent
	err    error
}

func (s *fakeStore) CreateEvent(_ context.Context, e models.DrowsinessEvent) (models.DrowsinessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.DrowsinessEvent{}, s.err
	}
	s.events = append(s.events, e)
	return e, nil
}

func (s *fakeStore) count(t models.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type fakeImages struct {
	mu    sync.Mutex
	saved []uuid.UUID
	err   error
}

func (f *fakeImages) Save(_ image.Image, id uuid.UUID, _ models.EventType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, id)
	return "static/events/" + id.String() + ".jpg", nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.DrowsinessEvent
}

func (p *fakePublisher) Publish(e models.DrowsinessEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// fakeCamera plays frames in order, advancing clock by step per capture,
// then reports no frame.
type fakeCamera struct {
	mu     sync.Mutex
	frames []*image.RGBA
	next   int
	clock  *timeutil.MockClock
	step   time.Duration
}

func (c *fakeCamera) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.frames) {
		return nil, errors.New("end of stream")
	}
	f := c.frames[c.next]
	c.next++
	if c.clock != nil {
		c.clock.Advance(c.step)
	}
	return f, nil
}

func (c *fakeCamera) served() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
