// Package framebuffer holds the latest output of the detection loop for any
// number of concurrent readers.
//
// The loop is the only writer. Every field is an independent snapshot pointer:
// a Set publishes a fully built value and readers get either the previous or
// the new one, never a mix. Published frames must not be modified afterwards.
package framebuffer

import (
	"image"
	"sync/atomic"
	"time"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// Frame is an immutable published image.
type Frame struct {
	Image     *image.RGBA
	Seq       uint64
	Timestamp time.Time
}

// Kind selects one of the published video feeds.
type Kind int

const (
	Raw Kind = iota
	Processed
	Debug
)

func (k Kind) String() string {
	switch k {
	case Raw:
		return "raw"
	case Processed:
		return "processed"
	case Debug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseKind maps a feed name to its Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "raw":
		return Raw, true
	case "processed":
		return Processed, true
	case "debug":
		return Debug, true
	}
	return 0, false
}

type SharedFrameState struct {
	frames  [3]atomic.Pointer[Frame]
	seq     [3]atomic.Uint64
	metrics atomic.Pointer[models.FacialMetrics]
	recent  atomic.Pointer[models.RecentEvent]
}

func New() *SharedFrameState {
	return &SharedFrameState{}
}

// SetFrame publishes img as the latest frame of kind k. A nil img is ignored.
func (s *SharedFrameState) SetFrame(k Kind, img *image.RGBA, ts time.Time) {
	if img == nil || !valid(k) {
		return
	}
	s.frames[k].Store(&Frame{Image: img, Seq: s.seq[k].Add(1), Timestamp: ts})
}

// Frame returns the latest frame of kind k, or nil before the first write.
func (s *SharedFrameState) Frame(k Kind) *Frame {
	if !valid(k) {
		return nil
	}
	return s.frames[k].Load()
}

func (s *SharedFrameState) SetRawFrame(img *image.RGBA, ts time.Time)       { s.SetFrame(Raw, img, ts) }
func (s *SharedFrameState) SetProcessedFrame(img *image.RGBA, ts time.Time) { s.SetFrame(Processed, img, ts) }
func (s *SharedFrameState) SetDebugFrame(img *image.RGBA, ts time.Time)     { s.SetFrame(Debug, img, ts) }

func (s *SharedFrameState) RawFrame() *Frame       { return s.Frame(Raw) }
func (s *SharedFrameState) ProcessedFrame() *Frame { return s.Frame(Processed) }
func (s *SharedFrameState) DebugFrame() *Frame     { return s.Frame(Debug) }

func (s *SharedFrameState) SetFacialMetrics(m models.FacialMetrics) {
	s.metrics.Store(&m)
}

// FacialMetrics returns the latest metrics; ok is false before the first write.
func (s *SharedFrameState) FacialMetrics() (models.FacialMetrics, bool) {
	m := s.metrics.Load()
	if m == nil {
		return models.FacialMetrics{}, false
	}
	return *m, true
}

// SetRecentEvent publishes the event ids created this iteration, merged with
// any ids not yet taken. An empty value is ignored.
func (s *SharedFrameState) SetRecentEvent(e models.RecentEvent) {
	if e.Empty() {
		return
	}
	for {
		old := s.recent.Load()
		merged := e
		if old != nil {
			if merged.DrowsinessEvent == "" {
				merged.DrowsinessEvent = old.DrowsinessEvent
			}
			if merged.YawningEvent == "" {
				merged.YawningEvent = old.YawningEvent
			}
		}
		if s.recent.CompareAndSwap(old, &merged) {
			return
		}
	}
}

// TakeRecentEvent returns the pending event ids and clears them, so each id is
// delivered once.
func (s *SharedFrameState) TakeRecentEvent() (models.RecentEvent, bool) {
	e := s.recent.Swap(nil)
	if e == nil {
		return models.RecentEvent{}, false
	}
	return *e, true
}

// Clear drops every published value, e.g. after the loop stops.
func (s *SharedFrameState) Clear() {
	for i := range s.frames {
		s.frames[i].Store(nil)
	}
	s.metrics.Store(nil)
	s.recent.Store(nil)
}

func valid(k Kind) bool {
	return k >= Raw && k <= Debug
}
