package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
)

// ErrBusy is returned by BeepOnce while an alert is sounding, or when an
// alert cut the beep short.
var ErrBusy = errors.New("alert: buzzer busy")

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Actuator runs at most one goroutine that repeats the bound pattern until
// Stop. Rebinding a different pattern takes effect after the current cycle.
type Actuator struct {
	buzzer buzzer.Buzzer

	mu      sync.Mutex
	pattern *buzzer.Pattern
	keep    bool
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	// one-off beeps in flight, cancelled by Start
	manual   map[uint64]context.CancelFunc
	manualID uint64

	// hw serializes hardware access between the loop and one-off beeps.
	hw      sync.Mutex
	wg      sync.WaitGroup
	spawned atomic.Int64
}

func NewActuator(b buzzer.Buzzer) *Actuator {
	return &Actuator{buzzer: b}
}

// Start binds p and makes sure the actuator goroutine is running.
func (a *Actuator) Start(p buzzer.Pattern) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.keep = true
	for id, cancel := range a.manual {
		cancel()
		delete(a.manual, id)
	}
	if a.running {
		if a.pattern == nil || *a.pattern != p {
			log.Info().Stringer("pattern", p).Msg("Buzzer pattern changed")
			a.pattern = &p
		}
		if a.ctx.Err() != nil {
			// Stopped but not yet exited: re-arm the same goroutine.
			a.ctx, a.cancel = context.WithCancel(context.Background())
		}
		return
	}

	a.pattern = &p
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.running = true
	a.spawned.Add(1)
	a.wg.Add(1)
	log.Info().Stringer("pattern", p).Msg("Buzzer started")
	go a.loop()
}

// Stop clears the bound pattern, interrupts the running beep and switches the
// output off.
func (a *Actuator) Stop() {
	a.mu.Lock()
	wasActive := a.keep
	a.keep = false
	a.pattern = nil
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	if err := a.buzzer.Off(); err != nil {
		log.Error().Err(err).Msg("Buzzer cleanup failed")
	}
	if wasActive {
		log.Info().Msg("Buzzer stopped")
	}
}

// Active reports the bound pattern while an alert is sounding.
func (a *Actuator) Active() (buzzer.Pattern, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.keep || a.pattern == nil {
		return buzzer.Pattern{}, false
	}
	return *a.pattern, true
}

// Running reports whether the actuator goroutine is alive.
func (a *Actuator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Spawned counts actuator goroutines started over the lifetime of a.
func (a *Actuator) Spawned() int64 {
	return a.spawned.Load()
}

// BeepOnce plays p synchronously unless an alert is sounding.
func (a *Actuator) BeepOnce(ctx context.Context, p buzzer.Pattern) error {
	a.mu.Lock()
	if a.keep && a.pattern != nil {
		a.mu.Unlock()
		return ErrBusy
	}
	beepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.manual == nil {
		a.manual = make(map[uint64]context.CancelFunc)
	}
	a.manualID++
	id := a.manualID
	a.manual[id] = cancel
	a.mu.Unlock()

	a.hw.Lock()
	err := a.buzzer.Beep(beepCtx, p)
	a.hw.Unlock()

	a.mu.Lock()
	_, own := a.manual[id]
	delete(a.manual, id)
	a.mu.Unlock()

	if !own && ctx.Err() == nil {
		log.Warn().Stringer("pattern", p).Msg("Manual beep pre-empted by alert")
		return ErrBusy
	}
	return err
}

// Close stops the alert and waits for the goroutine to exit.
func (a *Actuator) Close() error {
	a.Stop()
	a.wg.Wait()
	return a.buzzer.Close()
}

func (a *Actuator) loop() {
	defer a.wg.Done()

	backoff := minBackoff
	for {
		a.mu.Lock()
		if !a.keep || a.pattern == nil {
			a.running = false
			a.mu.Unlock()
			return
		}
		p, ctx := *a.pattern, a.ctx
		a.mu.Unlock()

		a.hw.Lock()
		err := a.buzzer.Beep(ctx, p)
		a.hw.Unlock()

		if err == nil || ctx.Err() != nil {
			backoff = minBackoff
			continue
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("Buzzer beep failed")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
		backoff = min(backoff*2, maxBackoff)
	}
}
