// Package alert turns a continuous drowsy duration into an escalating buzzer
// pattern and owns the goroutine that drives the buzzer.
package alert

import (
	"time"

	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
)

type Stage int

const (
	StageNone Stage = iota
	Stage1
	Stage2
	Stage3
)

// Stage boundaries, closed at the lower end.
const (
	Stage1After = 2 * time.Second
	Stage2After = 5 * time.Second
	Stage3After = 10 * time.Second
)

// StageFor selects the alert stage for a continuous drowsy duration.
func StageFor(d time.Duration) Stage {
	switch {
	case d >= Stage3After:
		return Stage3
	case d >= Stage2After:
		return Stage2
	case d >= Stage1After:
		return Stage1
	default:
		return StageNone
	}
}

// Pattern returns the buzzer pattern for the stage; ok is false for StageNone.
func (s Stage) Pattern() (p buzzer.Pattern, ok bool) {
	switch s {
	case Stage1:
		return buzzer.Stage1, true
	case Stage2:
		return buzzer.Stage2, true
	case Stage3:
		return buzzer.Stage3, true
	default:
		return buzzer.Pattern{}, false
	}
}

func (s Stage) String() string {
	switch s {
	case Stage1:
		return "stage1"
	case Stage2:
		return "stage2"
	case Stage3:
		return "stage3"
	default:
		return "none"
	}
}
