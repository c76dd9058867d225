// Package buzzer drives the audible alert hardware.
package buzzer

import (
	"context"
	"fmt"
	"time"
)

// Pattern is a fixed beep sequence: Times beeps of Duration each, followed by Pause.
type Pattern struct {
	Times     int
	Duration  time.Duration
	Pause     time.Duration
	Frequency int
}

func (p Pattern) String() string {
	return fmt.Sprintf("%dx%s/%s", p.Times, p.Duration, p.Pause)
}

// Escalation stage patterns.
var (
	Stage1 = Pattern{Times: 1, Duration: time.Second, Pause: time.Second}
	Stage2 = Pattern{Times: 1, Duration: time.Second, Pause: 500 * time.Millisecond}
	Stage3 = Pattern{Times: 1, Duration: time.Second, Pause: 100 * time.Millisecond}
)

// Buzzer is the alert actuator. Beep blocks until the pattern completes or
// ctx is cancelled.
type Buzzer interface {
	Beep(ctx context.Context, p Pattern) error
	Off() error
	Close() error
}

// play runs p by toggling the output through set. The output is always left off.
func play(ctx context.Context, p Pattern, set func(on bool) error) error {
	for i := 0; i < p.Times; i++ {
		if err := set(true); err != nil {
			return err
		}
		err := sleep(ctx, p.Duration)
		if offErr := set(false); offErr != nil {
			return offErr
		}
		if err != nil {
			return err
		}
		if err := sleep(ctx, p.Pause); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
