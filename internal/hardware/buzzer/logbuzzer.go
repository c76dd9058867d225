package buzzer

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogBuzzer stands in for hardware on development machines. It keeps the
// pattern timing so the actuator paces itself the same way.
type LogBuzzer struct{}

func NewLogBuzzer() *LogBuzzer {
	return &LogBuzzer{}
}

func (LogBuzzer) Beep(ctx context.Context, p Pattern) error {
	return play(ctx, p, func(on bool) error {
		if on {
			log.Debug().Stringer("pattern", p).Int("frequency", p.Frequency).Msg("beep")
		}
		return nil
	})
}

func (LogBuzzer) Off() error {
	log.Debug().Msg("buzzer off")
	return nil
}

func (LogBuzzer) Close() error {
	return nil
}
