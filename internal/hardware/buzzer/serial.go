package buzzer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Port is the subset of serial.Port the buzzer needs.
type Port interface {
	io.Writer
	io.Closer
}

// SerialBuzzer switches a relay on a microcontroller attached over a serial
// line. The firmware accepts '1' (on) and '0' (off).
type SerialBuzzer struct {
	mu   sync.Mutex
	port Port
}

// OpenSerial opens path at baud (8N1).
func OpenSerial(path string, baud int) (*SerialBuzzer, error) {
	if baud <= 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open buzzer port %s: %w", path, err)
	}
	log.Info().Str("port", path).Int("baud", baud).Msg("Buzzer serial port opened")
	return NewSerialBuzzer(port), nil
}

func NewSerialBuzzer(port Port) *SerialBuzzer {
	return &SerialBuzzer{port: port}
}

func (b *SerialBuzzer) Beep(ctx context.Context, p Pattern) error {
	return play(ctx, p, b.set)
}

func (b *SerialBuzzer) Off() error {
	return b.set(false)
}

func (b *SerialBuzzer) Close() error {
	offErr := b.Off()
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.port.Close(); err != nil {
		return err
	}
	return offErr
}

func (b *SerialBuzzer) set(on bool) error {
	cmd := []byte{'0'}
	if on {
		cmd[0] = '1'
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.port.Write(cmd); err != nil {
		return fmt.Errorf("buzzer write: %w", err)
	}
	return nil
}
