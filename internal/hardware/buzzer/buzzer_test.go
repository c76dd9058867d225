package buzzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu      sync.Mutex
	written []byte
	failOn  int
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn > 0 && len(f.written)+1 >= f.failOn {
		return 0, errors.New("device unplugged")
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

func TestSerialBuzzerBeep(t *testing.T) {
	port := &fakePort{}
	b := NewSerialBuzzer(port)

	p := Pattern{Times: 3, Duration: time.Millisecond, Pause: time.Millisecond}
	require.NoError(t, b.Beep(context.Background(), p))
	assert.Equal(t, "101010", port.String())
}

func TestSerialBuzzerCancelLeavesOutputOff(t *testing.T) {
	port := &fakePort{}
	b := NewSerialBuzzer(port)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Beep(ctx, Pattern{Times: 1, Duration: time.Minute})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "10", port.String())
}

func TestSerialBuzzerWriteError(t *testing.T) {
	port := &fakePort{failOn: 2}
	b := NewSerialBuzzer(port)

	err := b.Beep(context.Background(), Pattern{Times: 1, Duration: time.Millisecond})
	assert.ErrorContains(t, err, "device unplugged")
}

func TestSerialBuzzerClose(t *testing.T) {
	port := &fakePort{}
	b := NewSerialBuzzer(port)
	require.NoError(t, b.Close())
	assert.True(t, port.closed)
	assert.Equal(t, "0", port.String())
}

func TestStagePatternsEscalate(t *testing.T) {
	assert.Greater(t, Stage1.Pause, Stage2.Pause)
	assert.Greater(t, Stage2.Pause, Stage3.Pause)
	for _, p := range []Pattern{Stage1, Stage2, Stage3} {
		assert.Equal(t, 1, p.Times)
		assert.Equal(t, time.Second, p.Duration)
	}
	assert.Equal(t, "1x1s/100ms", Stage3.String())
}

func TestLogBuzzer(t *testing.T) {
	b := NewLogBuzzer()
	start := time.Now()
	require.NoError(t, b.Beep(context.Background(), Pattern{Times: 2, Duration: 5 * time.Millisecond}))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.NoError(t, b.Off())
	assert.NoError(t, b.Close())
}
