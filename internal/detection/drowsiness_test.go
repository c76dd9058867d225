package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/testutil"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newDetector() *DrowsinessDetector {
	return NewDrowsinessDetector(DrowsinessConfig{
		EARThreshold:    0.25,
		EARConsecFrames: 5,
		MARThreshold:    0.6,
		MARConsecFrames: 5,
	})
}

func evaluate(d *DrowsinessDetector, faces ...[]models.Landmark) []models.FaceState {
	return d.Evaluate(faces, testutil.FrameWidth, testutil.FrameHeight, now)
}

func TestDirection(t *testing.T) {
	tests := []struct {
		name   string
		x, y   float64
		expect string
	}{
		{"forward", 0, 0, DirectionForward},
		{"on threshold", 10, -10, DirectionForward},
		{"left", 0, -15, DirectionLeft},
		{"right", 0, 15, DirectionRight},
		{"down", -15, 0, DirectionDown},
		{"up", 15, 0, DirectionUp},
		{"yaw wins over pitch", 30, -12, DirectionLeft},
		{"yaw wins over pitch right", -30, 12, DirectionRight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Direction(tt.x, tt.y))
		})
	}
}

func TestThresholdComparisonsAreStrict(t *testing.T) {
	d := newDetector()
	assert.True(t, d.EARBelowThreshold(0.2))
	assert.False(t, d.EARBelowThreshold(0.25))
	assert.True(t, d.MARExceedsThreshold(0.7))
	assert.False(t, d.MARExceedsThreshold(0.6))
}

func TestAlertFace(t *testing.T) {
	d := newDetector()
	states := evaluate(d, testutil.AlertFace())
	require.Len(t, states, 1)

	s := states[0]
	assert.Equal(t, 0, s.FaceID)
	assert.True(t, s.RatiosValid)
	assert.InDelta(t, testutil.EyeOpen/15, s.EAR, 1e-6)
	assert.Less(t, s.MAR, 0.6)
	assert.False(t, s.IsDrowsy)
	assert.False(t, s.IsYawning)
	assert.True(t, s.PoseValid)
	assert.Equal(t, DirectionForward, s.Direction)
	assert.InDelta(t, 0, s.XAngle, 1)
	assert.InDelta(t, 0, s.YAngle, 1)
	assert.Equal(t, now, s.Timestamp)
}

func TestDrowsyAfterConsecutiveFrames(t *testing.T) {
	d := newDetector()
	for i := 1; i < 5; i++ {
		s := evaluate(d, testutil.DrowsyFace())[0]
		assert.Less(t, s.EAR, 0.25)
		assert.False(t, s.IsDrowsy, "frame %d", i)
	}
	assert.True(t, evaluate(d, testutil.DrowsyFace())[0].IsDrowsy)
	assert.True(t, evaluate(d, testutil.DrowsyFace())[0].IsDrowsy)

	// a single open-eye frame clears it
	assert.False(t, evaluate(d, testutil.AlertFace())[0].IsDrowsy)
}

func TestYawningAfterConsecutiveFrames(t *testing.T) {
	d := newDetector()
	for i := 1; i < 5; i++ {
		s := evaluate(d, testutil.YawningFace())[0]
		assert.Greater(t, s.MAR, 0.6)
		assert.False(t, s.IsYawning, "frame %d", i)
	}
	s := evaluate(d, testutil.YawningFace())[0]
	assert.True(t, s.IsYawning)
	assert.False(t, s.IsDrowsy)
}

func TestNoFacesLeavesCountersUntouched(t *testing.T) {
	d := newDetector()
	for i := 0; i < 4; i++ {
		evaluate(d, testutil.DrowsyFace())
	}
	assert.Empty(t, evaluate(d))
	assert.Empty(t, d.Evaluate(nil, testutil.FrameWidth, testutil.FrameHeight, now))

	assert.True(t, evaluate(d, testutil.DrowsyFace())[0].IsDrowsy, "fifth closed frame still fires")
}

func TestDegenerateFaceKeepsLatchedState(t *testing.T) {
	d := newDetector()
	for i := 0; i < 5; i++ {
		evaluate(d, testutil.DrowsyFace())
	}

	s := evaluate(d, testutil.CollapsedFace())[0]
	assert.False(t, s.RatiosValid)
	assert.False(t, s.PoseValid)
	assert.True(t, s.IsDrowsy)
	assert.Zero(t, s.EAR)
	assert.Equal(t, 5, d.faces[0].drowsy.Count())
}

func TestFaceSlotsAreIndependent(t *testing.T) {
	d := newDetector()
	var states []models.FaceState
	for i := 0; i < 5; i++ {
		states = evaluate(d, testutil.AlertFace(), testutil.DrowsyFace())
	}
	require.Len(t, states, 2)
	assert.False(t, states[0].IsDrowsy)
	assert.True(t, states[1].IsDrowsy)
	assert.Equal(t, 1, states[1].FaceID)
}

func TestResetClearsCounters(t *testing.T) {
	d := newDetector()
	for i := 0; i < 5; i++ {
		evaluate(d, testutil.DrowsyFace())
	}
	d.Reset()
	assert.False(t, evaluate(d, testutil.DrowsyFace())[0].IsDrowsy)
}
