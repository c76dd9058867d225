package detection

import (
	"fmt"
	"math"
	"time"

	"DRIVER_MONITOR/go-backend/internal/geometry"
	"DRIVER_MONITOR/go-backend/internal/models"
)

// PhoneDetector flags phone usage when either wrist comes within the distance
// threshold of the ear on the same side. Any hand raised to the head triggers
// it; the threshold is in pixels and must be tuned to the frame size.
type PhoneDetector struct {
	threshold float64
}

func NewPhoneDetector(distanceThreshold float64) *PhoneDetector {
	return &PhoneDetector{threshold: distanceThreshold}
}

// Evaluate returns ok=false when no body was detected this frame.
func (p *PhoneDetector) Evaluate(pose []models.Landmark, width, height int, now time.Time) (models.PhoneState, bool, error) {
	if len(pose) == 0 {
		return models.PhoneState{}, false, nil
	}
	if len(pose) <= PoseRightWrist {
		return models.PhoneState{}, false, fmt.Errorf("pose has %d landmarks, need %d: %w", len(pose), PoseLandmarkCount, geometry.ErrInsufficientPoints)
	}

	px, err := geometry.Pixels(pose, []int{PoseLeftWrist, PoseLeftEar, PoseRightWrist, PoseRightEar}, width, height)
	if err != nil {
		return models.PhoneState{}, false, err
	}
	left := geometry.Distance(px[0], px[1])
	right := geometry.Distance(px[2], px[3])

	state := models.PhoneState{Timestamp: now, Landmarks: pose}
	if left < p.threshold || right < p.threshold {
		d := math.Min(left, right)
		state.IsCalling = true
		state.Distance = &d
	}
	return state, true, nil
}
