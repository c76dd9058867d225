package detection

import (
	"time"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// HandsDetector packages hand landmarks for annotation. No gesture is classified.
type HandsDetector struct{}

func NewHandsDetector() *HandsDetector {
	return &HandsDetector{}
}

func (h *HandsDetector) Evaluate(hands [][]models.Landmark, now time.Time) []models.HandState {
	states := make([]models.HandState, 0, len(hands))
	for _, hand := range hands {
		if len(hand) == 0 {
			continue
		}
		states = append(states, models.HandState{Timestamp: now, Landmarks: hand})
	}
	return states
}
