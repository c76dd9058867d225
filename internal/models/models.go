package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDrowsiness EventType = "DROWSINESS"
	EventYawning    EventType = "YAWNING"
)

func (t EventType) Valid() bool {
	return t == EventDrowsiness || t == EventYawning
}

// DrowsinessEvent is created once per drowsy or yawning episode and never
// updated afterwards.
type DrowsinessEvent struct {
	ID        uuid.UUID `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"image"`
	EAR       float64   `json:"ear"`
	MAR       float64   `json:"mar"`
	EventType EventType `json:"event_type"`
}

type CreateEventRequest struct {
	VehicleID string    `json:"vehicle_id"`
	ImagePath string    `json:"image"`
	EAR       float64   `json:"ear"`
	MAR       float64   `json:"mar"`
	EventType EventType `json:"event_type"`
}

type BeepRequest struct {
	Times     int     `json:"times"`
	Duration  int     `json:"duration"`
	Pause     float64 `json:"pause"`
	Frequency int     `json:"frequency"`
}

// ControlResponse is returned by every detection control endpoint.
type ControlResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

type DetectionStatus struct {
	IsAlive   bool `json:"is_alive"`
	IsRunning bool `json:"is_running"`
}
