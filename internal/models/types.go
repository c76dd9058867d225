package models

import (
	"image"
	"time"
)

// Landmark is a point in normalized image coordinates. X and Y are relative to
// the frame width and height, Z is the model's relative depth.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pixel scales the landmark to pixel space.
func (l Landmark) Pixel(width, height int) (float64, float64) {
	return l.X * float64(width), l.Y * float64(height)
}

type FaceState struct {
	FaceID    int        `json:"face_id"`
	IsDrowsy  bool       `json:"is_drowsy"`
	IsYawning bool       `json:"is_yawning"`
	EAR       float64    `json:"ear"`
	MAR       float64    `json:"mar"`
	XAngle    float64    `json:"x_angle"`
	YAngle    float64    `json:"y_angle"`
	Direction string     `json:"direction"`
	Timestamp time.Time  `json:"timestamp"`
	Landmarks []Landmark `json:"-"`

	// RatiosValid is false when EAR/MAR could not be computed this frame.
	RatiosValid bool `json:"ratios_valid"`
	// PoseValid is false when the head pose solve was skipped or failed.
	PoseValid bool `json:"pose_valid"`
}

type PhoneState struct {
	IsCalling bool       `json:"is_calling"`
	Distance  *float64   `json:"distance,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Landmarks []Landmark `json:"-"`
}

type HandState struct {
	Timestamp time.Time  `json:"timestamp"`
	Landmarks []Landmark `json:"-"`
}

type DrowsinessDetectionResult struct {
	Faces           []FaceState
	DrowsinessEvent string
	YawningEvent    string
	DebugFrame      *image.RGBA
}

// Primary returns the face treated as the driver.
func (r *DrowsinessDetectionResult) Primary() (FaceState, bool) {
	if r == nil || len(r.Faces) == 0 {
		return FaceState{}, false
	}
	return r.Faces[0], true
}

type PhoneDetectionResult struct {
	Detections []PhoneState
}

func (r *PhoneDetectionResult) IsCalling() bool {
	if r == nil {
		return false
	}
	for _, d := range r.Detections {
		if d.IsCalling {
			return true
		}
	}
	return false
}

type HandsDetectionResult struct {
	Hands []HandState
}

// FacialMetrics is the live metrics snapshot pushed to dashboards.
type FacialMetrics struct {
	FaceDetected bool `json:"face_detected"`

	EAR       float64 `json:"ear"`
	MAR       float64 `json:"mar"`
	IsDrowsy  bool    `json:"is_drowsy"`
	IsYawning bool    `json:"is_yawning"`
	IsCalling bool    `json:"is_calling"`
	FPS       float64 `json:"fps"`
}

// RecentEvent carries event ids created on the latest notification edge.
type RecentEvent struct {
	DrowsinessEvent string `json:"drowsiness_event,omitempty"`
	YawningEvent    string `json:"yawning_event,omitempty"`
}

func (e RecentEvent) Empty() bool {
	return e.DrowsinessEvent == "" && e.YawningEvent == ""
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string  `json:"status"`
	GoBackend      string  `json:"go_backend"`
	InferenceReady bool    `json:"inference_ready"`
	DetectionAlive bool    `json:"detection_alive"`
	ActiveClients  int     `json:"active_clients"`
	UptimeSeconds  float64 `json:"uptime_sec"`
	Version        string  `json:"version,omitempty"`
}
