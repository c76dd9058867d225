package detection

import (
	"time"

	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/geometry"
	"DRIVER_MONITOR/go-backend/internal/models"
)

const (
	DirectionForward = "Forward"
	DirectionLeft    = "Left"
	DirectionRight   = "Right"
	DirectionUp      = "Up"
	DirectionDown    = "Down"

	// DirectionThreshold is the head pose angle, in degrees, beyond which the
	// driver is considered to be looking away.
	DirectionThreshold = 10.0
)

// Direction maps head pose angles to a gaze direction. Yaw is checked before pitch.
func Direction(xAngle, yAngle float64) string {
	switch {
	case yAngle < -DirectionThreshold:
		return DirectionLeft
	case yAngle > DirectionThreshold:
		return DirectionRight
	case xAngle < -DirectionThreshold:
		return DirectionDown
	case xAngle > DirectionThreshold:
		return DirectionUp
	default:
		return DirectionForward
	}
}

type DrowsinessConfig struct {
	EARThreshold    float64
	EARConsecFrames int
	MARThreshold    float64
	MARConsecFrames int
}

type faceCounters struct {
	drowsy *Hysteresis
	yawn   *Hysteresis
}

// DrowsinessDetector keeps one pair of hysteresis counters per face slot.
// Slots follow detector output order; slot 0 is the driver.
type DrowsinessDetector struct {
	cfg   DrowsinessConfig
	faces []faceCounters
}

func NewDrowsinessDetector(cfg DrowsinessConfig) *DrowsinessDetector {
	log.Info().
		Float64("ear_threshold", cfg.EARThreshold).
		Int("ear_frames", cfg.EARConsecFrames).
		Float64("mar_threshold", cfg.MARThreshold).
		Int("mar_frames", cfg.MARConsecFrames).
		Msg("Loaded drowsiness detection config")
	return &DrowsinessDetector{cfg: cfg}
}

func (d *DrowsinessDetector) EARBelowThreshold(ear float64) bool {
	return ear < d.cfg.EARThreshold
}

func (d *DrowsinessDetector) MARExceedsThreshold(mar float64) bool {
	return mar > d.cfg.MARThreshold
}

// Evaluate converts the face meshes of one frame into face states. A frame
// without faces leaves every counter untouched. A face whose ratios cannot be
// computed keeps its counters and reports the latched state.
func (d *DrowsinessDetector) Evaluate(faces [][]models.Landmark, width, height int, now time.Time) []models.FaceState {
	states := make([]models.FaceState, 0, len(faces))
	for i, mesh := range faces {
		c := d.slot(i)
		state := models.FaceState{
			FaceID:    i,
			Timestamp: now,
			Landmarks: mesh,
		}

		ear, earErr := d.averageEAR(mesh, width, height)
		mar, marErr := d.mar(mesh, width, height)
		state.RatiosValid = earErr == nil && marErr == nil

		if earErr == nil {
			state.EAR = ear
			state.IsDrowsy = c.drowsy.Update(d.EARBelowThreshold(ear))
		} else {
			log.Debug().Err(earErr).Int("face_id", i).Msg("skipping EAR update")
			state.IsDrowsy = c.drowsy.Active()
		}
		if marErr == nil {
			state.MAR = mar
			state.IsYawning = c.yawn.Update(d.MARExceedsThreshold(mar))
		} else {
			log.Debug().Err(marErr).Int("face_id", i).Msg("skipping MAR update")
			state.IsYawning = c.yawn.Active()
		}

		if pose, err := geometry.HeadPose(width, height, mesh); err == nil {
			state.XAngle = pose.X
			state.YAngle = pose.Y
			state.PoseValid = true
			state.Direction = Direction(pose.X, pose.Y)
		}

		states = append(states, state)
	}
	return states
}

// Reset clears every counter, e.g. when detection is paused.
func (d *DrowsinessDetector) Reset() {
	d.faces = nil
}

func (d *DrowsinessDetector) slot(i int) faceCounters {
	for len(d.faces) <= i {
		d.faces = append(d.faces, faceCounters{
			drowsy: NewHysteresis(d.cfg.EARConsecFrames),
			yawn:   NewHysteresis(d.cfg.MARConsecFrames),
		})
	}
	return d.faces[i]
}

func (d *DrowsinessDetector) averageEAR(mesh []models.Landmark, width, height int) (float64, error) {
	left, err := geometry.Pixels(mesh, LeftEyeLandmarks, width, height)
	if err != nil {
		return 0, err
	}
	right, err := geometry.Pixels(mesh, RightEyeLandmarks, width, height)
	if err != nil {
		return 0, err
	}
	l, err := geometry.EAR(left)
	if err != nil {
		return 0, err
	}
	r, err := geometry.EAR(right)
	if err != nil {
		return 0, err
	}
	return (l + r) / 2, nil
}

func (d *DrowsinessDetector) mar(mesh []models.Landmark, width, height int) (float64, error) {
	mouth, err := geometry.Pixels(mesh, MouthLandmarks, width, height)
	if err != nil {
		return 0, err
	}
	return geometry.MAR(mouth)
}
