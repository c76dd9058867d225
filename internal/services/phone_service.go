package services

import (
	"context"
	"fmt"
	"image"

	"DRIVER_MONITOR/go-backend/internal/annotate"
	"DRIVER_MONITOR/go-backend/internal/detection"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/timeutil"
)

var (
	poseEars   = []int{detection.PoseLeftEar, detection.PoseRightEar}
	poseWrists = []int{detection.PoseLeftWrist, detection.PoseRightWrist}
)

type PhoneService struct {
	landmarks PoseLandmarker
	detector  *detection.PhoneDetector
	clock     timeutil.Clock
}

func NewPhoneService(landmarks PoseLandmarker, detector *detection.PhoneDetector, clock timeutil.Clock) *PhoneService {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PhoneService{landmarks: landmarks, detector: detector, clock: clock}
}

// ProcessFrame returns at most one detection, for the single tracked person.
func (s *PhoneService) ProcessFrame(ctx context.Context, frame, processed *image.RGBA) (*models.PhoneDetectionResult, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	pose, err := s.landmarks.DetectPose(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect pose: %w", err)
	}
	b := frame.Bounds()
	state, ok, err := s.detector.Evaluate(pose, b.Dx(), b.Dy(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	result := &models.PhoneDetectionResult{}
	if ok {
		result.Detections = append(result.Detections, state)
		annotate.Phone(processed, state, poseEars, poseWrists)
	}
	return result, nil
}

type HandsService struct {
	landmarks HandLandmarker
	detector  *detection.HandsDetector
	clock     timeutil.Clock
}

func NewHandsService(landmarks HandLandmarker, detector *detection.HandsDetector, clock timeutil.Clock) *HandsService {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HandsService{landmarks: landmarks, detector: detector, clock: clock}
}

func (s *HandsService) ProcessFrame(ctx context.Context, frame, processed *image.RGBA) (*models.HandsDetectionResult, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	hands, err := s.landmarks.DetectHands(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect hands: %w", err)
	}
	result := &models.HandsDetectionResult{Hands: s.detector.Evaluate(hands, s.clock.Now())}
	for _, h := range result.Hands {
		annotate.Hand(processed, h)
	}
	return result, nil
}
