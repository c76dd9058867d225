package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// Landmark service exposed by the inference sidecar.
const (
	LandmarkServiceName = "landmarks.v1.LandmarkService"

	methodDetectFaces = "/" + LandmarkServiceName + "/DetectFaces"
	methodDetectPose  = "/" + LandmarkServiceName + "/DetectPose"
	methodDetectHands = "/" + LandmarkServiceName + "/DetectHands"

	frameJPEGQuality = 85
)

// GRPCLandmarkClient calls the inference sidecar. Frames are sent as JPEG
// inside a BytesValue; landmarks come back in a Struct as flat [x, y, z, ...] lists.
type GRPCLandmarkClient struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	url     string
	timeout time.Duration

	mu        sync.Mutex
	lastFrame *image.RGBA
	lastJPEG  []byte
}

func NewGRPCLandmarkClient(url string, timeout time.Duration, extra ...grpc.DialOption) (*GRPCLandmarkClient, error) {
	log.Info().Str("addr", url).Msg("Connecting to inference gRPC")

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(50*1024*1024),
			grpc.MaxCallSendMsgSize(50*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to inference gRPC server at %s: %w", url, err)
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	return &GRPCLandmarkClient{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		url:     url,
		timeout: timeout,
	}, nil
}

func (gc *GRPCLandmarkClient) DetectFaces(ctx context.Context, frame *image.RGBA) ([][]models.Landmark, error) {
	resp, err := gc.call(ctx, methodDetectFaces, frame)
	if err != nil {
		return nil, err
	}
	return landmarkSets(resp, "faces")
}

func (gc *GRPCLandmarkClient) DetectPose(ctx context.Context, frame *image.RGBA) ([]models.Landmark, error) {
	resp, err := gc.call(ctx, methodDetectPose, frame)
	if err != nil {
		return nil, err
	}
	v, ok := resp.GetFields()["pose"]
	if !ok {
		return nil, nil
	}
	return landmarkList(v)
}

func (gc *GRPCLandmarkClient) DetectHands(ctx context.Context, frame *image.RGBA) ([][]models.Landmark, error) {
	resp, err := gc.call(ctx, methodDetectHands, frame)
	if err != nil {
		return nil, err
	}
	return landmarkSets(resp, "hands")
}

// Ready reports whether the sidecar answers its health check with SERVING.
func (gc *GRPCLandmarkClient) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := gc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: LandmarkServiceName})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (gc *GRPCLandmarkClient) Close() error {
	if gc.conn != nil {
		return gc.conn.Close()
	}
	return nil
}

func (gc *GRPCLandmarkClient) call(ctx context.Context, method string, frame *image.RGBA) (*structpb.Struct, error) {
	data, err := gc.encode(frame)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, gc.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gc.conn.Invoke(ctx, method, wrapperspb.Bytes(data), resp); err != nil {
		code := status.Code(err)
		if code == codes.Unavailable {
			log.Warn().Str("addr", gc.url).Str("method", method).Msg("Inference service unavailable")
		}
		return nil, fmt.Errorf("%s (%s): %w", method, code, err)
	}
	return resp, nil
}

// encode compresses frame once and reuses the bytes for the other detectors
// of the same iteration.
func (gc *GRPCLandmarkClient) encode(frame *image.RGBA) ([]byte, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if frame == gc.lastFrame {
		return gc.lastJPEG, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: frameJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	gc.lastFrame, gc.lastJPEG = frame, buf.Bytes()
	return gc.lastJPEG, nil
}

func landmarkSets(resp *structpb.Struct, field string) ([][]models.Landmark, error) {
	v, ok := resp.GetFields()[field]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s: expected list", field)
	}
	out := make([][]models.Landmark, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		lms, err := landmarkList(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, lms)
	}
	return out, nil
}

func landmarkList(v *structpb.Value) ([]models.Landmark, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("expected flat coordinate list")
	}
	vals := list.GetValues()
	if len(vals)%3 != 0 {
		return nil, fmt.Errorf("coordinate list length %d is not a multiple of 3", len(vals))
	}
	out := make([]models.Landmark, len(vals)/3)
	for i := range out {
		var xyz [3]float64
		for j := range xyz {
			n, ok := vals[3*i+j].GetKind().(*structpb.Value_NumberValue)
			if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
				return nil, fmt.Errorf("coordinate %d is not a finite number", 3*i+j)
			}
			xyz[j] = n.NumberValue
		}
		out[i] = models.Landmark{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}
	return out, nil
}
