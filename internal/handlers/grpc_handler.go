package handlers

import (
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"DRIVER_MONITOR/go-backend/internal/models"
)

// DetectionServiceName is the health service name that reports the state of
// the detection loop.
const DetectionServiceName = "driver-monitor.detection"

// GRPCHealth serves the standard gRPC health protocol. The overall server is
// always SERVING; the detection service follows the loop.
type GRPCHealth struct {
	server *health.Server
}

func NewGRPCHealth() *GRPCHealth {
	h := &GRPCHealth{server: health.NewServer()}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.server.SetServingStatus(DetectionServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Update is registered as a detection loop status watcher.
func (h *GRPCHealth) Update(st models.DetectionStatus) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.IsAlive && st.IsRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(DetectionServiceName, status)
	log.Debug().Str("service", DetectionServiceName).Stringer("status", status).Msg("gRPC health updated")
}

// Shutdown marks every service NOT_SERVING ahead of GracefulStop.
func (h *GRPCHealth) Shutdown() {
	h.server.Shutdown()
}
