package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"DRIVER_MONITOR/go-backend/internal/alert"
	"DRIVER_MONITOR/go-backend/internal/config"
	"DRIVER_MONITOR/go-backend/internal/database"
	"DRIVER_MONITOR/go-backend/internal/detection"
	"DRIVER_MONITOR/go-backend/internal/eventimage"
	"DRIVER_MONITOR/go-backend/internal/framebuffer"
	"DRIVER_MONITOR/go-backend/internal/handlers"
	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
	"DRIVER_MONITOR/go-backend/internal/hardware/camera"
	"DRIVER_MONITOR/go-backend/internal/publisher"
	"DRIVER_MONITOR/go-backend/internal/services"
	"DRIVER_MONITOR/go-backend/internal/timeutil"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const streamInterval = 50 * time.Millisecond

func main() {
	httpPort := flag.String("http-port", "", "HTTP port (overrides HTTP_PORT)")
	grpcPort := flag.String("grpc-port", "", "gRPC port (overrides GRPC_PORT)")
	inferenceAddr := flag.String("inference-addr", "", "landmark service address (overrides INFERENCE_ADDR)")
	flag.Parse()

	cfg := config.LoadConfig()
	if *httpPort != "" {
		cfg.HTTPPort = strings.TrimPrefix(*httpPort, ":")
	}
	if *grpcPort != "" {
		cfg.GRPCPort = strings.TrimPrefix(*grpcPort, ":")
	}
	if *inferenceAddr != "" {
		cfg.InferenceAddr = *inferenceAddr
	}
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Str("http_port", cfg.HTTPPort).
		Str("grpc_port", cfg.GRPCPort).
		Str("inference", cfg.InferenceEngine+"://"+cfg.InferenceAddr).
		Msg("Starting driver monitor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// База данных событий
	log.Info().Str("driver", cfg.DBDriver).Str("dsn", cfg.DSNForLog()).Msg("Opening event store")
	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer db.Close()

	landmarks := openLandmarks(cfg)
	defer landmarks.Close()

	cam, err := camera.Open(camera.Options{
		Source: cfg.CameraSource,
		Width:  cfg.FrameWidth,
		Height: cfg.FrameHeight,
		Mirror: cfg.CameraMirror,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open camera")
	}

	actuator := alert.NewActuator(openBuzzer(cfg))

	var uploader *eventimage.Uploader
	if cfg.SendToServer {
		uploader = eventimage.NewUploader(cfg.UploadServer, cfg.VehicleID, cfg.DeviceName)
		uploader.Start(ctx)
	}
	saver := eventimage.NewSaver(cfg.ImageEventPath(), uploader)

	var events services.EventPublisher
	var kafkaPublisher *publisher.KafkaPublisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher, err = publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.DeviceName)
		if err != nil {
			log.Error().Err(err).Msg("Kafka unavailable, events will not be published")
		} else {
			events = kafkaPublisher
		}
	}

	metrics := services.NewMetrics()
	frames := framebuffer.New()
	clock := timeutil.RealClock{}

	drowsiness := services.NewDrowsinessService(landmarks,
		detection.NewDrowsinessDetector(detection.DrowsinessConfig{
			EARThreshold:    cfg.Detection.EARThreshold,
			EARConsecFrames: cfg.Detection.EARConsecFrames,
			MARThreshold:    cfg.Detection.MARThreshold,
			MARConsecFrames: cfg.Detection.MARConsecFrames,
		}),
		services.DrowsinessServiceOptions{
			VehicleID: cfg.VehicleID,
			Store:     db,
			Images:    saver,
			Publisher: events,
			Alerter:   actuator,
			Clock:     clock,
			Metrics:   metrics,

			ApplyMasking: cfg.Detection.ApplyMasking,
		})
	phone := services.NewPhoneService(landmarks, detection.NewPhoneDetector(cfg.Detection.PhoneDistanceThreshold), clock)
	hands := services.NewHandsService(landmarks, detection.NewHandsDetector(), clock)

	loop := services.NewDetectionLoop(cam, drowsiness, phone, hands, frames, metrics, clock, services.LoopConfig{
		Drowsiness: cfg.Pipeline.DrowsinessModelRun,
		Phone:      cfg.Pipeline.PhoneDetectionModelRun,
		Hands:      cfg.Pipeline.HandsDetectionModelRun,
		Interval:   cfg.Pipeline.LoopInterval,
	})

	// gRPC сервер
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(50*1024*1024),
		grpc.MaxSendMsgSize(50*1024*1024),
	)
	grpcHealth := handlers.NewGRPCHealth()
	grpcHealth.Register(grpcServer)
	loop.OnStatusChange(grpcHealth.Update)

	api := handlers.New(handlers.Options{
		Detection:    loop,
		Events:       db,
		Images:       saver,
		Buzzer:       actuator,
		Frames:       frames,
		Metrics:      metrics,
		Inference:    landmarks,
		CORSOrigins:  cfg.CORSOrigins,
		PasswordHash: cfg.ControlPasswordHash,
		Version:      Version,
	})
	go api.Streams().Run(ctx, streamInterval)

	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     api.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: MJPEG and websocket responses are long lived
	}

	go startGRPCServer(grpcServer, cfg.GRPCPort)
	go startHTTPServer(httpServer)

	loop.Start()

	// Ждём сигнала
	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	if !loop.Stop() {
		log.Warn().Msg("Detection loop still running at shutdown")
	}
	grpcHealth.Shutdown()

	stopped := make(chan struct{})
	go func() {
		log.Info().Msg("Stopping gRPC server...")
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Forced gRPC shutdown")
		grpcServer.Stop()
	}

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Stopping HTTP server...")
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
		httpServer.Close()
	}

	if err := actuator.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close buzzer")
	}
	if err := cam.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close camera")
	}
	if uploader != nil {
		uploader.Close()
		sent, failed, dropped := uploader.Stats()
		log.Info().Int64("sent", sent).Int64("failed", failed).Int64("dropped", dropped).Msg("Image uploader closed")
	}
	if kafkaPublisher != nil {
		kafkaPublisher.Close()
		sent, acked, failed := kafkaPublisher.Stats()
		log.Info().Int64("sent", sent).Int64("acked", acked).Int64("failed", failed).Msg("Kafka publisher closed")
	}

	log.Info().Msg("Goodbye!")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func openLandmarks(cfg *config.Config) services.LandmarkProvider {
	if cfg.InferenceEngine == "none" {
		log.Warn().Msg("INFERENCE_ENGINE=none, detectors will see no landmarks")
		return services.NoopProvider{}
	}
	client, err := services.NewGRPCLandmarkClient(cfg.InferenceAddr, cfg.InferenceTimeout)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.InferenceAddr).Msg("Failed to create landmark client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.Ready(ctx) {
		log.Warn().Str("addr", cfg.InferenceAddr).Msg("Landmark service not ready yet, continuing")
	}
	return client
}

func openBuzzer(cfg *config.Config) buzzer.Buzzer {
	if cfg.BuzzerKind == "serial" {
		b, err := buzzer.OpenSerial(cfg.BuzzerPort, cfg.BuzzerBaud)
		if err == nil {
			return b
		}
		log.Error().Err(err).Str("port", cfg.BuzzerPort).Msg("Serial buzzer unavailable, falling back to log buzzer")
	}
	return buzzer.NewLogBuzzer()
}

func startGRPCServer(s *grpc.Server, port string) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Fatal().Err(err).Str("port", port).Msg("failed to listen on gRPC port")
	}
	log.Info().Str("port", port).Msg("gRPC server listening")
	if err := s.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("failed to serve gRPC server")
	}
}

func startHTTPServer(s *http.Server) {
	log.Info().
		Str("addr", s.Addr).
		Str("video", "/video/{raw,processed,debug}").
		Str("websocket", "/ws/facial-metrics, /ws/notifications").
		Msg("HTTP server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Failed to serve HTTP")
	}
}
