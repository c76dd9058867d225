package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	GRPCPort            string
	HTTPPort            string
	CORSOrigins         string
	LogLevel            string
	Environment         string
	ControlPasswordHash string

	DBDriver   string
	DBPath     string
	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	InferenceEngine  string
	InferenceAddr    string
	InferenceTimeout time.Duration

	CameraSource string
	FrameWidth   int
	FrameHeight  int
	CameraMirror bool

	BuzzerKind string
	BuzzerPort string
	BuzzerBaud int

	Pipeline  PipelineConfig
	Detection DetectionConfig

	StaticDir     string
	ImageEventDir string

	SendToServer bool
	UploadServer string
	VehicleID    string
	DeviceName   string

	KafkaBrokers string
	KafkaTopic   string
}

// PipelineConfig selects which detectors run on every frame.
type PipelineConfig struct {
	DrowsinessModelRun     bool
	PhoneDetectionModelRun bool
	HandsDetectionModelRun bool
	LoopInterval           time.Duration
}

type DetectionConfig struct {
	EARThreshold           float64
	EARConsecFrames        int
	MARThreshold           float64
	MARConsecFrames        int
	PhoneDistanceThreshold float64
	ApplyMasking           bool
}

func (p *Config) DSN() string {
	if p.DBDriver == "sqlite" {
		return p.DBPath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog безопасный вывод DSN без пароля для логирования
func (p *Config) DSNForLog() string {
	if p.DBDriver == "sqlite" {
		return p.DBPath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// ImageEventPath is the directory event snapshots are written to.
func (c *Config) ImageEventPath() string {
	return strings.TrimRight(c.StaticDir, "/") + "/" + strings.Trim(c.ImageEventDir, "/")
}

func LoadConfig() *Config {
	// Загрузка .env файла (если существует)
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using system environment variables")
	}

	cfg := &Config{
		GRPCPort:            getEnv("GRPC_PORT", "50051"),
		HTTPPort:            getEnv("HTTP_PORT", "8081"),
		CORSOrigins:         getEnv("CORS_ORIGINS", "*"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		Environment:         getEnv("ENVIRONMENT", "production"),
		ControlPasswordHash: getEnv("CONTROL_PASSWORD_HASH", ""),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "driver_monitor.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "driver_monitor"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		InferenceEngine:  getEnv("INFERENCE_ENGINE", "grpc"),
		InferenceAddr:    getEnv("INFERENCE_ADDR", "localhost:9000"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 500*time.Millisecond),

		CameraSource: getEnv("CAMERA_SOURCE", "0"),
		FrameWidth:   getEnvInt("FRAME_WIDTH", 640),
		FrameHeight:  getEnvInt("FRAME_HEIGHT", 480),
		CameraMirror: getEnvBool("CAMERA_MIRROR", true),

		BuzzerKind: getEnv("BUZZER_KIND", "log"),
		BuzzerPort: getEnv("BUZZER_PORT", "/dev/ttyUSB0"),
		BuzzerBaud: getEnvInt("BUZZER_BAUD", 9600),

		Pipeline: PipelineConfig{
			DrowsinessModelRun:     getEnvBool("DROWSINESS_MODEL_RUN", true),
			PhoneDetectionModelRun: getEnvBool("PHONE_DETECTION_MODEL_RUN", true),
			HandsDetectionModelRun: getEnvBool("HANDS_DETECTION_MODEL_RUN", true),
			LoopInterval:           getEnvDuration("LOOP_INTERVAL", 10*time.Millisecond),
		},
		Detection: DetectionConfig{
			EARThreshold:           getEnvFloat("EAR_THRESHOLD", 0.25),
			EARConsecFrames:        getEnvInt("EAR_CONSEC_FRAMES", 5),
			MARThreshold:           getEnvFloat("MAR_THRESHOLD", 0.6),
			MARConsecFrames:        getEnvInt("MAR_CONSEC_FRAMES", 5),
			PhoneDistanceThreshold: getEnvFloat("PHONE_DISTANCE_THRESHOLD", 150),
			ApplyMasking:           getEnvBool("APPLY_MASKING", false),
		},

		StaticDir:     getEnv("STATIC_DIR", "static"),
		ImageEventDir: getEnv("IMAGE_EVENT_DIR", "events"),

		SendToServer: getEnvBool("SEND_TO_SERVER", false),
		UploadServer: getEnv("UPLOAD_SERVER", ""),
		VehicleID:    getEnv("VEHICLE_ID", "vehicle-001"),
		DeviceName:   getEnv("DEVICE_NAME", "raspberry-pi"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "driver-monitor.events"),
	}

	// Проверка обязательных полей
	if cfg.DBDriver == "pgx" && cfg.DBPassword == "" {
		log.Warn().Msg("DB_PASSWORD is not set")
	}
	if cfg.SendToServer && cfg.UploadServer == "" {
		log.Warn().Msg("SEND_TO_SERVER is on but UPLOAD_SERVER is empty, uploads disabled")
		cfg.SendToServer = false
	}

	return cfg
}

// Validate reports configuration values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be pgx or sqlite, got %q", c.DBDriver))
	}
	switch c.InferenceEngine {
	case "grpc", "none":
	default:
		errs = append(errs, fmt.Errorf("INFERENCE_ENGINE must be grpc or none, got %q", c.InferenceEngine))
	}
	switch c.BuzzerKind {
	case "serial", "log":
	default:
		errs = append(errs, fmt.Errorf("BUZZER_KIND must be serial or log, got %q", c.BuzzerKind))
	}

	d := c.Detection
	if d.EARThreshold <= 0 {
		errs = append(errs, errors.New("EAR_THRESHOLD must be positive"))
	}
	if d.MARThreshold <= 0 {
		errs = append(errs, errors.New("MAR_THRESHOLD must be positive"))
	}
	if d.EARConsecFrames < 1 {
		errs = append(errs, errors.New("EAR_CONSEC_FRAMES must be at least 1"))
	}
	if d.MARConsecFrames < 1 {
		errs = append(errs, errors.New("MAR_CONSEC_FRAMES must be at least 1"))
	}
	if d.PhoneDistanceThreshold <= 0 {
		errs = append(errs, errors.New("PHONE_DISTANCE_THRESHOLD must be positive"))
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		errs = append(errs, errors.New("FRAME_WIDTH and FRAME_HEIGHT must be positive"))
	}
	if c.Pipeline.LoopInterval < 0 {
		errs = append(errs, errors.New("LOOP_INTERVAL must not be negative"))
	}

	return errors.Join(errs...)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float, using default")
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return defaultVal
}
