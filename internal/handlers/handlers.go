package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"DRIVER_MONITOR/go-backend/internal/alert"
	"DRIVER_MONITOR/go-backend/internal/database"
	"DRIVER_MONITOR/go-backend/internal/framebuffer"
	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/services"
)

const (
	dbTimeout      = 5 * time.Second
	maxBeepSeconds = 30
)

// Controller is the detection loop as seen by the control endpoints.
type Controller interface {
	Start() bool
	Stop() bool
	Restart() bool
	Pause() bool
	Resume() bool
	Status() models.DetectionStatus
}

type EventRepository interface {
	CreateEvent(ctx context.Context, e models.DrowsinessEvent) (models.DrowsinessEvent, error)
	ListEvents(ctx context.Context, limit, offset int) ([]models.DrowsinessEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (models.DrowsinessEvent, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error
}

// ImageStore confines event image paths to the image directory.
type ImageStore interface {
	Resolve(path string) (string, error)
	Remove(path string) error
}

type Beeper interface {
	BeepOnce(ctx context.Context, p buzzer.Pattern) error
}

type ReadinessChecker interface {
	Ready(ctx context.Context) bool
}

type Options struct {
	Detection Controller
	Events    EventRepository
	Images    ImageStore
	Buzzer    Beeper
	Frames    *framebuffer.SharedFrameState
	Metrics   *services.Metrics
	Inference ReadinessChecker

	CORSOrigins  string
	PasswordHash string
	Version      string

	// MetricsInterval is how often /ws/facial-metrics pushes a snapshot.
	MetricsInterval time.Duration
	// NotifyInterval is how often /ws/notifications polls for new events.
	NotifyInterval time.Duration
}

type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
	streams  *Streams
}

func New(opts Options) *Handler {
	if opts.Metrics == nil {
		opts.Metrics = services.NewMetrics()
	}
	if opts.Frames == nil {
		opts.Frames = framebuffer.New()
	}
	if opts.CORSOrigins == "" {
		opts.CORSOrigins = "*"
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = 100 * time.Millisecond
	}
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = 50 * time.Millisecond
	}
	return &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		streams: NewStreams(opts.Frames),
	}
}

// Streams returns the MJPEG streams so the caller can run their pumps.
func (h *Handler) Streams() *Streams {
	return h.streams
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/detection/{action}", h.requireAuth(h.Control))
	mux.HandleFunc("GET /api/detection/status", h.DetectionStatus)

	mux.HandleFunc("GET /api/events", h.ListEvents)
	mux.HandleFunc("POST /api/events", h.requireAuth(h.CreateEvent))
	mux.HandleFunc("GET /api/events/{id}", h.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/image", h.EventImage)
	mux.HandleFunc("DELETE /api/events/{id}", h.requireAuth(h.DeleteEvent))

	mux.HandleFunc("POST /api/buzzer/beep", h.requireAuth(h.Beep))

	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/metrics", h.MetricsReport)
	mux.HandleFunc("GET /api/version", h.Version)

	mux.HandleFunc("GET /video/{kind}", h.Video)
	mux.HandleFunc("GET /ws/facial-metrics", h.FacialMetricsSocket)
	mux.HandleFunc("GET /ws/notifications", h.NotificationsSocket)

	return h.cors(mux)
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.opts.CORSOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth checks the basic auth password against the configured bcrypt
// hash. Without a hash every request is allowed.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.PasswordHash == "" {
			next(w, r)
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(h.opts.PasswordHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="driver-monitor"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	if h.opts.Detection == nil {
		writeError(w, http.StatusServiceUnavailable, "detection is not configured")
		return
	}

	action := r.PathValue("action")
	var ok bool
	switch action {
	case "start":
		ok = h.opts.Detection.Start()
	case "restart":
		ok = h.opts.Detection.Restart()
	case "pause":
		ok = h.opts.Detection.Pause()
	case "resume":
		ok = h.opts.Detection.Resume()
	case "stop":
		ok = h.opts.Detection.Stop()
	default:
		writeError(w, http.StatusNotFound, "Unknown action: "+action)
		return
	}

	log.Info().Str("action", action).Bool("success", ok).Msg("Detection control")
	writeJSON(w, http.StatusOK, models.ControlResponse{Success: ok, Action: action})
}

func (h *Handler) DetectionStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.Detection == nil {
		writeJSON(w, http.StatusOK, models.DetectionStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Detection.Status())
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()
	events, err := h.opts.Events.ListEvents(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch events")
		writeError(w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if !req.EventType.Valid() {
		writeError(w, http.StatusBadRequest, "event_type must be DROWSINESS or YAWNING")
		return
	}
	if req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	if req.ImagePath != "" {
		path, err := h.resolveImage(req.ImagePath)
		if err != nil {
			log.Warn().Err(err).Str("path", req.ImagePath).Msg("Rejected event image path")
			writeError(w, http.StatusBadRequest, "image must be inside the event image directory")
			return
		}
		req.ImagePath = path
	}

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()
	event, err := h.opts.Events.CreateEvent(ctx, models.DrowsinessEvent{
		VehicleID: req.VehicleID,
		ImagePath: req.ImagePath,
		EAR:       req.EAR,
		MAR:       req.MAR,
		EventType: req.EventType,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to save event")
		writeError(w, http.StatusInternalServerError, "Failed to save event")
		return
	}
	h.opts.Metrics.IncrementEvents()
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.lookupEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) EventImage(w http.ResponseWriter, r *http.Request) {
	event, ok := h.lookupEvent(w, r)
	if !ok {
		return
	}
	if event.ImagePath == "" {
		writeError(w, http.StatusNotFound, "Event has no image")
		return
	}
	path, err := h.resolveImage(event.ImagePath)
	if err == nil {
		_, err = os.Stat(path)
	}
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Event image missing")
		writeError(w, http.StatusNotFound, "Event image not found")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+event.ID.String()+`.jpg"`)
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
	http.ServeFile(w, r, path)
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.lookupEvent(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()
	if err := h.opts.Events.DeleteEvent(ctx, event.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Drowsiness event not found")
			return
		}
		log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to delete event")
		writeError(w, http.StatusInternalServerError, "Failed to delete event")
		return
	}
	if h.opts.Images != nil {
		// Событие уже удалено, ошибку файла только логируем
		if err := h.opts.Images.Remove(event.ImagePath); err != nil {
			log.Warn().Err(err).Str("path", event.ImagePath).Msg("Failed to remove event image")
		}
	}

	log.Info().Str("event_id", event.ID.String()).Msg("Event deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Drowsiness event deleted successfully"})
}

func (h *Handler) resolveImage(path string) (string, error) {
	if h.opts.Images == nil {
		return "", errors.New("event images disabled")
	}
	return h.opts.Images.Resolve(path)
}

func (h *Handler) lookupEvent(w http.ResponseWriter, r *http.Request) (models.DrowsinessEvent, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event ID")
		return models.DrowsinessEvent{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), dbTimeout)
	defer cancel()
	event, err := h.opts.Events.GetEvent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Drowsiness event not found")
		return models.DrowsinessEvent{}, false
	} else if err != nil {
		log.Error().Err(err).Str("event_id", id.String()).Msg("Failed to fetch event")
		writeError(w, http.StatusInternalServerError, "Failed to fetch event")
		return models.DrowsinessEvent{}, false
	}
	return event, true
}

func (h *Handler) Beep(w http.ResponseWriter, r *http.Request) {
	if h.opts.Buzzer == nil {
		writeError(w, http.StatusServiceUnavailable, "buzzer is not configured")
		return
	}

	req := models.BeepRequest{Duration: 1000, Frequency: 1000}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if msg := validateBeep(req); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	p := buzzer.Pattern{
		Times:     req.Times,
		Duration:  time.Duration(req.Duration) * time.Millisecond,
		Pause:     time.Duration(req.Pause * float64(time.Second)),
		Frequency: req.Frequency,
	}
	if err := h.opts.Buzzer.BeepOnce(r.Context(), p); err != nil {
		if errors.Is(err, alert.ErrBusy) {
			writeError(w, http.StatusConflict, "Buzzer is sounding an alert")
			return
		}
		log.Error().Err(err).Stringer("pattern", p).Msg("Buzzer failed")
		writeError(w, http.StatusInternalServerError, "Buzzer failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Beeped " + strconv.Itoa(req.Times) + " time(s).",
	})
}

func validateBeep(req models.BeepRequest) string {
	switch {
	case req.Times <= 0:
		return "times must be greater than 0"
	case req.Duration <= 0:
		return "duration must be greater than 0"
	case req.Pause < 0:
		return "pause must not be negative"
	case req.Frequency < 100:
		return "frequency must be at least 100"
	case float64(req.Times)*float64(req.Duration)/1000+float64(req.Times-1)*req.Pause > maxBeepSeconds:
		return "beep pattern must not last longer than " + strconv.Itoa(maxBeepSeconds) + " seconds"
	}
	return ""
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ready := true
	if h.opts.Inference != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		ready = h.opts.Inference.Ready(ctx)
		cancel()
	}
	var alive bool
	if h.opts.Detection != nil {
		alive = h.opts.Detection.Status().IsAlive
	}

	status := "healthy"
	if !ready || !alive {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, models.HealthStatus{
		Status:         status,
		GoBackend:      "running",
		InferenceReady: ready,
		DetectionAlive: alive,
		ActiveClients:  h.opts.Metrics.GetActiveClients(),
		UptimeSeconds:  h.opts.Metrics.Uptime().Seconds(),
		Version:        h.opts.Version,
	})
}

func (h *Handler) MetricsReport(w http.ResponseWriter, r *http.Request) {
	snapshot := h.opts.Metrics.Snapshot()
	snapshot["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.opts.Version})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
	})
}
