package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"DRIVER_MONITOR/go-backend/internal/alert"
	"DRIVER_MONITOR/go-backend/internal/database"
	"DRIVER_MONITOR/go-backend/internal/eventimage"
	"DRIVER_MONITOR/go-backend/internal/framebuffer"
	"DRIVER_MONITOR/go-backend/internal/hardware/buzzer"
	"DRIVER_MONITOR/go-backend/internal/models"
	"DRIVER_MONITOR/go-backend/internal/services"
)

type fakeController struct {
	mu     sync.Mutex
	status models.DetectionStatus
	calls  []string
	refuse bool
}

func (c *fakeController) do(name string, st models.DetectionStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.refuse {
		return false
	}
	c.status = st
	return true
}

func (c *fakeController) Start() bool {
	return c.do("start", models.DetectionStatus{IsAlive: true, IsRunning: true})
}

func (c *fakeController) Restart() bool {
	return c.do("restart", models.DetectionStatus{IsAlive: true, IsRunning: true})
}

func (c *fakeController) Pause() bool {
	return c.do("pause", models.DetectionStatus{IsAlive: true})
}

func (c *fakeController) Resume() bool {
	return c.do("resume", models.DetectionStatus{IsAlive: true, IsRunning: true})
}

func (c *fakeController) Stop() bool {
	return c.do("stop", models.DetectionStatus{})
}

func (c *fakeController) Status() models.DetectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) setRefuse(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refuse = v
}

func (c *fakeController) history() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeBeeper struct {
	mu     sync.Mutex
	played []buzzer.Pattern
	err    error
}

func (b *fakeBeeper) BeepOnce(_ context.Context, p buzzer.Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.played = append(b.played, p)
	return nil
}

func (b *fakeBeeper) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBeeper) patterns() []buzzer.Pattern {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]buzzer.Pattern(nil), b.played...)
}

type fakeReadiness bool

func (f fakeReadiness) Ready(context.Context) bool { return bool(f) }

type testServer struct {
	*httptest.Server
	handler   *Handler
	db        *database.DB
	detection *fakeController
	beeper    *fakeBeeper
	frames    *framebuffer.SharedFrameState
	metrics   *services.Metrics
	imageDir  string
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(database.DriverSQLite, filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := &testServer{
		db:        db,
		detection: &fakeController{},
		beeper:    &fakeBeeper{},
		frames:    framebuffer.New(),
		metrics:   services.NewMetrics(),
		imageDir:  filepath.Join(dir, "events"),
	}
	opts := Options{
		Detection:       ts.detection,
		Events:          db,
		Images:          eventimage.NewSaver(ts.imageDir, nil),
		Buzzer:          ts.beeper,
		Frames:          ts.frames,
		Metrics:         ts.metrics,
		Inference:       fakeReadiness(true),
		CORSOrigins:     "http://dashboard.local",
		Version:         "1.2.3",
		MetricsInterval: 5 * time.Millisecond,
		NotifyInterval:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.handler = New(opts)
	ts.Server = httptest.NewServer(ts.handler.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDetectionControl(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, action := range []string{"start", "pause", "resume", "restart", "stop"} {
		resp := ts.do(t, http.MethodPost, "/api/detection/"+action, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, action)
		got := decode[models.ControlResponse](t, resp)
		assert.Equal(t, models.ControlResponse{Success: true, Action: action}, got)
	}
	assert.Equal(t, []string{"start", "pause", "resume", "restart", "stop"}, ts.detection.history())

	resp := ts.do(t, http.MethodPost, "/api/detection/explode", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/detection/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDetectionControlReportsRefusal(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.detection.setRefuse(true)
	resp := ts.do(t, http.MethodPost, "/api/detection/restart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[models.ControlResponse](t, resp).Success)
}

func TestDetectionStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.detection.Start()
	ts.detection.Pause()

	resp := ts.do(t, http.MethodGet, "/api/detection/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.DetectionStatus{IsAlive: true, IsRunning: false}, decode[models.DetectionStatus](t, resp))
}

func TestControlRequiresPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, func(o *Options) { o.PasswordHash = string(hash) })

	resp := ts.do(t, http.MethodPost, "/api/detection/start", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, ts.detection.history())

	for _, tc := range []struct {
		password string
		want     int
	}{
		{"wrong", http.StatusUnauthorized},
		{"s3cret", http.StatusOK},
	} {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/detection/start", nil)
		require.NoError(t, err)
		req.SetBasicAuth("operator", tc.password)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, tc.password)
	}

	resp = ts.do(t, http.MethodPost, "/api/events", models.CreateEventRequest{VehicleID: "v", EventType: models.EventYawning})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "creating events needs the password")

	// read endpoints stay open
	resp = ts.do(t, http.MethodGet, "/api/detection/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/api/events", models.CreateEventRequest{
		VehicleID: "vehicle-001",
		EAR:       0.12,
		MAR:       0.3,
		EventType: models.EventDrowsiness,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.DrowsinessEvent](t, resp)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, int64(1), ts.metrics.GetEventsCreated())

	resp = ts.do(t, http.MethodGet, "/api/events/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.DrowsinessEvent](t, resp)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("event mismatch (-created +got):\n%s", diff)
	}

	resp = ts.do(t, http.MethodGet, "/api/events?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.DrowsinessEvent](t, resp), 1)

	resp = ts.do(t, http.MethodDelete, "/api/events/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/events/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/api/events/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEventsEmptyIsArray(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))

	resp = ts.do(t, http.MethodGet, "/api/events?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEventValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	for name, body := range map[string]interface{}{
		"unknown type": models.CreateEventRequest{VehicleID: "v", EventType: "SNEEZE"},
		"no vehicle":   models.CreateEventRequest{EventType: models.EventYawning},
		"not json":     "{",
	} {
		resp := ts.do(t, http.MethodPost, "/api/events", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestGetEventRejectsBadID(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/api/events/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventImageDownloadAndDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	saver := eventimage.NewSaver(ts.imageDir, nil)
	id, err := uuid.NewV7()
	require.NoError(t, err)
	path, err := saver.Save(image.NewRGBA(image.Rect(0, 0, 8, 8)), id, models.EventDrowsiness)
	require.NoError(t, err)

	_, err = ts.db.CreateEvent(context.Background(), models.DrowsinessEvent{
		ID:        id,
		VehicleID: "vehicle-001",
		ImagePath: path,
		EventType: models.EventDrowsiness,
	})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodGet, "/api/events/"+id.String()+"/image", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id.String()+".jpg")

	resp = ts.do(t, http.MethodDelete, "/api/events/"+id.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "image removed with the event")
}

func TestEventImagePathConfinedToImageDir(t *testing.T) {
	ts := newTestServer(t, nil)
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("TOP-SECRET"), 0o600))

	resp := ts.do(t, http.MethodPost, "/api/events", models.CreateEventRequest{
		VehicleID: "vehicle-001",
		ImagePath: secret,
		EventType: models.EventDrowsiness,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// rows written before paths were checked
	e, err := ts.db.CreateEvent(context.Background(), models.DrowsinessEvent{
		VehicleID: "vehicle-001",
		ImagePath: secret,
		EventType: models.EventDrowsiness,
	})
	require.NoError(t, err)

	resp = ts.do(t, http.MethodGet, "/api/events/"+e.ID.String()+"/image", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "TOP-SECRET")

	resp = ts.do(t, http.MethodDelete, "/api/events/"+e.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := os.ReadFile(secret)
	require.NoError(t, err, "file outside the image directory is left alone")
	assert.Equal(t, "TOP-SECRET", string(got))
}

func TestCreateEventAcceptsSavedImage(t *testing.T) {
	ts := newTestServer(t, nil)
	id := uuid.Must(uuid.NewV7())
	path, err := eventimage.NewSaver(ts.imageDir, nil).Save(image.NewRGBA(image.Rect(0, 0, 8, 8)), id, models.EventYawning)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/api/events", models.CreateEventRequest{
		VehicleID: "vehicle-001",
		ImagePath: path,
		EventType: models.EventYawning,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.DrowsinessEvent](t, resp)
	assert.Equal(t, path, created.ImagePath)

	resp = ts.do(t, http.MethodGet, "/api/events/"+created.ID.String()+"/image", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventImageMissing(t *testing.T) {
	ts := newTestServer(t, nil)
	e, err := ts.db.CreateEvent(context.Background(), models.DrowsinessEvent{
		VehicleID: "vehicle-001",
		EventType: models.EventYawning,
	})
	require.NoError(t, err)
	resp := ts.do(t, http.MethodGet, "/api/events/"+e.ID.String()+"/image", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBeep(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"defaults", `{"times": 2, "pause": 0.5}`, http.StatusOK},
		{"full", `{"times": 1, "duration": 200, "pause": 0, "frequency": 100}`, http.StatusOK},
		{"zero times", `{"times": 0, "pause": 0.5}`, http.StatusUnprocessableEntity},
		{"zero duration", `{"times": 1, "duration": 0, "pause": 0.5}`, http.StatusUnprocessableEntity},
		{"too long", `{"times": 20, "duration": 1000, "pause": 1}`, http.StatusUnprocessableEntity},
		{"longest allowed", `{"times": 2, "duration": 10000, "pause": 10}`, http.StatusOK},
		{"negative pause", `{"times": 1, "pause": -1}`, http.StatusUnprocessableEntity},
		{"low frequency", `{"times": 1, "pause": 0, "frequency": 99}`, http.StatusUnprocessableEntity},
		{"garbage", `times=1`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			resp, err := http.Post(ts.URL+"/api/buzzer/beep", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBeepPattern(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/buzzer/beep", "application/json", strings.NewReader(`{"times": 3, "pause": 0.25}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []buzzer.Pattern{{
		Times:     3,
		Duration:  time.Second,
		Pause:     250 * time.Millisecond,
		Frequency: 1000,
	}}, ts.beeper.patterns())
}

func TestBeepWhileAlerting(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.beeper.fail(alert.ErrBusy)
	resp, err := http.Post(ts.URL+"/api/buzzer/beep", "application/json", strings.NewReader(`{"times": 1, "pause": 0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ts.beeper.fail(errors.New("port gone"))
	resp, err = http.Post(ts.URL+"/api/buzzer/beep", "application/json", strings.NewReader(`{"times": 1, "pause": 0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[models.HealthStatus](t, resp)
	assert.Equal(t, "degraded", h.Status, "loop not started")
	assert.True(t, h.InferenceReady)
	assert.Equal(t, "1.2.3", h.Version)

	ts.detection.Start()
	resp = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, "healthy", decode[models.HealthStatus](t, resp).Status)
}

func TestHealthInferenceDown(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Inference = fakeReadiness(false) })
	ts.detection.Start()
	resp := ts.do(t, http.MethodGet, "/api/health", nil)
	h := decode[models.HealthStatus](t, resp)
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.InferenceReady)
}

func TestMetricsAndVersion(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.metrics.IncrementFrames()

	resp := ts.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[map[string]interface{}](t, resp)
	assert.Contains(t, m, "timestamp")
	assert.Contains(t, m, "total_frames")

	resp = ts.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, map[string]string{"version": "1.2.3"}, decode[map[string]string](t, resp))
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodOptions, "/api/events", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = ts.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
}
