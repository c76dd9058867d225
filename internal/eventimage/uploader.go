package eventimage

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/models"
)

const (
	uploadEvent   = "UPLOAD_IMAGE"
	uploadMessage = "Image Upload"
	queueSize     = 16
	replyTimeout  = 10 * time.Second
)

type UploadData struct {
	Message      string `json:"message"`
	Image        string `json:"image"`
	BehaviorType string `json:"behavior_type"`
}

type UploadMessage struct {
	Event     string     `json:"event"`
	VehicleID string     `json:"vehicle_id"`
	Target    string     `json:"target"`
	Data      UploadData `json:"data"`
}

type uploadJob struct {
	path      string
	eventType models.EventType
}

// Uploader sends saved event images to the fleet server over a websocket,
// one connection per image, off the detection loop.
type Uploader struct {
	url       string
	vehicleID string
	dialer    *websocket.Dialer
	jobs      chan uploadJob

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewUploader targets ws://{server}?vehicle_id=..&device=...
func NewUploader(server, vehicleID, device string) *Uploader {
	q := url.Values{}
	q.Set("vehicle_id", vehicleID)
	q.Set("device", device)
	return &Uploader{
		url:       fmt.Sprintf("ws://%s?%s", server, q.Encode()),
		vehicleID: vehicleID,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		jobs: make(chan uploadJob, queueSize),
	}
}

func (u *Uploader) URL() string {
	return u.url
}

// Start runs the upload worker until ctx is cancelled or Close is called.
func (u *Uploader) Start(ctx context.Context) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-u.jobs:
				if !ok {
					return
				}
				if err := u.upload(ctx, job); err != nil {
					u.failed.Add(1)
					log.Error().Err(err).Str("path", job.path).Msg("Event image upload failed")
					continue
				}
				u.sent.Add(1)
			}
		}
	}()
	log.Info().Str("url", u.url).Msg("Event image uploader started")
}

// Enqueue schedules path for upload. The image is dropped when the queue is full.
func (u *Uploader) Enqueue(path string, eventType models.EventType) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		u.dropped.Add(1)
		log.Warn().Str("path", path).Msg("Uploader closed, dropping event image")
		return
	}
	select {
	case u.jobs <- uploadJob{path: path, eventType: eventType}:
	default:
		u.dropped.Add(1)
		log.Warn().Str("path", path).Msg("Upload queue full, dropping event image")
	}
}

// Close stops accepting uploads and waits for the worker to drain.
func (u *Uploader) Close() {
	u.mu.Lock()
	if !u.closed {
		u.closed = true
		close(u.jobs)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// Stats returns sent, failed and dropped upload counts.
func (u *Uploader) Stats() (sent, failed, dropped int64) {
	return u.sent.Load(), u.failed.Load(), u.dropped.Load()
}

func (u *Uploader) upload(ctx context.Context, job uploadJob) error {
	raw, err := os.ReadFile(job.path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	conn, _, err := u.dialer.DialContext(ctx, u.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.url, err)
	}
	defer conn.Close()

	msg := UploadMessage{
		Event:     uploadEvent,
		VehicleID: u.vehicleID,
		Target:    "",
		Data: UploadData{
			Message:      uploadMessage,
			Image:        base64.StdEncoding.EncodeToString(raw),
			BehaviorType: string(job.eventType),
		},
	}
	conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send image: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	log.Info().Str("event_type", string(job.eventType)).Str("reply", string(reply)).Msg("Event image uploaded")

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}
