package handlers

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hybridgroup/mjpeg"
	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/framebuffer"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 50 * time.Second
	jpegQuality = 80
)

// Streams keeps one MJPEG stream per frame kind and feeds them from the
// shared frame state.
type Streams struct {
	frames  *framebuffer.SharedFrameState
	streams map[framebuffer.Kind]*mjpeg.Stream
	lastSeq map[framebuffer.Kind]uint64
}

func NewStreams(frames *framebuffer.SharedFrameState) *Streams {
	s := &Streams{
		frames:  frames,
		streams: make(map[framebuffer.Kind]*mjpeg.Stream),
		lastSeq: make(map[framebuffer.Kind]uint64),
	}
	for _, k := range []framebuffer.Kind{framebuffer.Raw, framebuffer.Processed, framebuffer.Debug} {
		s.streams[k] = mjpeg.NewStream()
	}
	return s
}

// Run pushes every new frame to its stream until ctx is cancelled.
func (s *Streams) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pump()
		}
	}
}

// pump encodes the frames published since the previous call. Frames whose
// sequence number did not change are skipped.
func (s *Streams) pump() int {
	updated := 0
	for k, stream := range s.streams {
		f := s.frames.Frame(k)
		if f == nil || f.Image == nil || f.Seq == s.lastSeq[k] {
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
			log.Error().Err(err).Stringer("kind", k).Msg("Failed to encode stream frame")
			continue
		}
		stream.UpdateJPEG(buf.Bytes())
		s.lastSeq[k] = f.Seq
		updated++
	}
	return updated
}

func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	kind, ok := framebuffer.ParseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown stream: "+r.PathValue("kind"))
		return
	}
	log.Info().Stringer("kind", kind).Str("remote", r.RemoteAddr).Msg("Video client connected")
	h.opts.Metrics.AddVideoClients(1)
	defer h.opts.Metrics.AddVideoClients(-1)
	h.streams.streams[kind].ServeHTTP(w, r)
	log.Info().Stringer("kind", kind).Str("remote", r.RemoteAddr).Msg("Video client disconnected")
}

// FacialMetricsSocket pushes the latest facial metrics at a fixed rate.
// Zero values are sent until the loop has published anything.
func (h *Handler) FacialMetricsSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, "facial-metrics", h.opts.MetricsInterval, func() (interface{}, bool) {
		fm, _ := h.opts.Frames.FacialMetrics()
		return fm, true
	})
}

// NotificationsSocket delivers each new event id once. With several clients
// connected an id goes to whichever client polls first.
func (h *Handler) NotificationsSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, "notifications", h.opts.NotifyInterval, func() (interface{}, bool) {
		e, ok := h.opts.Frames.TakeRecentEvent()
		if !ok {
			return nil, false
		}
		return e, true
	})
}

// serveSocket upgrades the connection and writes next() every interval until
// the client goes away.
func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request, name string, interval time.Duration, next func() (interface{}, bool)) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("socket", name).Msg("websocket upgrade failed")
		h.opts.Metrics.IncrementWebSocketErrors()
		return
	}

	h.opts.Metrics.IncrementWebSocketConnections()
	log.Info().Str("socket", name).Str("remote", r.RemoteAddr).Msg("WebSocket client connected")
	defer func() {
		h.opts.Metrics.DecrementWebSocketConnections()
		conn.Close()
		log.Info().Str("socket", name).Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	}()

	closed := make(chan struct{})
	go readPump(conn, closed)
	writePump(conn, closed, interval, next, h.opts.Metrics.IncrementWebSocketMessages)
}

// Цикл чтения: держим соединение живым и ловим закрытие
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, closed <-chan struct{}, interval time.Duration, next func() (interface{}, bool), sent func()) {
	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	for {
		select {
		case <-closed:
			return

		case <-ticker.C:
			msg, ok := next()
			if !ok {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			sent()

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
