package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"runthru/internal/domain"
	"runthru/internal/events"
)

// snapshotEvent renders a stored recording as the event a late subscriber
// would have seen last.
func snapshotEvent(rec *domain.Recording) events.Event {
	return events.Event{
		RecordingID: rec.ID,
		Type:        events.TypeStatus,
		Status:      rec.Status,
		Progress:    rec.Progress,
		CurrentStep: rec.CurrentStep,
		Timestamp:   rec.UpdatedAt,
	}
}

// subscribe opens a stream for the :id parameter, or for every recording
// when the route has none. The returned snapshot is nil for the firehose.
func (s *Server) subscribe(c *gin.Context) (<-chan events.Event, func(), *events.Event, bool) {
	recordingID := c.Param("id")
	if recordingID == "" {
		ch, cancel := s.recs.Events().Subscribe(events.AllRecordings)
		return ch, cancel, nil, true
	}
	// Subscribe before reading the snapshot so no transition falls between.
	ch, cancel := s.recs.Events().Subscribe(recordingID)
	rec, err := s.recs.Get(c.Request.Context(), recordingID)
	if err != nil {
		cancel()
		s.writeError(c, err)
		return nil, nil, nil, false
	}
	snap := snapshotEvent(rec)
	return ch, cancel, &snap, true
}

func (s *Server) handleSSE(c *gin.Context) {
	ch, cancel, snap, ok := s.subscribe(c)
	if !ok {
		return
	}
	defer cancel()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(e events.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Error("encode event: %v", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
			return false
		}
		w.Flush()
		return true
	}

	if snap != nil {
		if !send(*snap) || snap.Terminal() {
			return
		}
	} else {
		w.Flush()
	}

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case e, open := <-ch:
			if !open {
				return
			}
			if !send(e) {
				return
			}
			if snap != nil && e.Terminal() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			w.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ch, cancel, snap, ok := s.subscribe(c)
	if !ok {
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade for %s: %v", c.Param("id"), err)
		return
	}
	defer conn.Close()

	// The reader only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e events.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(e) == nil
	}
	finish := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "recording finished"),
			time.Now().Add(time.Second))
	}

	if !write(*snap) {
		return
	}
	if snap.Terminal() {
		finish()
		return
	}
	ping := time.NewTicker(s.cfg.SSEHeartbeat)
	defer ping.Stop()
	for {
		select {
		case e, open := <-ch:
			if !open || !write(e) {
				return
			}
			if e.Terminal() {
				finish()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
