package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/models"
)

const (
	streamWriteWait         = 10 * time.Second
	streamPongWait          = 60 * time.Second
	streamPingPeriod        = (streamPongWait * 9) / 10
	defaultStreamPollPeriod = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// progressEvent is one frame of the analysis stream.
type progressEvent struct {
	ID            uuid.UUID        `json:"id"`
	Status        models.JobStatus `json:"status"`
	Progress      int              `json:"progress"`
	StatusMessage string           `json:"status_message"`
	Error         string           `json:"error,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
}

func eventFor(job *models.AnalysisJob) progressEvent {
	return progressEvent{
		ID:            job.ID,
		Status:        job.Status,
		Progress:      job.Progress,
		StatusMessage: job.StatusMessage,
		Error:         job.Error,
		Result:        job.Result,
	}
}

func (e progressEvent) sameState(o progressEvent) bool {
	return e.Status == o.Status && e.Progress == o.Progress && e.StatusMessage == o.StatusMessage
}

// StreamAnalysis upgrades to a WebSocket and pushes a frame each time the
// job's status or progress changes. The server closes the socket normally
// once the job reaches a terminal state.
func (h *Handler) StreamAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	tenantID := tenantFrom(r.Context()).ID

	job, err := h.Jobs.Get(r.Context(), tenantID, id)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	log := h.log.With(zap.String("job_id", id.String()))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	last := eventFor(job)
	if err := writeFrame(conn, last); err != nil {
		return
	}

	poll := time.NewTicker(h.streamPoll())
	defer poll.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	// The request context is not tied to a hijacked connection.
	ctx := context.WithoutCancel(r.Context())
	for !last.Status.Terminal() {
		select {
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			job, err := h.Jobs.Get(ctx, tenantID, id)
			if err != nil {
				log.Warn("stream poll failed", zap.Error(err))
				closeStream(conn, websocket.CloseInternalServerErr, "analysis unavailable")
				return
			}
			next := eventFor(job)
			if next.sameState(last) {
				continue
			}
			if err := writeFrame(conn, next); err != nil {
				return
			}
			last = next
		}
	}

	closeStream(conn, websocket.CloseNormalClosure, string(last.Status))
}

func (h *Handler) streamPoll() time.Duration {
	if h.StreamPollInterval > 0 {
		return h.StreamPollInterval
	}
	return defaultStreamPollPeriod
}

func writeFrame(conn *websocket.Conn, ev progressEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
