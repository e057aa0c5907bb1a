package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/service"
)

const wsWriteTimeout = 10 * time.Second

// handleStream sends job events as server-sent events. Logged events carry
// their sequence number as the SSE id.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}
	id := r.PathValue("id")
	stream, err := s.jobs.Subscribe(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for env := range stream {
		if err := WriteSSE(w, env); err != nil {
			s.logger.Debug("sse client gone", "job_id", id, "error", err)
			return
		}
		flusher.Flush()
	}
}

// WriteSSE writes one event in text/event-stream framing.
func WriteSSE(w io.Writer, env service.Envelope) error {
	data, err := models.MarshalEvent(env.Event)
	if err != nil {
		return err
	}
	if env.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", env.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event.Type(), data)
	return err
}

// handleWebSocket sends the same events as text frames. Closing the socket
// detaches the consumer; the job keeps running.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.jobs.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only notices the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stream, err := s.jobs.Subscribe(ctx, id)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}

	for env := range stream {
		data, err := models.MarshalEvent(env.Event)
		if err != nil {
			s.logger.Error("marshal event", "job_id", id, "error", err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("websocket client gone", "job_id", id, "error", err)
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
}
