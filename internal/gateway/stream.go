// ABOUTME: Live event streams over SSE and WebSocket
// ABOUTME: A stream holds a world subscription until the client disconnects

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/event"
)

const wsWriteTimeout = 5 * time.Second

// parseStreamRequest reads ?topic= (repeatable or comma separated), ?chat=
// and ?agent= into bus arguments.
func parseStreamRequest(r *http.Request) ([]bus.Topic, *bus.Filter, error) {
	q := r.URL.Query()

	var topics []bus.Topic
	for _, raw := range q["topic"] {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			t, err := bus.ParseTopic(name)
			if err != nil {
				return nil, nil, err
			}
			topics = append(topics, t)
		}
	}

	f := &bus.Filter{AgentID: q.Get("agent")}
	if c := q.Get("chat"); c != "" {
		f.ChatID = &c
	}
	return topics, f, nil
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, eventType string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(eventType, string(dataJSON)))
}

// handleStream handles GET /api/worlds/{world}/stream as Server-Sent Events.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	topics, filter, err := parseStreamRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := sub.Bus().Stream(ctx, filter, topics...)
	if err != nil {
		g.sendWorldError(w, "failed to open stream", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "ready", map[string]string{
		"world_id":        sub.WorldID(),
		"subscription_id": sub.ID(),
	})
	flusher.Flush()

	g.logger.Debug("SSE stream opened", "world_id", sub.WorldID(), "subscription_id", sub.ID())

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				g.writeSSEEvent(w, "error", map[string]string{"error": "world unloaded"})
				flusher.Flush()
				return
			}
			g.writeSSEEvent(w, string(e.Type), e)
			flusher.Flush()
		}
	}
}

// wsEnvelope is one WebSocket text frame.
type wsEnvelope struct {
	Type  string       `json:"type"`
	Event *event.Event `json:"event,omitempty"`
	Data  any          `json:"data,omitempty"`
}

// handleWebSocket handles GET /api/worlds/{world}/ws. The connection is
// read-only from the client side; anything the client sends is discarded.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topics, filter, err := parseStreamRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The request context is not cancelled for hijacked connections, so the
	// reader loop owns cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := sub.Bus().Stream(ctx, filter, topics...)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "world unavailable"),
			time.Now().Add(time.Second))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * g.heartbeat))
	})

	// Reader loop: detect close and answer pings.
	go func() {
		defer cancel()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * g.heartbeat))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v wsEnvelope) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	if err := write(wsEnvelope{Type: "ready", Data: map[string]string{
		"world_id":        sub.WorldID(),
		"subscription_id": sub.ID(),
	}}); err != nil {
		return
	}

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "world unloaded"),
					time.Now().Add(time.Second))
				return
			}
			if err := write(wsEnvelope{Type: string(e.Type), Event: e}); err != nil {
				g.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
