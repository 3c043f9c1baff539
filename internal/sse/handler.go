package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const writeDeadline = 60 * time.Second

// Handler serves the event stream at GET /api/v1/events. The optional
// ?person=<id> query narrows the stream to that person's command events.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// ServeHTTP streams events until the client goes away or the manager
// shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	personID := 0
	if raw := r.URL.Query().Get("person"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "person must be a positive integer", http.StatusBadRequest)
			return
		}
		personID = n
	}

	if r.Context().Err() != nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream unsupported", "error", err)
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(personID)
	if err != nil {
		h.logger.Error("register event client", "error", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	log := h.logger.With("client_id", client.ID)

	hello := Event{
		ID:        client.ID,
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]any{"client_id": client.ID, "person_id": personID},
	}
	if err := h.write(w, rc, hello); err != nil {
		log.Warn("send connected event", "error", err)
		return
	}

	for {
		select {
		case evt, ok := <-client.EventChan:
			if !ok {
				return
			}
			if err := h.write(w, rc, evt); err != nil {
				log.Debug("client went away mid-write", "error", err)
				return
			}
		case <-client.Done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// write emits one event:
//
//	id: <id>
//	event: <type>
//	data: <json>
func (h *Handler) write(w http.ResponseWriter, rc *http.ResponseController, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}
	// Not every ResponseWriter supports deadlines.
	if err := rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		h.logger.Debug("set write deadline", "error", err)
	}
	return nil
}
