package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/audex/internal/progress"
)

// EventsHandler streams extraction progress as server-sent events.
type EventsHandler struct {
	hub               *progress.Hub
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(hub *progress.Hub) *EventsHandler {
	return &EventsHandler{
		hub:               hub,
		heartbeatInterval: 30 * time.Second,
		logger:            slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (h *EventsHandler) WithLogger(logger *slog.Logger) *EventsHandler {
	h.logger = logger
	return h
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterRoutes registers the SSE endpoint on a chi router.
// This is separate from huma because huma doesn't support SSE streaming natively.
func (h *EventsHandler) RegisterRoutes(router chi.Router) {
	router.Get(extractionsPath+"/events", h.handleEvents)
}

// handleEvents streams hub updates. With ?id= only that job is streamed and
// its current snapshot is sent first so late subscribers see where it is.
func (h *EventsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	jobID := r.URL.Query().Get("id")
	sub := h.hub.Subscribe(jobID)
	defer h.hub.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if jobID != "" {
		if snap, err := h.hub.Get(jobID); err == nil {
			if err := h.writeEvent(w, &progress.Update{
				EventType: progress.EventTypeFor(snap.State),
				Job:       snap,
				Timestamp: snap.UpdatedAt,
			}); err != nil {
				return
			}
		}
	}
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case update, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeEvent(w, update); err != nil {
				h.logger.Error("failed to write SSE event",
					slog.String("event_type", update.EventType),
					slog.String("job_id", update.Job.JobID),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// writeEvent writes one update in SSE framing as a single write.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, update *progress.Update) error {
	data, err := json.Marshal(update.Job)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", update.EventType, data))
	n, err := w.Write(message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
