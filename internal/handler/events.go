package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/sse"
)

type EventsHandler struct {
	broker *sse.Broker
}

func NewEventsHandler(broker *sse.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// ServeHTTP streams broker events. The host receives every event; a device
// receives its own session's events and broadcasts.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	isHost := middleware.IsHost(r.Context())

	var topics []string
	switch {
	case session != nil:
		topics = []string{sse.SessionTopic(session.ID), sse.TopicBroadcast}
	case isHost:
		topics = []string{sse.TopicHost}
	default:
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(topics...)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Strs("topics", topics).
		Msg("sse connection established")

	connected := map[string]any{"host": isHost}
	if session != nil {
		connected["session_id"] = session.ID
		connected["status"] = session.Status
	}
	if err := h.sendEvent(w, flusher, "connected", connected); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Strs("topics", topics).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Debug().
				Strs("topics", topics).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
