package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/notify"
	"signalement-platform/pkg/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type notificationHandler struct {
	hub    *notify.Hub
	secret []byte
	log    *zap.Logger
}

func newRouter(h *notificationHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Trace)

	// SSE routes skip the access log and request metrics.
	r.Get("/notifications/subscribe", h.subscribe)
	r.Get("/subscribe", h.subscribe)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger(h.log))
		r.Use(chimw.Recoverer)
		r.Use(middleware.Metrics)
		r.Get("/health", h.health)
		r.Handle("/metrics", middleware.MetricsHandler())
	})
	return r
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// subscribe streams events to one browser. EventSource cannot set headers,
// so the token may also come from the query string.
func (h *notificationHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	tok := bearerToken(r)
	if tok == "" {
		response.Error(w, http.StatusUnauthorized, "Missing token", "")
		return
	}
	claims, err := middleware.ParseToken(tok, h.secret)
	if err != nil {
		h.log.Warn("invalid token on subscribe", zap.Error(err))
		response.Error(w, http.StatusUnauthorized, "Invalid or expired token", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := h.hub.Register(claims.UserID, claims.Role)
	defer h.hub.Unregister(client)

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected","message":"Connection established"}`)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-client.Send:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *notificationHandler) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":            "UP",
		"service":           "notification-service",
		"connected_clients": h.hub.Len(),
	})
}

// deliver decodes one queue message and fans it out to connected clients.
func (h *notificationHandler) deliver(d amqp.Delivery) error {
	var ev notify.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	n := h.hub.Broadcast(ev)
	h.log.Debug("notification delivered",
		zap.String("report_id", ev.ReportID),
		zap.String("type", ev.Type),
		zap.Int("clients", n))
	return nil
}
