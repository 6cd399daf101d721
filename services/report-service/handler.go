package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"signalement-platform/pkg/detached"
	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/notify"
	"signalement-platform/pkg/queue"
	"signalement-platform/pkg/response"
	"signalement-platform/pkg/sequence"
	"signalement-platform/pkg/signalement"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type reportHandler struct {
	repo   *signalement.Repository
	events notify.Publisher
	tasks  *detached.Launcher
	log    *zap.Logger
}

func newRouter(h *reportHandler, jwtSecret []byte) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Trace)
	r.Use(middleware.Logger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Trace-Id"},
		ExposedHeaders: []string{"X-Trace-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "report-service"})
	})
	r.Handle("/metrics", middleware.MetricsHandler())
	r.Get("/api/types-signalement", h.listTypes)

	r.Route("/api/signalements", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret))
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/mine", h.mine)
		r.Get("/user/{userId}", h.byUser)
		r.Get("/status/{status}", h.byStatus)
		r.Get("/{id}", h.get)
	})
	return r
}

func (h *reportHandler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var input signalement.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if input.UserID == "" {
		input.UserID = claims.UserID
	}
	if input.UserEmail == "" {
		input.UserEmail = claims.Email
	}

	id, err := h.repo.Create(r.Context(), input)
	if err != nil {
		h.log.Warn("create signalement failed",
			zap.String("trace_id", middleware.GetTraceID(r)),
			zap.Error(err))
		response.FromError(w, statusFor(err), "Impossible de créer le signalement", err)
		return
	}

	h.announce(r.Context(), id, input)
	response.Success(w, http.StatusCreated, "Signalement créé avec succès", map[string]string{"id": id})
}

// announce publishes report.created off the request path; a broker outage
// never fails the creation.
func (h *reportHandler) announce(ctx context.Context, id string, input signalement.CreateInput) *detached.Task {
	if h.events == nil {
		return nil
	}
	ev := notify.NewReportEvent(id, input)
	return h.tasks.Go(ctx, "publish-report-created", func(ctx context.Context) error {
		return h.events.Publish(ctx, queue.KeyReportCreated, ev)
	})
}

func (h *reportHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.GetAll(r.Context())
	h.respondList(w, items, err)
}

func (h *reportHandler) mine(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	items, err := h.repo.GetByUser(r.Context(), claims.UserID)
	h.respondList(w, items, err)
}

func (h *reportHandler) byUser(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.GetByUser(r.Context(), chi.URLParam(r, "userId"))
	h.respondList(w, items, err)
}

func (h *reportHandler) byStatus(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.GetByStatus(r.Context(), signalement.Status(chi.URLParam(r, "status")))
	h.respondList(w, items, err)
}

func (h *reportHandler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, statusFor(err), "Signalement non trouvé", err)
		return
	}
	response.Success(w, http.StatusOK, "", item)
}

func (h *reportHandler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.repo.ListTypes(r.Context())
	if err != nil {
		h.log.Error("list types failed", zap.Error(err))
		response.FromError(w, statusFor(err), "Impossible de charger les types de signalement", err)
		return
	}
	response.Success(w, http.StatusOK, "", types)
}

func (h *reportHandler) respondList(w http.ResponseWriter, items []signalement.Signalement, err error) {
	if err != nil {
		h.log.Error("list signalements failed", zap.Error(err))
		response.FromError(w, statusFor(err), "Impossible de récupérer les signalements", err)
		return
	}
	response.Success(w, http.StatusOK, fmt.Sprintf("%d signalements trouvés", len(items)), items)
}

// statusFor maps repository errors to an HTTP status. A failed sequence
// transaction is retryable, hence 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, signalement.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, signalement.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sequence.ErrTransactionFailed), errors.Is(err, docstore.ErrTxAborted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
