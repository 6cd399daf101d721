package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"signalement-platform/pkg/lockout"
	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// authHandler exposes the lockout tracker to the login front end. Password
// checks happen upstream; this service only counts outcomes.
type authHandler struct {
	tracker *lockout.Tracker
	log     *zap.Logger
}

type emailRequest struct {
	Email string `json:"email"`
}

type failureResponse struct {
	Attempts     int  `json:"attempts"`
	Blocked      bool `json:"blocked"`
	NewlyBlocked bool `json:"newly_blocked"`
}

func newRouter(h *authHandler, jwtSecret []byte) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Trace)
	r.Use(middleware.Logger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "auth-service"})
	})
	r.Handle("/metrics", middleware.MetricsHandler())

	r.Route("/internal/auth", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSecret))
		r.Use(middleware.RequireRole("service", "admin"))
		r.Post("/failed-attempt", h.failedAttempt)
		r.Post("/login-success", h.loginSuccess)
		r.Get("/status", h.status)
	})
	return r
}

func decodeEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return "", false
	}
	return req.Email, true
}

func (h *authHandler) failedAttempt(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}
	out, err := h.tracker.RecordFailure(r.Context(), email)
	if err != nil {
		h.log.Error("record failed attempt",
			zap.String("trace_id", middleware.GetTraceID(r)),
			zap.Error(err))
		response.FromError(w, statusFor(err), "Impossible d'enregistrer la tentative", err)
		return
	}
	msg := "Tentative enregistrée"
	if out.Blocked {
		msg = "Compte bloqué"
	}
	response.Success(w, http.StatusOK, msg, failureResponse{
		Attempts:     out.Attempts,
		Blocked:      out.Blocked,
		NewlyBlocked: out.NewlyBlocked,
	})
}

func (h *authHandler) loginSuccess(w http.ResponseWriter, r *http.Request) {
	email, ok := decodeEmail(w, r)
	if !ok {
		return
	}
	if err := h.tracker.RecordSuccess(r.Context(), email); err != nil {
		h.log.Error("record login success",
			zap.String("trace_id", middleware.GetTraceID(r)),
			zap.Error(err))
		response.FromError(w, statusFor(err), "Impossible de réinitialiser le compte", err)
		return
	}
	response.Success(w, http.StatusOK, "Compte actif", nil)
}

func (h *authHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.Inspect(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		response.FromError(w, statusFor(err), "Impossible de lire l'état du compte", err)
		return
	}
	response.Success(w, http.StatusOK, "", st)
}

func statusFor(err error) int {
	if errors.Is(err, lockout.ErrEmailRequired) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
