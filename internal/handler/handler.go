// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/pricing"
	"github.com/Shivanand-hulikatti/race-admission/internal/repository"
	"github.com/Shivanand-hulikatti/race-admission/internal/response"
	"github.com/Shivanand-hulikatti/race-admission/internal/service"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// Service is the subset of the registration service the handlers use.
type Service interface {
	CreateDistance(ctx context.Context, req model.CreateDistanceRequest) (*model.DistanceView, error)
	ListDistances(ctx context.Context) ([]model.DistanceView, error)
	GetDistance(ctx context.Context, id string) (*model.DistanceView, error)
	Register(ctx context.Context, distanceID string, req model.RegisterRequest) (model.AdmissionDecision, error)
	QuotePrice(ctx context.Context, distanceID string, req model.QuoteRequest) (*pricing.Breakdown, error)
	ListRegistrations(ctx context.Context, distanceID string) ([]model.Registration, error)
	CancelRegistration(ctx context.Context, id string) (*model.Registration, error)
	ConfirmRegistration(ctx context.Context, id string) (*model.Registration, error)
}

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc Service
	log *slog.Logger
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc Service, log *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, log: log.With(sl.Module("http.handler"))}
}

func (h *RegistrationHandler) logger(r *http.Request) *slog.Logger {
	return h.log.With(
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
	)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, response.Error(msg))
}

// writeServiceError maps service and repository errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFound)
	case errors.Is(err, repository.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, pricing.ErrCrewPriceUndefined):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Rejected(string(model.ReasonCrewPriceUndefined), err.Error(), nil))
	default:
		log.Error("request failed", sl.Err(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// reasonStatus maps an admission rejection to its HTTP status.
func reasonStatus(reason model.Reason) int {
	switch reason {
	case model.ReasonCapacityFull:
		return http.StatusConflict
	case model.ReasonDistanceNotFound:
		return http.StatusNotFound
	case model.ReasonCrewPriceUndefined:
		return http.StatusUnprocessableEntity
	case model.ReasonGateTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CreateDistance handles POST /distances
func (h *RegistrationHandler) CreateDistance(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)

	var req model.CreateDistanceRequest
	if err := render.Bind(r, &req); err != nil {
		log.Debug("bind request", sl.Err(err))
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	view, err := h.svc.CreateDistance(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, log, err, "distance not found")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Ok(view))
}

// ListDistances handles GET /distances
func (h *RegistrationHandler) ListDistances(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.ListDistances(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r), err, "distance not found")
		return
	}
	if views == nil {
		views = []model.DistanceView{}
	}
	render.JSON(w, r, response.Ok(views))
}

// GetDistance handles GET /distances/{id}
func (h *RegistrationHandler) GetDistance(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetDistance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger(r), err, "distance not found")
		return
	}
	render.JSON(w, r, response.Ok(view))
}

// Register handles POST /distances/{id}/register
// Accepted registrations return 201; rejections carry the reason code.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := h.logger(r).With(slog.String("distance_id", id))

	var req model.RegisterRequest
	if err := render.Bind(r, &req); err != nil {
		log.Debug("bind request", sl.Err(err))
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	decision, err := h.svc.Register(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, log, err, "distance not found")
		return
	}

	if !decision.Accepted {
		log.Info("registration rejected", slog.String("user_id", req.UserID), slog.String("reason", string(decision.Reason)))
		render.Status(r, reasonStatus(decision.Reason))
		render.JSON(w, r, response.Rejected(string(decision.Reason), decision.Reason.Message(), decision))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Ok(decision))
}

// Quote handles POST /distances/{id}/quote
func (h *RegistrationHandler) Quote(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)

	var req model.QuoteRequest
	if err := render.Bind(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	b, err := h.svc.QuotePrice(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, log, err, "distance not found")
		return
	}
	render.JSON(w, r, response.Ok(b))
}

// ListRegistrations handles GET /distances/{id}/registrations
func (h *RegistrationHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger(r), err, "distance not found")
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	render.JSON(w, r, response.Ok(regs))
}

// CancelRegistration handles POST /registrations/{id}/cancel
func (h *RegistrationHandler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.CancelRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger(r), err, "registration not found")
		return
	}
	render.JSON(w, r, response.Ok(reg))
}

// ConfirmRegistration handles POST /registrations/{id}/confirm
func (h *RegistrationHandler) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.ConfirmRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger(r), err, "registration not found")
		return
	}
	render.JSON(w, r, response.Ok(reg))
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.Ok(map[string]string{"status": "ok"}))
}

// NotFound answers unknown routes with the JSON envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "route not found")
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
