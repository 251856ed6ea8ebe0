// internal/circulation/handler.go
package circulation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jules-labs/lending/internal/httpx"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/validation"
)

type Handler struct {
	service   Service
	authorize httpx.Authorizer
	validate  *validation.Validator
	logger    *slog.Logger
}

// NewHandler serves the coordinator over HTTP. authorize guards the review,
// completion and audit routes.
func NewHandler(service Service, authorize httpx.Authorizer) *Handler {
	if authorize == nil {
		authorize = httpx.AllowAll
	}
	return &Handler{
		service:   service,
		authorize: authorize,
		validate:  validation.New(),
		logger:    logger.WithService("circulation-http"),
	}
}

// Register mounts the lending routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/loans", h.HandleBorrow)
	r.Post("/loans/return", h.HandleReturn)
	r.Post("/loans/revoke", h.HandleRevoke)
	r.Post("/loans/{id}/complete", h.HandleComplete)
	r.Get("/users/{user}/loans", h.HandleLoans)

	r.Post("/reservations", h.HandleReserve)
	r.Post("/reservations/cancel", h.HandleCancel)

	r.Get("/items/{key}", h.HandleItem)
	r.Post("/items/{key}/review", h.HandleReview)
	r.Post("/items/{key}/release", h.HandleRelease)
	r.Get("/items/{key}/audit", h.HandleAudit)
}

type lendingRequest struct {
	User string `json:"user" validate:"required"`
	Item string `json:"item" validate:"required"`
}

type adminRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) decodeLending(w http.ResponseWriter, r *http.Request) (lendingRequest, bool) {
	var req lendingRequest
	ok := httpx.Decode(w, r, h.validate, &req)
	return req, ok
}

// admin decodes an adminRequest and checks the actor.
func (h *Handler) admin(w http.ResponseWriter, r *http.Request) bool {
	var req adminRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return false
	}
	if err := h.authorize(r.Context(), req.Actor); err != nil {
		httpx.Error(w, r, h.logger, err)
		return false
	}
	return true
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLending(w, r)
	if !ok {
		return
	}
	loan, err := h.service.Borrow(r.Context(), req.User, req.Item)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLending(w, r)
	if !ok {
		return
	}
	loan, err := h.service.Return(r.Context(), req.User, req.Item)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLending(w, r)
	if !ok {
		return
	}
	loan, err := h.service.Revoke(r.Context(), req.User, req.Item)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_REQUEST", "invalid loan ID")
		return
	}
	if !h.admin(w, r) {
		return
	}
	loan, err := h.service.CompleteLoan(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.Loans(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLending(w, r)
	if !ok {
		return
	}
	res, err := h.service.Reserve(r.Context(), req.User, req.Item)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLending(w, r)
	if !ok {
		return
	}
	hold, err := h.service.CancelReservation(r.Context(), req.User, req.Item)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, hold)
}

func (h *Handler) HandleItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Item(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	item, err := h.service.PlaceUnderReview(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	item, err := h.service.ReleaseReview(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

// HandleAudit answers 200 when the item is consistent and 409 with the
// violation otherwise.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	err := h.service.Audit(r.Context(), chi.URLParam(r, "key"))
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]bool{"consistent": true})
	case errors.Is(err, ErrInvariantViolated):
		httpx.Fail(w, http.StatusConflict, "INVARIANT_VIOLATED", err.Error())
	default:
		httpx.Error(w, r, h.logger, err)
	}
}
