// internal/catalog/handler.go
package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jules-labs/lending/internal/httpx"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/validation"
)

type Handler struct {
	registry  *Registry
	authorize httpx.Authorizer
	validate  *validation.Validator
	logger    *slog.Logger
}

// NewHandler serves the registry. authorize decides who may add items.
func NewHandler(registry *Registry, authorize httpx.Authorizer) *Handler {
	if authorize == nil {
		authorize = httpx.AllowAll
	}
	return &Handler{
		registry:  registry,
		authorize: authorize,
		validate:  validation.New(KindRule()),
		logger:    logger.WithService("catalog-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/items", h.HandleList)
	r.Post("/items", h.HandleAdd)
}

type addItemRequest struct {
	Actor   string   `json:"actor" validate:"required"`
	Key     string   `json:"key" validate:"required"`
	Title   string   `json:"title" validate:"required"`
	Authors []string `json:"authors"`
	Kind    string   `json:"kind" validate:"required,kind"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.registry.List())
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return
	}
	if err := h.authorize(r.Context(), req.Actor); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	kind, _ := ParseKind(req.Kind)
	item, err := h.registry.Add(Item{Key: req.Key, Title: req.Title, Authors: req.Authors, Kind: kind})
	switch {
	case errors.Is(err, ErrDuplicateItem):
		httpx.Fail(w, http.StatusConflict, "DUPLICATE_ITEM", err.Error())
	case errors.Is(err, ErrInvalidItem):
		httpx.Fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case err != nil:
		httpx.Error(w, r, h.logger, err)
	default:
		h.logger.InfoContext(r.Context(), "item added", "key", item.Key, "kind", item.Kind, "actor", req.Actor)
		httpx.JSON(w, http.StatusCreated, item)
	}
}
