// internal/membership/handler.go
package membership

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
	directory *Directory
	authorize httpx.Authorizer
	validate  *validation.Validator
	logger    *slog.Logger
}

// NewHandler serves the directory. authorize guards role changes.
func NewHandler(directory *Directory, authorize httpx.Authorizer) *Handler {
	if authorize == nil {
		authorize = httpx.AllowAll
	}
	return &Handler{
		directory: directory,
		authorize: authorize,
		validate:  validation.New(RoleRule()),
		logger:    logger.WithService("membership-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/members", h.HandleRegister)
	r.Post("/members/login", h.HandleLogin)
	r.Get("/members/{name}", h.HandleGet)
	r.Put("/members/{name}/role", h.HandleSetRole)
}

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,role"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type setRoleRequest struct {
	Actor string `json:"actor" validate:"required"`
	Role  string `json:"role" validate:"required,role"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return
	}
	role, _ := ParseRole(req.Role)
	user, err := h.directory.Register(r.Context(), req.Name, req.Email, req.Password, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return
	}
	user, err := h.directory.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return
	}
	if err := h.authorize(r.Context(), req.Actor); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	role, _ := ParseRole(req.Role)
	user, err := h.directory.SetRole(chi.URLParam(r, "name"), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "role changed", "user", user.Name, "role", user.Role, "actor", req.Actor)
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.Fail(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrDuplicateUser):
		httpx.Fail(w, http.StatusConflict, "DUPLICATE_USER", err.Error())
	case errors.Is(err, ErrInvalidUser):
		httpx.Fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Fail(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, ErrRateLimited):
		httpx.Fail(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	default:
		httpx.Error(w, r, h.logger, err)
	}
}
