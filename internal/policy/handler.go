// internal/policy/handler.go
package policy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/httpx"
	"github.com/jules-labs/lending/internal/logger"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/outcome"
	"github.com/jules-labs/lending/internal/validation"
)

// CatalogEditors admits the actors CanEditCatalog allows.
func (p *Policy) CatalogEditors(users *membership.Directory) httpx.Authorizer {
	return func(_ context.Context, actor string) error {
		user, err := users.Get(actor)
		if errors.Is(err, membership.ErrUserNotFound) {
			return outcome.Denyf(outcome.PermissionDenied, "unknown actor %s", actor)
		}
		if err != nil {
			return err
		}
		return p.CanEditCatalog(user).Err()
	}
}

type Handler struct {
	policy   *Policy
	users    *membership.Directory
	items    *catalog.Registry
	validate *validation.Validator
	logger   *slog.Logger
}

// NewHandler serves the role table and access checks. Role changes are
// restricted to catalog editors.
func NewHandler(policy *Policy, users *membership.Directory, items *catalog.Registry) *Handler {
	return &Handler{
		policy:   policy,
		users:    users,
		items:    items,
		validate: validation.New(),
		logger:   logger.WithService("policy-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/roles", h.HandleRoles)
	r.Put("/roles/{role}", h.HandleSetLimits)
	r.Get("/access/{user}", h.HandleUserAccess)
	r.Get("/access/{user}/{item}", h.HandleItemAccess)
}

type setLimitsRequest struct {
	Actor            string `json:"actor" validate:"required"`
	BorrowLimit      *int   `json:"borrow_limit" validate:"required,gte=0"`
	LoanDurationDays *int   `json:"loan_duration_days" validate:"required,gte=0"`
}

type roleLimits struct {
	Role membership.Role `json:"role"`
	Limits
}

// ItemAccess answers every item-level predicate for one user.
type ItemAccess struct {
	Borrow   Decision `json:"borrow"`
	Reserve  Decision `json:"reserve"`
	Download Decision `json:"download"`
}

// UserAccess answers the user-level predicates.
type UserAccess struct {
	RequestPaper Decision `json:"request_paper"`
	EditCatalog  Decision `json:"edit_catalog"`
}

func (h *Handler) HandleRoles(w http.ResponseWriter, r *http.Request) {
	snapshot := h.policy.Roles().Snapshot()
	out := make([]roleLimits, 0, len(snapshot))
	for _, role := range membership.Roles {
		if l, ok := snapshot[role]; ok {
			out = append(out, roleLimits{Role: role, Limits: l})
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) HandleSetLimits(w http.ResponseWriter, r *http.Request) {
	role, err := membership.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req setLimitsRequest
	if !httpx.Decode(w, r, h.validate, &req) {
		return
	}
	if err := h.policy.CatalogEditors(h.users)(r.Context(), req.Actor); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	limits := Limits{BorrowLimit: *req.BorrowLimit, LoanDurationDays: *req.LoanDurationDays}
	if err := h.policy.Roles().Set(role, limits); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "role limits changed",
		"role", role, "borrow_limit", limits.BorrowLimit, "loan_duration_days", limits.LoanDurationDays, "actor", req.Actor)
	httpx.JSON(w, http.StatusOK, roleLimits{Role: role, Limits: limits})
}

func (h *Handler) HandleUserAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, UserAccess{
		RequestPaper: h.policy.CanRequestPaper(user),
		EditCatalog:  h.policy.CanEditCatalog(user),
	})
}

func (h *Handler) HandleItemAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "item")
	item, err := h.items.Get(key)
	if errors.Is(err, catalog.ErrItemNotFound) {
		httpx.Error(w, r, h.logger, outcome.Denyf(outcome.NotFound, "unknown item %s", key))
		return
	}
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ItemAccess{
		Borrow:   h.policy.CanBorrow(user, item),
		Reserve:  h.policy.CanReserve(user, item),
		Download: h.policy.CanDownload(user, item),
	})
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (membership.User, bool) {
	name := chi.URLParam(r, "user")
	user, err := h.users.Get(name)
	if errors.Is(err, membership.ErrUserNotFound) {
		httpx.Error(w, r, h.logger, outcome.Denyf(outcome.NotFound, "unknown user %s", name))
		return membership.User{}, false
	}
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return membership.User{}, false
	}
	return user, true
}
