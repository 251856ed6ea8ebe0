// internal/httpx/httpx.go
package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/jules-labs/lending/internal/outcome"
	"github.com/jules-labs/lending/internal/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

var statusByCode = map[outcome.Code]int{
	outcome.PermissionDenied:     http.StatusForbidden,
	outcome.NotFound:             http.StatusNotFound,
	outcome.BorrowLimitExceeded:  http.StatusConflict,
	outcome.ItemUnavailable:      http.StatusConflict,
	outcome.HeldByAnotherUser:    http.StatusConflict,
	outcome.NoActiveLoan:         http.StatusConflict,
	outcome.RevokeWindowExpired:  http.StatusConflict,
	outcome.DuplicateReservation: http.StatusConflict,
	outcome.AlreadyReserved:      http.StatusConflict,
	outcome.NothingToCancel:      http.StatusConflict,
}

// StatusOf maps a denial code to an HTTP status.
func StatusOf(code outcome.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Fail writes an error body.
func Fail(w http.ResponseWriter, status int, code, reason string) {
	JSON(w, status, ErrorBody{Code: code, Reason: reason})
}

// Error writes err. Denials keep their code and reason; anything else is
// logged and reported as an internal error.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var denial *outcome.Error
	if errors.As(err, &denial) {
		Fail(w, StatusOf(denial.Code), string(denial.Code), denial.Reason)
		return
	}
	logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	Fail(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// Decode reads a JSON body into v and validates it. A failure has already
// been written to w when ok is false.
func Decode(w http.ResponseWriter, r *http.Request, v *validation.Validator, dst any) (ok bool) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		Fail(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := v.Validate(dst); err != nil {
		Fail(w, http.StatusBadRequest, "BAD_REQUEST", validationReason(err))
		return false
	}
	return true
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag())
}
