package api

import (
	"errors"
	"net/http"

	"accounts.api/internal/access"
	"accounts.api/internal/ledger"
	"accounts.api/internal/store"
)

// validationError carries a message that is safe to show to the caller.
type validationError string

func (e validationError) Error() string { return string(e) }

var (
	errWrongCredentials = errors.New("wrong password or phone number")
	errNotVerified      = errors.New("please verify your account first")
	errInvalidCode      = validationError("invalid code")
)

// statusFor maps an error to the response status and message.
func statusFor(err error) (int, string) {
	var ve validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, ledger.ErrUnknownType):
		return http.StatusBadRequest, "type must be Deposit or Withdrawal"
	case errors.Is(err, store.ErrRoleNotFound):
		return http.StatusBadRequest, store.ErrRoleNotFound.Error()
	case errors.Is(err, store.ErrNotVerified):
		return http.StatusBadRequest, "please verify your phone number"
	case errors.Is(err, errWrongCredentials):
		return http.StatusUnauthorized, errWrongCredentials.Error()
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden, access.ErrForbidden.Error()
	case errors.Is(err, errNotVerified):
		return http.StatusForbidden, errNotVerified.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, store.ErrNotFound.Error()
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, store.ErrUserNotFound.Error()
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict, "email or phone number already exists"
	case errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusConflict, store.ErrInsufficientBalance.Error()
	case errors.Is(err, store.ErrBalanceOutOfRange):
		return http.StatusConflict, store.ErrBalanceOutOfRange.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, store.ErrConflict.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail answers with the mapped error and logs a failure event. Unexpected
// errors are logged with their cause.
func (s *Server) fail(w http.ResponseWriter, event string, err error, fields map[string]any) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("%s error: %v", event, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["reason"] = message
	fields["status"] = status
	s.logEvent(event, fields)
	writeError(w, status, message)
}
