package http

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/hlog"

	"github.com/quantonganh/optin"
)

type appHandler func(w http.ResponseWriter, r *http.Request) error

var codes = map[string]int{
	optin.ErrInvalid:      http.StatusBadRequest,
	optin.ErrUnauthorized: http.StatusUnauthorized,
	optin.ErrNotFound:     http.StatusNotFound,
	optin.ErrConflict:     http.StatusConflict,
	optin.ErrInternal:     http.StatusInternalServerError,
}

type errorResponse struct {
	Error string `json:"error"`
}

// Error translates the application error returned by fn into an HTTP
// status and a JSON body. Internal errors are reported to Sentry.
func (s *Server) Error(fn appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		code := optin.ErrorCode(err)
		logger := hlog.FromRequest(r)
		if code == optin.ErrInternal {
			logger.Error().Err(err).Msg("Request failed")
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.CaptureException(err)
			} else {
				sentry.CaptureException(err)
			}
		} else {
			logger.Warn().Err(err).Str("code", code).Msg("Request rejected")
		}

		writeJSONResponse(w, ErrorStatusCode(code), &errorResponse{
			Error: optin.ErrorMessage(err),
		})
	}
}

// ErrorStatusCode returns the HTTP status for an application error code.
func ErrorStatusCode(code string) int {
	if status, ok := codes[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	//nolint:errcheck
	json.NewEncoder(w).Encode(response)
}
