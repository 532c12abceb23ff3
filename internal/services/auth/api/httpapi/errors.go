package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
)

const (
	msgAuthFailed  = "authentication failed"
	msgInternal    = "internal error"
	msgRateLimited = "too many requests"
)

// handlerWithError is a handler that returns its failure instead of writing
// it, so every route shares one error mapping.
type handlerWithError func(http.ResponseWriter, *http.Request) error

type errorBody struct {
	Error string `json:"error"`
}

// errorHandler converts a returned error into the response. Authentication
// failures collapse into one generic 401 and uncoded errors into a generic
// 500; the detailed cause is only logged.
func errorHandler(logger *slog.Logger, fn handlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		writeError(w, r, logger, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := apperrors.GetCode(err)
	switch {
	case code.IsAuthFailure():
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: msgAuthFailed})
	case code == apperrors.CodeUnknown:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgInternal})
	default:
		status := code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", string(code), "error", err)
			writeJSON(w, status, errorBody{Error: http.StatusText(status)})
			return
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}

const maxBodyBytes = 1 << 20
