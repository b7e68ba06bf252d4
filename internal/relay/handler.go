package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/comigor/relaychat/internal/logger"
)

const maxBodyBytes = 1 << 20

// Handler serves POST /api/generate on top of svc.
func Handler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.From(r.Context())

		var req GenerateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			fail(w, r, svc, validationError("decode request body: %w", err))
			return
		}

		result, err := svc.Generate(r.Context(), req)
		if err != nil {
			fail(w, r, svc, err)
			return
		}

		svc.metrics.ObserveRelay(svc.mode, "ok")
		log.Debug("relay ok", "result", result)
		writeJSON(w, http.StatusOK, GenerateResponse{Result: result})
	}
}

// fail logs the full error and answers with the fixed generic payload. The
// classification only leaves the process as the X-Error-Code header.
func fail(w http.ResponseWriter, r *http.Request, svc *Service, err error) {
	var re *Error
	if !errors.As(err, &re) {
		re = &Error{Err: err}
	}
	code := re.Kind.Code()

	logger.From(r.Context()).Error("error calling upstream",
		"kind", re.Kind.String(),
		"code", code,
		"status", re.Status,
		"error", describe(re),
	)
	svc.metrics.ObserveRelay(svc.mode, code)
	WriteError(w, code)
}

// WriteError answers 500 with the fixed generic payload and code in the
// X-Error-Code header.
func WriteError(w http.ResponseWriter, code string) {
	w.Header().Set(ErrorCodeHeader, code)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: GenericErrorMessage})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.L.Warn("write response", "error", err)
	}
}
