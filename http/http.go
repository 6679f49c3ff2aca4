package http

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// Generic HTTP metrics.
var (
	errorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomweb_http_error_count",
		Help: "Total number of errors by error code",
	}, []string{"code"})
)

// Error writes a JSON error message and logs errors the caller cannot fix.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	// Extract error code & message.
	code, message := dicomweb.ErrorCode(err), dicomweb.ErrorMessage(err)

	// Track metrics by code.
	errorCount.WithLabelValues(code).Inc()

	// Log & report server-side errors.
	switch code {
	case dicomweb.EINTERNAL, dicomweb.ESTORE, dicomweb.ENOMEM:
		dicomweb.ReportError(r.Context(), err, r)
		LogError(r, err)
	case dicomweb.EPROTOCOL:
		LogError(r, err)
	}

	WriteJSONResponse(w, &ErrorResponse{Error: message}, ErrorStatusCode(code))
}

// ErrorResponse represents a JSON structure for error output.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LogError logs an error with the HTTP route information.
func LogError(r *http.Request, err error) {
	logger.Ctx(r.Context()).Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http error")
}

// lookup of application error codes to HTTP status codes.
var codes = map[string]int{
	dicomweb.ECONFLICT:       http.StatusConflict,
	dicomweb.EINVALID:        http.StatusBadRequest,
	dicomweb.ENOTFOUND:       http.StatusNotFound,
	dicomweb.ENOTIMPLEMENTED: http.StatusNotImplemented,
	dicomweb.EUNAUTHORIZED:   http.StatusUnauthorized,
	dicomweb.EUNSUPPORTED:    http.StatusUnsupportedMediaType,
	dicomweb.ETOOLARGE:       http.StatusRequestEntityTooLarge,
	dicomweb.EPROTOCOL:       http.StatusBadGateway,
	dicomweb.ESTORE:          http.StatusInternalServerError,
	dicomweb.ENOMEM:          http.StatusInternalServerError,
	dicomweb.EINTERNAL:       http.StatusInternalServerError,
}

// ErrorStatusCode returns the associated HTTP status code for a dicomweb error code.
func ErrorStatusCode(code string) int {
	if v, ok := codes[code]; ok {
		return v
	}
	return http.StatusInternalServerError
}

// WriteJSONResponse writes source as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, source interface{}, status int) {
	content, err := json.Marshal(source)
	if err != nil {
		logger.Error().Err(err).Msg("cannot marshal JSON response")
		http.Error(w, "cannot marshal JSON response", http.StatusInternalServerError)
		return
	}

	// Headers must be set before WriteHeader, which sends them.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(content); err != nil {
		logger.Warn().Err(err).Msg("cannot write JSON response")
	}
}
