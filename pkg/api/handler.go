package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/newtron-network/eline/pkg/metrics"
	"github.com/newtron-network/eline/pkg/util"
)

// handlerFunc returns the status code and body of a successful response.
type handlerFunc func(w http.ResponseWriter, r *http.Request, vars map[string]string) (int, interface{}, error)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func makeHTTPHandler(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, resp, err := fn(w, r, mux.Vars(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := writeJSON(w, code, resp); err != nil {
			util.WithField("path", r.URL.Path).Warnf("writing response: %v", err)
		}
	}
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, util.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, util.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	entry := util.WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": code,
	})
	if code == http.StatusInternalServerError {
		entry.Errorf("request failed: %v", err)
	} else {
		entry.Debugf("request rejected: %v", err)
	}
	_ = writeJSON(w, code, ErrorResponse{Code: code, Description: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// readJSON returns the request body, requiring a JSON content type.
func readJSON(r *http.Request) ([]byte, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, fmt.Errorf("%w: expected application/json", util.ErrUnsupportedMediaType)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, util.NewValidationErrorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func badRequest(format string, args ...interface{}) error {
	return util.NewValidationErrorf(format, args...)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, util.NewNotFoundError("route", r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Code:        http.StatusMethodNotAllowed,
		Description: fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records its latency by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.ObserveRequest(r.Method, route, rec.code, elapsed)
		util.WithFields(map[string]interface{}{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.code,
			"elapsed": elapsed.String(),
			"client":  clientIP(r),
		}).Debug("request")
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
