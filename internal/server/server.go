// Package server exposes a session over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/session"
)

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	Op   string         `json:"op"`
	Args []ir.ValueSpec `json:"args"`
}

// InvokeResponse is the successful reply to POST /v1/invoke.
type InvokeResponse struct {
	Op      string         `json:"op"`
	Outputs []ir.ValueSpec `json:"outputs"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves the session API.
type Handler struct {
	sess     *session.Session
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler creates a handler. gatherer backs /metrics; nil uses the
// default registry.
func NewHandler(sess *session.Session, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sess: sess, gatherer: gatherer, logger: logger}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/invoke", h.Invoke).Methods("POST")
	r.HandleFunc("/v1/policy", h.Policy).Methods("GET")
	r.HandleFunc("/v1/ops", h.Ops).Methods("GET")
	r.HandleFunc("/v1/ops/{op}", h.Op).Methods("GET")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.Use(h.logRequests)
}

// NewRouter returns a router with all routes registered.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// Invoke dispatches one operator call.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Op == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "op is required")
		return
	}

	outputs, err := h.sess.Invoke(r.Context(), req.Op, req.Args)
	if err != nil {
		code := ir.CodeOf(err)
		name := string(code)
		if name == "" {
			name = "INTERNAL"
		}
		writeError(w, statusFor(code), name, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Op: ir.Intern(req.Op).String(), Outputs: outputs})
}

// Policy reports the fallback configuration.
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Policy())
}

// Ops lists registered operators and their routes.
func (h *Handler) Ops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Ops())
}

// Op describes one operator.
func (h *Handler) Op(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["op"]
	info, ok := h.sess.Op(name)
	if !ok {
		writeError(w, http.StatusNotFound, string(ir.ErrCodeInvalidInvocation), fmt.Sprintf("operator %s is not registered", ir.Intern(name)))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code ir.ErrorCode) int {
	switch code {
	case ir.ErrCodeInvalidInvocation:
		return http.StatusBadRequest
	case ir.ErrCodeUnsupportedOperator:
		return http.StatusNotImplemented
	case ir.ErrCodeMaterialization:
		return http.StatusUnprocessableEntity
	case ir.ErrCodeHandoff:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
