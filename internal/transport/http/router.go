// Package httptransport is the thin HTTP layer over the attestation core. It
// decodes requests, delegates to domain services and encodes responses; no
// business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attestor/internal/attestation/service"
	"attestor/internal/audit"
	"attestor/internal/signing"
	"attestor/internal/transform"
)

// Handler bundles the domain services the routes delegate to.
type Handler struct {
	lifecycle *service.Manager
	engine    *transform.Engine
	audit     *audit.Logger
	keys      signing.KeyStorage
	logger    *slog.Logger
}

func NewHandler(
	lifecycle *service.Manager,
	engine *transform.Engine,
	auditLogger *audit.Logger,
	keys signing.KeyStorage,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		engine:    engine,
		audit:     auditLogger,
		keys:      keys,
		logger:    logger,
	}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Route("/attestations", func(r chi.Router) {
		r.Post("/", h.handleCreateAttestation)
		r.Post("/bulk", h.handleBulkAttestations)
		r.Get("/{id}", h.handleGetAttestation)
		r.Post("/{id}/verify", h.handleVerifyAttestation)
		r.Post("/{id}/revoke", h.handleRevokeAttestation)
	})

	r.Route("/transform", func(r chi.Router) {
		r.Post("/", h.handleTransform)
		r.Post("/batch", h.handleBatchTransform)
		r.Post("/reverse", h.handleReverseTransform)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Get("/entries", h.handleAuditEntries)
		r.Get("/report", h.handleAuditReport)
		r.Get("/export", h.handleAuditExport)
		r.Get("/validate", h.handleAuditValidate)
	})

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", h.handleListKeys)
		r.Post("/", h.handleGenerateKey)
		r.Post("/{id}/retire", h.handleRetireKey)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"durationMs", time.Since(started).Milliseconds(),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
