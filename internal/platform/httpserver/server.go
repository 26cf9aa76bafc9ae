package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	consensusengine "crowdproof/contexts/verification/consensus-engine"
	httpadapter "crowdproof/contexts/verification/consensus-engine/adapters/http"
	domainerrors "crowdproof/contexts/verification/consensus-engine/domain/errors"
	consensushttp "crowdproof/contexts/verification/consensus-engine/transport/http"
	_ "crowdproof/internal/platform/httpserver/docs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

const maxBodyBytes = 1 << 20

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	addr         string
	verification consensusengine.Module
	gatherer     prometheus.Gatherer
	ready        ReadinessCheck
	httpServer   *http.Server
}

func New(
	verification consensusengine.Module,
	gatherer prometheus.Gatherer,
	ready ReadinessCheck,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		addr:         addr,
		verification: verification,
		gatherer:     gatherer,
		ready:        ready,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down",
		"event", "http_server_shutdown",
		"module", "internal/platform/httpserver",
		"layer", "platform",
	)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("POST /v1/evidence", s.handleRegisterEvidence)
	s.mux.HandleFunc("GET /v1/evidence", s.handleListEvidence)
	s.mux.HandleFunc("GET /v1/evidence/{evidence_id}", s.handleGetEvidence)
	s.mux.HandleFunc("GET /v1/evidence/{evidence_id}/status", s.handleGetEvidenceStatus)
	s.mux.HandleFunc("GET /v1/evidence/{evidence_id}/verifications", s.handleListVerifications)
	s.mux.HandleFunc("POST /v1/evidence/{evidence_id}/verifications", s.handleSubmitVerification)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed",
				"event", "http_readiness_failed",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"error", err.Error(),
			)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterEvidence(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeVerificationError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req consensushttp.RegisterEvidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeVerificationError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.verification.Handler.RegisterEvidenceHandler(r.Context(), userID, clientInfo(r), req)
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := consensushttp.ListEvidenceRequest{
		UploaderID: query.Get("uploader_id"),
		Status:     query.Get("status"),
	}
	if limitRaw := query.Get("limit"); limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeVerificationError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		req.Limit = limit
	}

	resp, err := s.verification.Handler.ListEvidenceHandler(r.Context(), req)
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	resp, err := s.verification.Handler.GetEvidenceHandler(r.Context(), r.PathValue("evidence_id"))
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvidenceStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.verification.Handler.GetEvidenceStatusHandler(r.Context(), r.PathValue("evidence_id"))
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	resp, err := s.verification.Handler.ListVerificationsHandler(r.Context(), r.PathValue("evidence_id"))
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeVerificationError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req consensushttp.SubmitVerificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeVerificationError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.verification.Handler.SubmitVerificationHandler(
		r.Context(),
		userID,
		r.PathValue("evidence_id"),
		r.Header.Get("Idempotency-Key"),
		clientInfo(r),
		req,
	)
	if err != nil {
		writeVerificationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeVerificationDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrIdempotencyKeyConflict):
		writeVerificationError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domainerrors.ErrDuplicateEvidence):
		writeVerificationError(w, http.StatusConflict, "duplicate_evidence", err.Error())
	case errors.Is(err, domainerrors.ErrEvidenceNotFound):
		writeVerificationError(w, http.StatusNotFound, "evidence_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrVerifierNotFound):
		writeVerificationError(w, http.StatusNotFound, "verifier_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrNotFound):
		writeVerificationError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidListFilter):
		writeVerificationError(w, http.StatusBadRequest, "invalid_list_filter", err.Error())
	case errors.Is(err, domainerrors.ErrValidation):
		writeVerificationError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domainerrors.ErrConflict):
		writeVerificationError(w, http.StatusConflict, "write_conflict", err.Error())
	default:
		writeVerificationError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeVerificationError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, consensushttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(target)
}

func clientInfo(r *http.Request) httpadapter.ClientInfo {
	return httpadapter.ClientInfo{
		IPAddress: resolveClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func resolveClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
