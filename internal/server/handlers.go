package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsguide/opsguide-ai/internal/approval"
	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/execution"
	"github.com/opsguide/opsguide-ai/internal/middleware"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// ─── Decision requests ──────────────────────────────────────────────────────

// handleRequest handles POST /v1/request?mode=core|rag
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req models.OperationalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.reject(w, r, "", "", "Invalid request body: "+err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	userID := r.Header.Get(middleware.UserHeader)
	if userID == "" {
		s.reject(w, r, req.RequestID, "", middleware.UserHeader+" header is required")
		return
	}
	req.UserID = userID

	if strings.TrimSpace(req.Query) == "" {
		s.reject(w, r, req.RequestID, userID, "Query is required")
		return
	}

	mode := parseMode(r.URL.Query().Get("mode"))
	artifact, err := s.decide(r.Context(), &req, mode, nil)
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		s.reject(w, r, req.RequestID, userID, "Query is required")
		return
	case err != nil:
		s.log.Error("request processing failed", zap.String("request_id", req.RequestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorArtifact(req.RequestID, err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, artifact)
}

// decide runs the decider and turns a panic into an error, so callers still
// answer with the error artifact.
func (s *Server) decide(ctx context.Context, req *models.OperationalRequest, mode models.Mode, observer orchestrator.Observer) (artifact *models.DecisionArtifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("decision panicked",
				zap.String("request_id", req.RequestID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			artifact, err = nil, fmt.Errorf("%v", rec)
		}
	}()
	return s.decider.Process(ctx, req, mode, observer)
}

// reject answers 400 with the error artifact and records the rejection.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, requestID, userID, message string) {
	_ = s.logger.Log(r.Context(), audit.NewEvent(audit.EventRequestRejected).
		WithUser(userID).
		WithSourceIP(sourceIP(r)).
		WithResource(requestID, "request").
		WithDescription(message).
		WithResult(audit.ResultFailure))
	writeJSON(w, http.StatusBadRequest, models.NewErrorArtifact(requestID, message))
}

// parseMode is case-insensitive; anything but "rag" selects the core path.
func parseMode(raw string) models.Mode {
	if strings.EqualFold(raw, string(models.ModeRAG)) {
		return models.ModeRAG
	}
	return models.ModeCore
}

// ─── Step execution ─────────────────────────────────────────────────────────

// handleExecuteStep handles POST /v1/steps/execute
func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(middleware.UserHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, middleware.UserHeader+" header is required")
		return
	}

	var req models.StepExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	exec, err := s.executor.Execute(r.Context(), &req, userID)
	switch {
	case errors.Is(err, execution.ErrInvalidStep):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error("step execution failed", zap.String("request_id", req.RequestID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// handleListApprovals handles GET /v1/approvals?requestId=
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	if s.approvals == nil {
		writeError(w, http.StatusServiceUnavailable, approval.ErrNoStore.Error())
		return
	}

	records, err := s.approvals.List(r.Context(), requestID)
	switch {
	case errors.Is(err, approval.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requestId": requestID,
		"approvals": records,
		"count":     len(records),
	})
}

// ─── Health and info ────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "opsguide-ai",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   Version,
		"components": map[string]string{
			"parsing_validation":     "active",
			"pattern_classification": "active",
			"entity_extraction":      "active",
			"rag_orchestrator":       "active",
			"step_execution":         "active",
		},
	})
}

var supportedTasks = []string{
	"CANCEL_ORDER: cancel order ORDER-2024-001",
	"UPDATE_ORDER_STATUS: change order status to completed",
	"CANCEL_CASE: cancel case CASE-2024-001",
	"UPDATE_CASE_STATUS: change case status to completed",
	"UPDATE_SAMPLES: update samples within case",
	"UPDATE_STAIN: update stain of a slide",
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "OpsGuide AI",
		"version":     Version,
		"description": "Operational intelligence with a deterministic core path and a retrieval-augmented path",
		"endpoints": map[string]string{
			"POST /v1/request":       "Submit operational request (?mode=core|rag)",
			"POST /v1/steps/execute": "Execute one plan step",
			"GET /v1/approvals":      "Approval trail for a request",
			"GET /v1/health":         "Health check",
			"GET /ws/requests":       "Streamed request processing",
			"GET /metrics":           "Prometheus metrics",
		},
		"supported_tasks": supportedTasks,
		"modes": map[string]string{
			string(models.ModeCore): "Pattern matching only (zero AI costs)",
			string(models.ModeRAG):  "Full RAG pipeline with AI reasoning",
		},
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
