// Package orchestrator turns an operational request into a decision artifact.
//
// Two paths exist:
//   - core: classify and look up the fixed plan. Deterministic, no collaborators.
//   - rag: run the task graph
//
//	embed ──► retrieve ──► reason ─┐
//	                               ├──► assemble
//	classify ──────────────────────┘
//
// on a shared bounded pool. Any node error, panic or the pipeline deadline
// discards every partial result and re-runs the request on the core path
// with status processed_with_fallback. The caller never sees a pipeline error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/llm/adapter"
	"github.com/opsguide/opsguide-ai/internal/llm/types"
	"github.com/opsguide/opsguide-ai/internal/memory/vector"
	"github.com/opsguide/opsguide-ai/internal/metrics"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/planner"
	"github.com/opsguide/opsguide-ai/internal/reasoning/embedding"
)

// Node names of the augmented graph.
const (
	NodeClassify = "classify"
	NodeEmbed    = "embed"
	NodeRetrieve = "retrieve"
	NodeReason   = "reason"
)

const (
	DefaultWorkerPoolSize = 10
	DefaultTopK           = 5
)

// Classifier classifies a request. Implemented by classifier.PatternClassifier.
type Classifier interface {
	Classify(req *models.OperationalRequest) *models.ClassificationResult
}

// Config sizes the augmented pipeline.
type Config struct {
	WorkerPoolSize  int
	RetrievalTopK   int
	PipelineTimeout time.Duration // zero means no deadline
}

// Orchestrator processes decision requests.
type Orchestrator struct {
	classifier Classifier
	planner    *planner.StepPlanner
	embedder   embedding.Embedder
	store      vector.VectorStore
	llm        adapter.LLMAdapter
	logger     audit.Logger
	tracer     trace.Tracer

	pool    *semaphore.Weighted
	topK    int
	timeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the audit and application logger.
func WithLogger(l audit.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClassifier replaces the classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// New creates an orchestrator. classifier may be nil only when WithClassifier is given.
func New(cfg Config, classifier Classifier, embedder embedding.Embedder, store vector.VectorStore, llm adapter.LLMAdapter, opts ...Option) *Orchestrator {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = DefaultTopK
	}

	o := &Orchestrator{
		classifier: classifier,
		planner:    planner.NewStepPlanner(),
		embedder:   embedder,
		store:      store,
		llm:        llm,
		tracer:     otel.Tracer("opsguide.orchestrator"),
		pool:       semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		topK:       cfg.RetrievalTopK,
		timeout:    cfg.PipelineTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = audit.NewNopLogger()
	}
	return o
}

// Process answers req on the path selected by mode. Unknown modes use the
// core path. The only errors are input errors; observer may be nil.
func (o *Orchestrator) Process(ctx context.Context, req *models.OperationalRequest, mode models.Mode, observer Observer) (*models.DecisionArtifact, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, models.ErrEmptyQuery
	}
	req = normalize(req)
	ctx = audit.WithCorrelationID(ctx, req.RequestID)

	obs := newSerialObserver(observer)
	defer obs.close()

	start := time.Now()
	var artifact *models.DecisionArtifact
	if mode == models.ModeRAG {
		artifact = o.processAugmented(ctx, req, obs)
	} else {
		mode = models.ModeCore
		artifact = o.ProcessCore(req)
	}

	elapsed := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(string(mode), artifact.Status).Inc()
	metrics.RequestDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	_ = o.logger.LogRequestProcessed(ctx, req.RequestID, req.UserID, artifact.Status, elapsed)
	obs.emit(Event{Stage: StageCompleted, RequestID: req.RequestID, Detail: artifact.Status})

	return artifact, nil
}

// ProcessCore is the deterministic path. An unclassified request has no plan.
func (o *Orchestrator) ProcessCore(req *models.OperationalRequest) *models.DecisionArtifact {
	classification := o.classify(req)

	var plan *models.StepPlan
	if classification.TaskID != nil {
		plan = o.planner.Plan(classification.TaskID)
	}
	return buildArtifact(req, classification, models.StatusProcessed, classification.ExtractedEntities, plan)
}

// ─── Augmented path ─────────────────────────────────────────────────────────

// graphResult holds what the task graph publishes at the join.
type graphResult struct {
	classification *models.ClassificationResult
	chunks         []vector.Chunk
	answer         string
}

// nodeError names the node that failed.
type nodeError struct {
	node string
	err  error
}

func (e *nodeError) Error() string { return e.node + ": " + e.err.Error() }
func (e *nodeError) Unwrap() error { return e.err }

func (o *Orchestrator) processAugmented(ctx context.Context, req *models.OperationalRequest, obs *serialObserver) *models.DecisionArtifact {
	ctx, span := o.tracer.Start(ctx, "orchestrator.augmented",
		trace.WithAttributes(attribute.String("request.id", req.RequestID)))
	defer span.End()

	res, err := o.runGraph(ctx, req, obs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback")
		return o.fallback(ctx, req, obs, err)
	}
	return o.assemble(req, res)
}

// runGraph is the single fallback boundary: everything the graph does is
// reported here as one error.
func (o *Orchestrator) runGraph(ctx context.Context, req *models.OperationalRequest, obs *serialObserver) (*graphResult, error) {
	if o.embedder == nil || o.store == nil || o.llm == nil {
		return nil, &nodeError{node: "pipeline", err: errors.New("augmented collaborators not configured")}
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var (
		classification *models.ClassificationResult
		chunks         []vector.Chunk
		answer         string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.node(gctx, req.RequestID, NodeClassify, obs, func(context.Context) error {
			classification = o.classify(req)
			return nil
		})
	})

	g.Go(func() error {
		var vec []float32
		err := o.node(gctx, req.RequestID, NodeEmbed, obs, func(ctx context.Context) error {
			v, err := o.embedder.Embed(ctx, req.Query)
			vec = v
			return err
		})
		if err != nil {
			return err
		}

		err = o.node(gctx, req.RequestID, NodeRetrieve, obs, func(ctx context.Context) error {
			c, err := o.store.Search(ctx, vec, o.topK)
			chunks = c
			return err
		})
		if err != nil {
			return err
		}

		return o.node(gctx, req.RequestID, NodeReason, obs, func(ctx context.Context) error {
			resp, err := o.llm.Complete(ctx, types.UserPrompt(BuildPrompt(req.Query, chunks)))
			if err != nil {
				return err
			}
			answer = resp.Content
			return nil
		})
	})

	// A node that ignores its context must not hold the caller past the deadline.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, &nodeError{node: "pipeline", err: ctx.Err()}
	}

	if classification == nil {
		return nil, &nodeError{node: NodeClassify, err: errors.New("no classification")}
	}
	return &graphResult{classification: classification, chunks: chunks, answer: answer}, nil
}

// node runs one unit of the graph on the shared pool.
func (o *Orchestrator) node(ctx context.Context, requestID, name string, obs *serialObserver, fn func(context.Context) error) (err error) {
	if err := o.pool.Acquire(ctx, 1); err != nil {
		return &nodeError{node: name, err: err}
	}
	defer o.pool.Release(1)

	ctx, span := o.tracer.Start(ctx, "orchestrator."+name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			err = &nodeError{node: name, err: err}
		}
		span.End()
		metrics.PipelineNodeDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
		obs.emit(Event{Stage: name, RequestID: requestID, Detail: status})
	}()

	return fn(ctx)
}

func (o *Orchestrator) fallback(ctx context.Context, req *models.OperationalRequest, obs *serialObserver, cause error) *models.DecisionArtifact {
	node := "pipeline"
	var ne *nodeError
	if errors.As(cause, &ne) {
		node = ne.node
	}

	metrics.PipelineFallbacks.WithLabelValues(node).Inc()
	o.logger.App().Warn("augmented pipeline failed, serving core decision",
		zap.String("request_id", req.RequestID),
		zap.String("node", node),
		zap.Error(cause),
	)
	_ = o.logger.LogPipelineFallback(ctx, req.RequestID, cause.Error())
	obs.emit(Event{Stage: StageFallback, RequestID: req.RequestID, Detail: cause.Error()})

	artifact := o.ProcessCore(req)
	artifact.Status = models.StatusProcessedWithFallback
	return artifact
}

// assemble merges the join results into the augmented artifact.
func (o *Orchestrator) assemble(req *models.OperationalRequest, res *graphResult) *models.DecisionArtifact {
	task := res.classification.TaskID

	steps := ExtractSteps(res.answer)
	if len(steps) == 0 {
		steps = o.planner.DefaultSteps(task)
	}

	var description, runbook string
	if task == nil {
		generic := o.planner.Plan(nil)
		description, runbook = generic.Description, generic.Runbook
	} else {
		lower := strings.ToLower(string(*task))
		description = "AI-enhanced " + strings.ReplaceAll(lower, "_", " ") + " request"
		runbook = planner.RunbookDir + strings.ReplaceAll(lower, "_", "-") + "-runbook.md"
	}
	plan := o.planner.Assemble(task, description, runbook, o.planner.APISpec(task), steps)

	entities := make(map[string]interface{}, len(res.classification.ExtractedEntities)+2)
	for k, v := range res.classification.ExtractedEntities {
		entities[k] = v
	}
	sources := make([]map[string]interface{}, 0, len(res.chunks))
	for _, c := range res.chunks {
		sources = append(sources, map[string]interface{}{"source": c.Source, "score": c.Score})
	}
	entities[models.EntityRAGResponse] = res.answer
	entities[models.EntityKnowledgeSources] = sources

	return buildArtifact(req, res.classification, models.StatusProcessedWithRAG, entities, plan)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (o *Orchestrator) classify(req *models.OperationalRequest) *models.ClassificationResult {
	c := o.classifier.Classify(req)
	label := "none"
	if c.TaskID != nil {
		label = string(*c.TaskID)
	}
	metrics.ClassificationsTotal.WithLabelValues(label).Inc()
	return c
}

// normalize returns a copy of req with id, environment and timestamp filled.
func normalize(req *models.OperationalRequest) *models.OperationalRequest {
	out := *req
	if out.RequestID == "" {
		out.RequestID = uuid.NewString()
	}
	if out.Environment == "" {
		out.Environment = "dev"
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return &out
}

func buildArtifact(req *models.OperationalRequest, c *models.ClassificationResult, status string, entities map[string]interface{}, plan *models.StepPlan) *models.DecisionArtifact {
	var taskID *string
	if c.TaskID != nil {
		s := string(*c.TaskID)
		taskID = &s
	}
	return &models.DecisionArtifact{
		RequestID: req.RequestID,
		Status:    status,
		Timestamp: time.Now(),
		Input: models.InputEcho{
			Query:       req.Query,
			Environment: req.Environment,
			UserID:      req.UserID,
		},
		Classification: models.ClassificationSummary{
			UseCase:     string(c.UseCase),
			TaskID:      taskID,
			Confidence:  c.Confidence,
			Service:     c.Service,
			Environment: c.Environment,
		},
		ExtractedEntities: entities,
		NextSteps:         plan,
	}
}

// ─── Progress events ────────────────────────────────────────────────────────

// Stages reported to observers besides the node names.
const (
	StageFallback  = "fallback"
	StageCompleted = "completed"
)

// Event is one progress notification.
type Event struct {
	Stage     string `json:"stage"`
	RequestID string `json:"requestId"`
	Detail    string `json:"detail,omitempty"`
}

// Observer receives progress events. Calls are serialized and stop once
// Process returns.
type Observer func(Event)

type serialObserver struct {
	mu     sync.Mutex
	fn     Observer
	closed bool
}

func newSerialObserver(fn Observer) *serialObserver {
	return &serialObserver{fn: fn}
}

func (s *serialObserver) emit(e Event) {
	if s == nil || s.fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.fn(e)
	}
}

func (s *serialObserver) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
