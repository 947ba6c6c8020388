package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/classifier"
	"github.com/opsguide/opsguide-ai/internal/llm/adapter"
	"github.com/opsguide/opsguide-ai/internal/llm/types"
	"github.com/opsguide/opsguide-ai/internal/memory/vector"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/reasoning/embedding"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeLLM struct {
	answer string
	err    error
	panics bool
	delay  time.Duration
}

func (f *fakeLLM) Complete(ctx context.Context, _ []types.Message) (*types.CompletionResponse, error) {
	if f.panics {
		panic("provider exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay) // deliberately ignores ctx
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.CompletionResponse{Content: f.answer}, nil
}

func (f *fakeLLM) GetProvider() adapter.ProviderType { return adapter.ProviderMock }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding backend down")
}
func (failingEmbedder) Dimensions() int { return 3 }

type failingStore struct{ vector.VectorStore }

func (failingStore) Search(context.Context, []float32, int) ([]vector.Chunk, error) {
	return nil, errors.New("index unavailable")
}

// sequence records start/end marks from concurrently running fakes.
type sequence struct {
	mu    sync.Mutex
	marks []string
}

func (s *sequence) mark(m string) {
	s.mu.Lock()
	s.marks = append(s.marks, m)
	s.mu.Unlock()
}

func (s *sequence) index(t *testing.T, m string) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.marks {
		if v == m {
			return i
		}
	}
	t.Fatalf("mark %q not recorded in %v", m, s.marks)
	return -1
}

type recordingEmbedder struct {
	embedding.Embedder
	seq  *sequence
	hold time.Duration
}

func (e *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.seq.mark("embed:start")
	defer e.seq.mark("embed:end")
	time.Sleep(e.hold)
	return e.Embedder.Embed(ctx, text)
}

type recordingStore struct {
	vector.VectorStore
	seq  *sequence
	hold time.Duration
}

func (s *recordingStore) Search(ctx context.Context, vec []float32, k int) ([]vector.Chunk, error) {
	s.seq.mark("retrieve:start")
	defer s.seq.mark("retrieve:end")
	time.Sleep(s.hold)
	return s.VectorStore.Search(ctx, vec, k)
}

type recordingLLM struct {
	adapter.LLMAdapter
	seq *sequence
}

func (l *recordingLLM) Complete(ctx context.Context, msgs []types.Message) (*types.CompletionResponse, error) {
	l.seq.mark("reason:start")
	defer l.seq.mark("reason:end")
	return l.LLMAdapter.Complete(ctx, msgs)
}

// rendezvous makes classify and embed each wait for the other to start.
// Run one after the other, both give up after wait and overlapped stays false.
type rendezvous struct {
	classifyStarted chan struct{}
	embedStarted    chan struct{}
	classifyOnce    sync.Once
	embedOnce       sync.Once
	wait            time.Duration

	mu         sync.Mutex
	overlapped bool
}

func newRendezvous(wait time.Duration) *rendezvous {
	return &rendezvous{
		classifyStarted: make(chan struct{}),
		embedStarted:    make(chan struct{}),
		wait:            wait,
	}
}

func (r *rendezvous) await(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(r.wait):
		return false
	}
}

type rendezvousClassifier struct {
	Classifier
	r *rendezvous
}

func (c *rendezvousClassifier) Classify(req *models.OperationalRequest) *models.ClassificationResult {
	c.r.classifyOnce.Do(func() { close(c.r.classifyStarted) })
	if c.r.await(c.r.embedStarted) {
		c.r.mu.Lock()
		c.r.overlapped = true
		c.r.mu.Unlock()
	}
	return c.Classifier.Classify(req)
}

type rendezvousEmbedder struct {
	embedding.Embedder
	r *rendezvous
}

func (e *rendezvousEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.r.embedOnce.Do(func() { close(e.r.embedStarted) })
	e.r.await(e.r.classifyStarted)
	return e.Embedder.Embed(ctx, text)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) stages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Stage)
	}
	return out
}

func newTestOrchestrator(t *testing.T, llm adapter.LLMAdapter, opts ...func(*testDeps)) *Orchestrator {
	t.Helper()
	emb, err := embedding.NewHashEmbedder(embedding.DefaultDimensions, 16)
	require.NoError(t, err)
	store, err := vector.NewSeededVectorStore(context.Background(), emb, "")
	require.NoError(t, err)

	deps := &testDeps{
		embedder:   emb,
		store:      store,
		llm:        llm,
		classifier: classifier.NewPatternClassifier(),
		cfg:        Config{WorkerPoolSize: 4},
	}
	for _, opt := range opts {
		opt(deps)
	}
	return New(deps.cfg, deps.classifier, deps.embedder, deps.store, deps.llm)
}

type testDeps struct {
	cfg        Config
	embedder   embedding.Embedder
	store      vector.VectorStore
	llm        adapter.LLMAdapter
	classifier Classifier
}

func mockLLM(t *testing.T) adapter.LLMAdapter {
	t.Helper()
	a, err := adapter.NewLLMAdapter(&adapter.Config{Provider: adapter.ProviderMock})
	require.NoError(t, err)
	return a
}

func request(query string) *models.OperationalRequest {
	return &models.OperationalRequest{RequestID: "req-1", UserID: "alice", Query: query}
}

// ─── Core path ──────────────────────────────────────────────────────────────

func TestCorePathCancelCase(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))

	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeCore, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessed, art.Status)
	assert.Equal(t, "req-1", art.RequestID)
	require.NotNil(t, art.Classification.TaskID)
	assert.Equal(t, "CANCEL_CASE", *art.Classification.TaskID)
	assert.Equal(t, "Case", art.Classification.Service)
	assert.Equal(t, "2024-001", art.ExtractedEntities[models.EntityCaseID])
	assert.Equal(t, "dev", art.Input.Environment)
	assert.Equal(t, "alice", art.Input.UserID)

	require.NotNil(t, art.NextSteps)
	require.Len(t, art.NextSteps.StepMetadata, 4)
	var stepTypes []models.StepType
	for _, m := range art.NextSteps.StepMetadata {
		stepTypes = append(stepTypes, m.StepType)
	}
	assert.Equal(t, []models.StepType{
		models.StepTypeValidation,
		models.StepTypePermissionCheck,
		models.StepTypeAPIExecution,
		models.StepTypeVerification,
	}, stepTypes)
}

func TestCorePathUnclassifiedHasNoPlan(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))

	art, err := o.Process(context.Background(), request("restart the printer"), models.ModeCore, nil)
	require.NoError(t, err)
	assert.Nil(t, art.Classification.TaskID)
	assert.Equal(t, 0.5, art.Classification.Confidence)
	assert.Nil(t, art.NextSteps)
}

func TestEmptyQueryRejected(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))

	_, err := o.Process(context.Background(), request("   "), models.ModeRAG, nil)
	assert.ErrorIs(t, err, models.ErrEmptyQuery)

	_, err = o.Process(context.Background(), nil, models.ModeCore, nil)
	assert.ErrorIs(t, err, models.ErrEmptyQuery)
}

func TestRequestIDGenerated(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))

	req := &models.OperationalRequest{Query: "cancel order ORDER-2024-9"}
	art, err := o.Process(context.Background(), req, models.ModeCore, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, art.RequestID)
	assert.Empty(t, req.RequestID, "caller's request is not mutated")
}

// ─── Augmented path ─────────────────────────────────────────────────────────

func TestAugmentedPathUsesAnswerSteps(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))
	events := &eventLog{}

	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, events.observe)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessedWithRAG, art.Status)
	require.NotNil(t, art.NextSteps)
	assert.Equal(t, "AI-enhanced cancel case request", art.NextSteps.Description)
	assert.Equal(t, "knowledge/runbooks/cancel-case-runbook.md", art.NextSteps.Runbook)
	assert.Equal(t, "knowledge/api-specs/case-management-api.md", art.NextSteps.APISpec)

	require.Len(t, art.NextSteps.TypicalSteps, 4)
	assert.Contains(t, art.NextSteps.TypicalSteps[0], "1. Verify the case exists")
	exec := art.NextSteps.StepMetadata[2]
	assert.Equal(t, models.StepTypeAPIExecution, exec.StepType)
	assert.True(t, exec.RequiresApproval)

	assert.Contains(t, art.ExtractedEntities[models.EntityRAGResponse], "to cancel a case")
	sources, ok := art.ExtractedEntities[models.EntityKnowledgeSources].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, sources, 3)
	assert.Equal(t, 0.95, sources[0]["score"])
	assert.Equal(t, "knowledge/runbooks/cancel-case-runbook.md", sources[0]["source"])

	stages := events.stages()
	for _, want := range []string{NodeClassify, NodeEmbed, NodeRetrieve, NodeReason, StageCompleted} {
		assert.Contains(t, stages, want)
	}
	assert.Equal(t, StageCompleted, stages[len(stages)-1])
	assert.NotContains(t, stages, StageFallback)
}

func TestAugmentedPathDefaultStepsWhenAnswerHasNone(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{answer: "Please contact the lab manager."})

	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessedWithRAG, art.Status)
	assert.Equal(t, []string{
		"Validate case exists and is cancellable",
		"Check user permissions",
		"Execute cancellation via API",
		"Verify cancellation completed",
	}, art.NextSteps.TypicalSteps)
}

func TestAugmentedPathUnclassifiedUsesGenericPlan(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{answer: "nothing numbered"})

	art, err := o.Process(context.Background(), request("restart the printer"), models.ModeRAG, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessedWithRAG, art.Status)
	require.NotNil(t, art.NextSteps)
	assert.Equal(t, "Generic operational request identified", art.NextSteps.Description)
	assert.Equal(t, "knowledge/runbooks/generic-operation-runbook.md", art.NextSteps.Runbook)
	assert.Len(t, art.NextSteps.TypicalSteps, 4)
}

func TestAugmentedFallback(t *testing.T) {
	tests := []struct {
		name string
		opt  func(*testDeps)
	}{
		{"reason error", func(d *testDeps) { d.llm = &fakeLLM{err: errors.New("rate limited")} }},
		{"reason panic", func(d *testDeps) { d.llm = &fakeLLM{panics: true} }},
		{"embed error", func(d *testDeps) { d.embedder = failingEmbedder{} }},
		{"retrieve error", func(d *testDeps) { d.store = failingStore{} }},
		{"unconfigured provider", func(d *testDeps) {
			a, _ := adapter.NewLLMAdapter(nil)
			d.llm = a
		}},
		{"missing collaborators", func(d *testDeps) { d.store = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, mockLLM(t), tt.opt)
			events := &eventLog{}

			art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, events.observe)
			require.NoError(t, err)

			assert.Equal(t, models.StatusProcessedWithFallback, art.Status)
			require.NotNil(t, art.Classification.TaskID)
			assert.Equal(t, "CANCEL_CASE", *art.Classification.TaskID)
			require.NotNil(t, art.NextSteps)
			assert.Equal(t, "Case cancellation request identified", art.NextSteps.Description)
			assert.NotContains(t, art.ExtractedEntities, models.EntityRAGResponse)
			assert.Contains(t, events.stages(), StageFallback)
		})
	}
}

func TestAugmentedChainRunsInOrder(t *testing.T) {
	seq := &sequence{}
	o := newTestOrchestrator(t, mockLLM(t), func(d *testDeps) {
		d.embedder = &recordingEmbedder{Embedder: d.embedder, seq: seq, hold: 20 * time.Millisecond}
		d.store = &recordingStore{VectorStore: d.store, seq: seq, hold: 20 * time.Millisecond}
		d.llm = &recordingLLM{LLMAdapter: d.llm, seq: seq}
	})

	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessedWithRAG, art.Status)

	assert.Less(t, seq.index(t, "embed:end"), seq.index(t, "retrieve:start"))
	assert.Less(t, seq.index(t, "retrieve:end"), seq.index(t, "reason:start"))
}

func TestAugmentedClassifyOverlapsChain(t *testing.T) {
	r := newRendezvous(2 * time.Second)
	o := newTestOrchestrator(t, mockLLM(t), func(d *testDeps) {
		d.classifier = &rendezvousClassifier{Classifier: d.classifier, r: r}
		d.embedder = &rendezvousEmbedder{Embedder: d.embedder, r: r}
	})

	start := time.Now()
	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessedWithRAG, art.Status)
	r.mu.Lock()
	assert.True(t, r.overlapped, "classify finished before embed started")
	r.mu.Unlock()
	assert.Less(t, time.Since(start), time.Second)
}

func TestAugmentedFallbackOnTimeout(t *testing.T) {
	o := newTestOrchestrator(t, &fakeLLM{answer: "1. too late", delay: 2 * time.Second}, func(d *testDeps) {
		d.cfg.PipelineTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.ModeRAG, nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StatusProcessedWithFallback, art.Status)
}

func TestUnknownModeUsesCorePath(t *testing.T) {
	o := newTestOrchestrator(t, mockLLM(t))

	art, err := o.Process(context.Background(), request("cancel case CASE-2024-001"), models.Mode("turbo"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, art.Status)
}
