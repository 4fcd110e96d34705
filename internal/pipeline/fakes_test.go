package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/internal/agents"
	"github.com/dyluth/drey/internal/embedding"
	"github.com/dyluth/drey/internal/repository"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/objective"
)

// fakeRepo is an in-memory ObjectiveRepository with failure injection.
type fakeRepo struct {
	mu        sync.Mutex
	rows      map[string]*objective.Objective
	saveErr   error
	updateErr error
	saves     int
	updates   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*objective.Objective)}
}

func (r *fakeRepo) Save(ctx context.Context, obj *objective.Objective) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, exists := r.rows[obj.ID]; exists {
		return errors.New("duplicate id")
	}
	r.rows[obj.ID] = obj.Clone()
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*objective.Objective, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return obj.Clone(), nil
}

func (r *fakeRepo) Update(ctx context.Context, obj *objective.Objective) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.rows[obj.ID]; !ok {
		return repository.ErrNotFound
	}
	r.rows[obj.ID] = obj.Clone()
	return nil
}

func (r *fakeRepo) ListRecent(ctx context.Context, limit int) ([]*objective.Objective, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*objective.Objective, 0, len(r.rows))
	for _, obj := range r.rows {
		out = append(out, obj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *fakeRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	return ok
}

// fakeKnowledge is an in-memory KnowledgeRepository with failure injection.
type fakeKnowledge struct {
	mu        sync.Mutex
	decisions []*objective.Decision
	learnings []*objective.Learning
	saveErr   error
}

func (k *fakeKnowledge) SaveDecision(ctx context.Context, d *objective.Decision) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.saveErr != nil {
		return k.saveErr
	}
	k.decisions = append(k.decisions, d)
	return nil
}

func (k *fakeKnowledge) ListDecisions(ctx context.Context, limit int) ([]*objective.Decision, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]*objective.Decision(nil), k.decisions...), nil
}

func (k *fakeKnowledge) SaveLearning(ctx context.Context, l *objective.Learning) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.saveErr != nil {
		return k.saveErr
	}
	k.learnings = append(k.learnings, l)
	return nil
}

func (k *fakeKnowledge) ListLearnings(ctx context.Context, limit int) ([]*objective.Learning, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]*objective.Learning(nil), k.learnings...), nil
}

// flakyIndex wraps the real index and fails the next failUpserts upserts.
type flakyIndex struct {
	*vectorindex.Index
	mu          sync.Mutex
	failUpserts int
	upserts     int
}

func (x *flakyIndex) Upsert(id string, vec []float32, payload map[string]any) error {
	x.mu.Lock()
	x.upserts++
	if x.failUpserts > 0 {
		x.failUpserts--
		x.mu.Unlock()
		return errors.New("index unavailable")
	}
	x.mu.Unlock()
	return x.Index.Upsert(id, vec, payload)
}

func (x *flakyIndex) upsertCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.upserts
}

func (x *flakyIndex) failNext(n int) {
	x.mu.Lock()
	x.failUpserts = n
	x.mu.Unlock()
}

// recordingPublisher records every event before forwarding it to the stream.
type recordingPublisher struct {
	next   EventPublisher
	mu     sync.Mutex
	events []*objective.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev *objective.Event) (string, error) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return r.next.Publish(ctx, ev)
}

func (r *recordingPublisher) types() []objective.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]objective.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingPublisher) last() *objective.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type failingStructurer struct{}

func (failingStructurer) Structure(context.Context, string) (*objective.Objective, error) {
	return nil, errors.New("model unavailable")
}

type testEnv struct {
	pipeline *Pipeline
	client   *blackboard.Client
	mr       *miniredis.Miniredis
	repo     *fakeRepo
	know     *fakeKnowledge
	index    *flakyIndex
	events   *recordingPublisher
}

func setupTestPipeline(t *testing.T) *testEnv {
	return setupTestPipelineWith(t, agents.NewRuleBasedStructurer())
}

func setupTestPipelineWith(t *testing.T, structurer agents.StructuringAgent) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns", blackboard.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	embedder, err := embedding.NewHashingEmbedder(64)
	require.NoError(t, err)

	env := &testEnv{
		client: client,
		mr:     mr,
		repo:   newFakeRepo(),
		know:   &fakeKnowledge{},
		index:  &flakyIndex{Index: vectorindex.New(64)},
		events: &recordingPublisher{next: client},
	}

	env.pipeline, err = New(Deps{
		Staging:    client,
		Events:     env.events,
		Repository: env.repo,
		Knowledge:  env.know,
		Index:      env.index,
		Embedder:   embedder,
		Structurer: structurer,
		Planner:    agents.NewRuleBasedPlanner(),
	}, Options{Namespace: "test-ns", StagingTTL: 10 * time.Minute})
	require.NoError(t, err)

	return env
}

// stageForApproval stages an objective awaiting approval with the given step weights.
func (env *testEnv) stageForApproval(t *testing.T, weights ...float64) *objective.Objective {
	t.Helper()
	ctx := context.Background()

	obj := objective.New()
	obj.What = "Launch landing page"
	obj.Context = "marketing site for the beta"
	obj.ExpectedOutput = "live page"
	obj.Tags = []string{"landing", "launch"}
	obj.Status = objective.StatusAwaitingApproval

	steps := make([]objective.PlanStep, len(weights))
	for i, w := range weights {
		steps[i] = objective.PlanStep{StepNumber: i + 1, Description: "step", Weight: w, Status: objective.StepPending}
	}

	require.NoError(t, env.client.Store(ctx, env.client.RawKey(obj.ID), RawInput{RawText: "launch", ObjectiveID: obj.ID}, 0))
	require.NoError(t, env.client.Store(ctx, env.client.ObjectiveKey(obj.ID), obj, 0))
	if len(steps) > 0 {
		require.NoError(t, env.client.Store(ctx, env.client.PlanKey(obj.ID), PlanDraft{Steps: steps}, 0))
	}
	return obj
}

func (env *testEnv) staged(id string) bool {
	return env.mr.Exists(env.client.RawKey(id)) ||
		env.mr.Exists(env.client.ObjectiveKey(id)) ||
		env.mr.Exists(env.client.PlanKey(id))
}
