package precompute

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ham/internal/generation"
	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/resource"
	"github.com/rcliao/ham/internal/taskgen"
	"github.com/rcliao/ham/internal/template"
)

type memRepo struct {
	mu        sync.Mutex
	templates map[string]*template.Template
}

func newMemRepo() *memRepo { return &memRepo{templates: map[string]*template.Template{}} }

func (r *memRepo) StoreTemplate(_ context.Context, t *template.Template) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t.Clone()
	return t.ID, nil
}

func (r *memRepo) GetTemplate(_ context.Context, id string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, hamerr.NotFound("test.get", id)
	}
	return t.Clone(), nil
}

func (r *memRepo) UpdateTemplate(_ context.Context, t *template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) DeleteTemplate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, id)
	return nil
}

func (r *memRepo) GetAllTemplates(context.Context) ([]*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*template.Template
	for _, t := range r.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.templates)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	clock   *fakeClock
	monitor *resource.Static
	metrics *metrics.Collector
}

func echo() generation.Generator {
	return generation.Func(func(_ context.Context, q string, _ map[string]any) (string, error) {
		return "reply to " + q, nil
	})
}

func newFixture(t *testing.T, gen generation.Generator, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		clock:   &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		monitor: &resource.Static{CPU: 5},
		metrics: metrics.New(),
	}
	opts := Options{
		Repository:    f.repo,
		Generator:     gen,
		Monitor:       f.monitor,
		IdleThreshold: 5 * time.Minute,
		CPUThreshold:  30,
		QueueSize:     2,
		Now:           f.clock.Now,
		Metrics:       f.metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := New(opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func task(q string) taskgen.Task {
	return taskgen.Task{ID: "task-" + q, Query: q, Category: template.Greeting, Keywords: []string{"hello"}, Priority: 2}
}

func TestTickWaitsForIdle(t *testing.T) {
	f := newFixture(t, echo(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Enqueue(task("hello")))

	f.clock.Advance(time.Minute)
	assert.False(t, f.svc.tick(ctx))
	assert.Equal(t, 1, f.svc.Stats().QueueDepth)

	f.clock.Advance(5 * time.Minute)
	f.svc.RecordActivity()
	assert.False(t, f.svc.tick(ctx), "activity resets the idle timer")

	f.clock.Advance(5 * time.Minute)
	assert.True(t, f.svc.tick(ctx))
	assert.Equal(t, 0, f.svc.Stats().QueueDepth)
	assert.Equal(t, int64(1), f.svc.Stats().Processed)

	all, err := f.repo.GetAllTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	tpl := all[0]
	assert.Equal(t, "reply to hello", tpl.Content)
	assert.Equal(t, template.Greeting, tpl.Category)
	assert.Equal(t, SourcePrecomputed, tpl.Metadata["source"])
	assert.Equal(t, []string{SourcePrecomputed}, tpl.Metadata["tags"])
	assert.Equal(t, f.clock.Now(), tpl.CreatedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PrecomputeProcessed))
}

func TestTickRespectsCPUThreshold(t *testing.T) {
	f := newFixture(t, echo(), nil)
	require.NoError(t, f.svc.Enqueue(task("hello")))
	f.clock.Advance(10 * time.Minute)

	f.monitor.CPU = 90
	assert.False(t, f.svc.tick(context.Background()))
	f.monitor.CPU = 30
	assert.True(t, f.svc.tick(context.Background()))
}

func TestTickOnEmptyQueue(t *testing.T) {
	f := newFixture(t, echo(), nil)
	f.clock.Advance(time.Hour)
	assert.False(t, f.svc.tick(context.Background()))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	f := newFixture(t, echo(), nil)
	require.NoError(t, f.svc.Enqueue(task("a")))
	require.NoError(t, f.svc.Enqueue(task("b")))

	err := f.svc.Enqueue(task("c"))
	assert.True(t, errors.Is(err, hamerr.ErrQueueFull))
	assert.Equal(t, int64(1), f.svc.Stats().Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PrecomputeDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.QueueDepth))
}

func TestFailedTaskIsNotRetried(t *testing.T) {
	calls := 0
	gen := generation.Func(func(context.Context, string, map[string]any) (string, error) {
		calls++
		return "", errors.New("model unavailable")
	})
	f := newFixture(t, gen, nil)
	require.NoError(t, f.svc.Enqueue(task("hello")))
	f.clock.Advance(10 * time.Minute)

	assert.True(t, f.svc.tick(context.Background()))
	assert.False(t, f.svc.tick(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), f.svc.Stats().Failed)
	assert.Zero(t, f.repo.len())
}

func TestGenerationTimeout(t *testing.T) {
	gen := generation.Func(func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, func(o *Options) { o.GenerationTimeout = 10 * time.Millisecond })
	require.NoError(t, f.svc.Enqueue(task("hello")))
	f.clock.Advance(10 * time.Minute)

	assert.True(t, f.svc.tick(context.Background()))
	assert.Equal(t, int64(1), f.svc.Stats().Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PrecomputeFailed))
}

func TestUnknownCategoryIsClassified(t *testing.T) {
	f := newFixture(t, echo(), nil)
	require.NoError(t, f.svc.Enqueue(taskgen.Task{ID: "t1", Query: "thanks a lot", Category: template.Unknown}))
	f.clock.Advance(10 * time.Minute)
	require.True(t, f.svc.tick(context.Background()))

	all, _ := f.repo.GetAllTemplates(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, template.Gratitude, all[0].Category)
	assert.Equal(t, []string{"thanks", "lot"}, all[0].Keywords)
}

func TestEnqueueGenerated(t *testing.T) {
	f := newFixture(t, echo(), func(o *Options) {
		o.Tasks = taskgen.New(taskgen.WithMaxTasks(3))
		o.QueueSize = 10
	})
	n, err := f.svc.EnqueueGenerated(nil, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.svc.Stats().QueueDepth)

	f2 := newFixture(t, echo(), nil)
	n, err = f2.svc.EnqueueGenerated(nil, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	assert.Equal(t, 2, n)
	assert.True(t, errors.Is(err, hamerr.ErrQueueFull))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, echo(), func(o *Options) { o.TickInterval = 5 * time.Millisecond })
	ctx := context.Background()
	f.clock.Advance(10 * time.Minute)

	require.NoError(t, f.svc.Start(ctx))
	assert.Equal(t, Running, f.svc.State())
	assert.Error(t, f.svc.Start(ctx))

	require.NoError(t, f.svc.Enqueue(task("hello")))
	require.NoError(t, f.svc.Enqueue(task("hi")))
	require.Eventually(t, func() bool { return f.repo.len() == 2 }, 2*time.Second, 5*time.Millisecond)

	f.svc.Stop()
	assert.Equal(t, Stopped, f.svc.State())
	assert.Equal(t, "stopped", f.svc.Stats().State)
	f.svc.Stop()

	require.NoError(t, f.svc.Start(ctx))
	f.svc.Stop()
}

func TestParentCancelStopsService(t *testing.T) {
	f := newFixture(t, echo(), func(o *Options) { o.TickInterval = time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.svc.Start(ctx))
	assert.Equal(t, Running, f.svc.State())

	cancel()
	require.Eventually(t, func() bool { return f.svc.State() == Stopped }, time.Second, time.Millisecond)

	require.NoError(t, f.svc.Start(context.Background()))
	assert.Equal(t, Running, f.svc.State())
	f.svc.Stop()
	assert.Equal(t, Stopped, f.svc.State())
}

func TestStopCancelsInFlightGeneration(t *testing.T) {
	started := make(chan struct{})
	gen := generation.Func(func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, func(o *Options) { o.TickInterval = time.Millisecond })
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.svc.Enqueue(task("hello")))
	require.NoError(t, f.svc.Start(context.Background()))

	<-started
	f.svc.Stop()
	assert.Equal(t, int64(1), f.svc.Stats().Failed)
	assert.Zero(t, f.svc.Stats().InFlight)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Generator: echo()})
	assert.True(t, errors.Is(err, hamerr.ErrInvalid))
}
