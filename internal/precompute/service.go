// Package precompute generates response templates in the background while
// the host is idle.
package precompute

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/generation"
	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/processor"
	"github.com/rcliao/ham/internal/resource"
	"github.com/rcliao/ham/internal/taskgen"
	"github.com/rcliao/ham/internal/template"
)

const (
	SourcePrecomputed = "precomputed"

	defaultIdleThreshold = 5 * time.Minute
	defaultCPUThreshold  = 30.0
	defaultTickInterval  = 10 * time.Second
	defaultQueueSize     = 100
	defaultGenTimeout    = 2 * time.Minute
)

// State of the worker loop.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Options configures a Service. Repository and Generator are required.
type Options struct {
	Repository template.Repository
	Generator  generation.Generator
	Tasks      *taskgen.Generator
	Monitor    resource.Monitor

	IdleThreshold     time.Duration
	CPUThreshold      float64
	TickInterval      time.Duration
	QueueSize         int
	GenerationTimeout time.Duration

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Service is a single background worker fed through a bounded queue.
type Service struct {
	opts    Options
	queue   chan taskgen.Task
	logger  *zap.Logger
	metrics *metrics.Collector

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	cancel       context.CancelFunc
	done         chan struct{}

	inFlight  atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(opts Options) (*Service, error) {
	if opts.Repository == nil || opts.Generator == nil {
		return nil, hamerr.New(hamerr.KindInvalid, "precompute.new", "repository and generator are required")
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = defaultIdleThreshold
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = defaultCPUThreshold
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenTimeout
	}
	if opts.Tasks == nil {
		opts.Tasks = taskgen.New()
	}
	if opts.Monitor == nil {
		opts.Monitor = resource.NewSystem()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		opts:         opts,
		queue:        make(chan taskgen.Task, opts.QueueSize),
		logger:       logging.OrNop(opts.Logger).Named("precompute"),
		metrics:      metrics.OrNew(opts.Metrics),
		lastActivity: opts.Now(),
	}, nil
}

// Start launches the worker loop. It fails if the loop already runs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return hamerr.New(hamerr.KindInvalid, "precompute.start", "already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running
	go s.loop(ctx, s.done)
	s.logger.Info("started",
		zap.Duration("idle_threshold", s.opts.IdleThreshold),
		zap.Float64("cpu_threshold", s.opts.CPUThreshold),
		zap.Int("queue_size", s.opts.QueueSize))
	return nil
}

// Stop cancels the loop, including an in-flight generation, and waits for
// it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("stopped")
}

// State reports whether the loop runs.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// loop runs until ctx is cancelled, by Stop or by the caller of Start.
// Either way the service is Stopped again before done closes.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.state = Stopped
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RecordActivity marks foreground use and postpones background work.
func (s *Service) RecordActivity() {
	s.mu.Lock()
	s.lastActivity = s.opts.Now()
	s.mu.Unlock()
}

// Enqueue adds a task without blocking. A full queue drops the task and
// returns a QueueFull error.
func (s *Service) Enqueue(task taskgen.Task) error {
	select {
	case s.queue <- task:
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		s.dropped.Add(1)
		s.metrics.PrecomputeDropped.Inc()
		s.logger.Warn("queue full, task dropped", zap.String("task_id", task.ID), zap.String("query", task.Query))
		return hamerr.New(hamerr.KindQueueFull, "precompute.enqueue", "queue holds %d tasks", cap(s.queue))
	}
}

// EnqueueGenerated derives tasks from history and enqueues them. It
// returns how many were accepted and the last QueueFull error, if any.
func (s *Service) EnqueueGenerated(history []taskgen.Utterance, state template.AgentStateFingerprint, impression template.UserImpressionFingerprint) (int, error) {
	var (
		accepted int
		lastErr  error
	)
	for _, t := range s.opts.Tasks.Generate(history, state, impression) {
		if err := s.Enqueue(t); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}
	return accepted, lastErr
}

// tick runs one gated step and reports whether a task was consumed.
func (s *Service) tick(ctx context.Context) bool {
	if !s.gateOpen(ctx) {
		return false
	}
	// counted before the dequeue so Stats never shows an empty queue with
	// nothing in flight while a task is being handed over
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	var task taskgen.Task
	select {
	case task = <-s.queue:
	default:
		return false
	}
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	s.process(ctx, task)
	return true
}

func (s *Service) gateOpen(ctx context.Context) bool {
	if len(s.queue) == 0 {
		return false
	}
	if s.idleFor() < s.opts.IdleThreshold {
		return false
	}
	cpu, err := s.opts.Monitor.CPUPercent(ctx)
	if err != nil {
		s.logger.Debug("cpu probe failed", zap.Error(err))
		return true
	}
	return cpu <= s.opts.CPUThreshold
}

func (s *Service) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Now().Sub(s.lastActivity)
}

// process consumes the task once. Failures are counted, never retried.
func (s *Service) process(ctx context.Context, task taskgen.Task) {
	gctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	start := time.Now()
	text, err := s.opts.Generator.Generate(gctx, task.Query, task.Context)
	s.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err == nil && gctx.Err() == context.DeadlineExceeded {
		err = hamerr.Wrap(hamerr.KindTimeout, "precompute.generate", gctx.Err())
	}
	if err != nil {
		s.fail(task, err)
		return
	}

	tpl := s.buildTemplate(task, text)
	if _, err := s.opts.Repository.StoreTemplate(ctx, tpl); err != nil {
		s.fail(task, err)
		return
	}
	s.processed.Add(1)
	s.metrics.PrecomputeProcessed.Inc()
	s.logger.Debug("template precomputed", zap.String("task_id", task.ID), zap.String("template_id", tpl.ID))
}

func (s *Service) fail(task taskgen.Task, err error) {
	s.failed.Add(1)
	s.metrics.PrecomputeFailed.Inc()
	s.logger.Warn("task failed", zap.String("task_id", task.ID), zap.String("query", task.Query), zap.Error(err))
}

func (s *Service) buildTemplate(task taskgen.Task, text string) *template.Template {
	cat := task.Category
	if !cat.Valid() || cat == template.Unknown {
		cat = template.ClassifyCategory(task.Query)
	}
	kw := task.Keywords
	if len(kw) == 0 {
		kw = processor.TopTerms(processor.ContentTokens(task.Query), 5)
	}
	tpl := template.New(cat, text, kw...)
	now := s.opts.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now
	tpl.AgentState = task.State
	tpl.Impression = task.Impression
	tpl.Metadata = map[string]any{
		"source":   SourcePrecomputed,
		"tags":     []string{SourcePrecomputed},
		"query":    task.Query,
		"task_id":  task.ID,
		"priority": task.Priority,
	}
	return tpl
}

// Stats is a point-in-time view of the service.
type Stats struct {
	State      string        `json:"state"`
	QueueDepth int           `json:"queue_depth"`
	InFlight   int           `json:"in_flight"`
	Processed  int64         `json:"processed"`
	Failed     int64         `json:"failed"`
	Dropped    int64         `json:"dropped"`
	IdleFor    time.Duration `json:"idle_for"`
}

func (s *Service) Stats() Stats {
	return Stats{
		State:      s.State().String(),
		QueueDepth: len(s.queue),
		InFlight:   int(s.inFlight.Load()),
		Processed:  s.processed.Load(),
		Failed:     s.failed.Load(),
		Dropped:    s.dropped.Load(),
		IdleFor:    s.idleFor(),
	}
}
