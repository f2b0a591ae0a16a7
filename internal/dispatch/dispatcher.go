// Package dispatch turns creative intents into artifacts. A bounded
// worker pool drives each job through submit and poll against the
// matching generation service, with exponential backoff on errors,
// and records exactly one memory on success.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/embedding"
	"github.com/jiejieje/alien-town/internal/generation"
	"github.com/jiejieje/alien-town/internal/memory"
	"go.uber.org/zap"
)

var (
	// ErrNoGenerator is returned when an intent names a kind no
	// generator was registered for.
	ErrNoGenerator = errors.New("no generator for kind")
	// ErrQueueFull is returned when the intake queue is saturated.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrNotStarted is returned when enqueueing before Start.
	ErrNotStarted = errors.New("dispatcher not started")
	// ErrJobExhausted marks a job that burned through its failure or
	// poll budget. Terminal for the job, never fatal for the agent.
	ErrJobExhausted = errors.New("job budget exhausted")
)

// AgentLookup resolves an agent id to the live resident, so completed
// jobs can append to its memories. Absent agents (removed mid-flight)
// simply lose the record.
type AgentLookup func(agentID string) (*agent.Agent, bool)

// TickSource reports the current simulation tick. Artifact records
// are stamped with the tick at completion, not at enqueue.
type TickSource func() int64

// Announcer is told about every settled job. *notify.Broadcaster
// implements it.
type Announcer interface {
	AnnounceJob(ctx context.Context, job *Job)
}

// EventSink publishes job lifecycle events. *bus.Bus implements it.
type EventSink interface {
	PublishJob(ctx context.Context, job *Job)
}

// Config holds the dispatcher's tunables.
type Config struct {
	Workers            int           `json:"workers"`
	QueueSize          int           `json:"queue_size"`
	MaxFailures        int           `json:"max_failures"`
	MaxPolls           int           `json:"max_polls"`
	BackoffBase        time.Duration `json:"backoff_base"`
	BackoffCap         time.Duration `json:"backoff_cap"`
	PollInterval       time.Duration `json:"poll_interval"`
	ArtifactImportance float64       `json:"artifact_importance"`
}

// DefaultConfig returns production-shaped settings.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		QueueSize:          64,
		MaxFailures:        5,
		MaxPolls:           60,
		BackoffBase:        2 * time.Second,
		BackoffCap:         time.Minute,
		PollInterval:       5 * time.Second,
		ArtifactImportance: 6,
	}
}

// Dispatcher owns the creative job queue and its workers.
type Dispatcher struct {
	cfg        Config
	generators map[agent.CreativeKind]generation.Generator
	agents     AgentLookup
	tick       TickSource
	embedder   embedding.Provider
	announcer  Announcer
	events     EventSink

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string

	queue  chan *Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a dispatcher. Generators are registered separately.
func New(cfg Config, agents AgentLookup, tick TickSource, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ArtifactImportance <= 0 {
		cfg.ArtifactImportance = def.ArtifactImportance
	}
	return &Dispatcher{
		cfg:        cfg,
		generators: make(map[agent.CreativeKind]generation.Generator),
		agents:     agents,
		tick:       tick,
		jobs:       make(map[string]*Job),
		logger:     logger,
	}
}

// RegisterGenerator wires one creative kind to a service client.
func (d *Dispatcher) RegisterGenerator(kind agent.CreativeKind, gen generation.Generator) {
	d.generators[kind] = gen
}

// SetEmbedder lets artifact records carry an embedding so they take
// part in retrieval. Optional.
func (d *Dispatcher) SetEmbedder(p embedding.Provider) { d.embedder = p }

// SetAnnouncer routes settled jobs to a notifier.
func (d *Dispatcher) SetAnnouncer(a Announcer) { d.announcer = a }

// SetEventSink routes job lifecycle events to a bus.
func (d *Dispatcher) SetEventSink(e EventSink) { d.events = e }

// Start launches the worker pool. Workers run until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.queue = make(chan *Job, d.cfg.QueueSize)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("kinds", len(d.generators)))
}

// Enqueue accepts a creative intent and tracks it as a pending job.
func (d *Dispatcher) Enqueue(intent *agent.CreativeIntent) error {
	if d.queue == nil {
		return ErrNotStarted
	}
	if _, ok := d.generators[intent.Kind]; !ok {
		return fmt.Errorf("%w: %s", ErrNoGenerator, intent.Kind)
	}
	name := intent.AgentID
	if a, ok := d.agents(intent.AgentID); ok {
		name = a.Name
	}
	now := time.Now().UTC()
	job := &Job{
		ID:           uuid.New().String(),
		AgentID:      intent.AgentID,
		AgentName:    name,
		Kind:         intent.Kind,
		Prompt:       intent.Prompt,
		EnqueuedTick: intent.Tick,
		State:        JobPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	d.mu.Lock()
	d.jobs[job.ID] = job
	d.order = append(d.order, job.ID)
	d.mu.Unlock()

	select {
	case d.queue <- job:
		d.logger.Info("creative job enqueued",
			zap.String("job", job.ID),
			zap.String("agent", name),
			zap.String("kind", string(job.Kind)))
		return nil
	default:
		d.setState(job, JobFailed, ErrQueueFull.Error())
		d.settle(context.Background(), job)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.process(ctx, job)
		}
	}
}

// process drives a job to a terminal state. Submit and poll errors
// both count against the same consecutive-failure budget; each
// successful exchange resets it.
func (d *Dispatcher) process(ctx context.Context, job *Job) {
	gen := d.generators[job.Kind]

	// Submit with retries.
	var remoteID string
	for {
		id, err := gen.Submit(ctx, job.Prompt)
		if err == nil {
			remoteID = id
			d.mu.Lock()
			job.RemoteID = id
			job.Failures = 0
			d.mu.Unlock()
			d.setState(job, JobSubmitted, "")
			break
		}
		if !d.recordFailure(ctx, job, err) {
			return
		}
	}

	d.setState(job, JobPolling, "")
	for {
		if !d.sleep(ctx, d.cfg.PollInterval) {
			d.logger.Warn("job abandoned on shutdown", zap.String("job", job.ID))
			return
		}
		d.mu.Lock()
		job.Polls++
		polls := job.Polls
		d.mu.Unlock()
		if polls > d.cfg.MaxPolls {
			d.setState(job, JobFailed, fmt.Errorf("%w: polls", ErrJobExhausted).Error())
			d.settle(ctx, job)
			return
		}

		res, err := gen.Poll(ctx, remoteID)
		if err != nil {
			if !d.recordFailure(ctx, job, err) {
				return
			}
			continue
		}
		d.mu.Lock()
		job.Failures = 0
		d.mu.Unlock()

		switch res.State {
		case generation.StateSucceeded:
			d.complete(ctx, job, res.Location)
			return
		case generation.StateFailed:
			d.setState(job, JobFailed, res.Detail)
			d.settle(ctx, job)
			return
		}
	}
}

// recordFailure bumps the consecutive-failure count and backs off.
// It returns false when the job is done for, either because the
// budget ran out or the dispatcher is shutting down.
func (d *Dispatcher) recordFailure(ctx context.Context, job *Job, cause error) bool {
	d.mu.Lock()
	job.Failures++
	failures := job.Failures
	job.Error = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	d.mu.Unlock()

	if failures >= d.cfg.MaxFailures {
		d.setState(job, JobFailed, fmt.Errorf("%w: %v", ErrJobExhausted, cause).Error())
		d.settle(ctx, job)
		return false
	}

	backoff := d.cfg.BackoffBase << (failures - 1)
	if backoff > d.cfg.BackoffCap || backoff <= 0 {
		backoff = d.cfg.BackoffCap
	}
	d.logger.Warn("creative job errored, backing off",
		zap.String("job", job.ID),
		zap.Int("failures", failures),
		zap.Duration("backoff", backoff),
		zap.Error(cause))
	if !d.sleep(ctx, backoff) {
		d.logger.Warn("job abandoned on shutdown", zap.String("job", job.ID))
		return false
	}
	return true
}

// complete records the artifact into the owning agent's memory as a
// single observation stamped with the completion tick, then marks the
// job succeeded. A rejected record fails the job instead.
func (d *Dispatcher) complete(ctx context.Context, job *Job, location string) {
	d.mu.Lock()
	job.Location = location
	d.mu.Unlock()

	a, ok := d.agents(job.AgentID)
	if !ok {
		d.logger.Warn("artifact owner left before completion",
			zap.String("job", job.ID),
			zap.String("agent", job.AgentID))
		d.mu.Lock()
		job.CompletedTick = d.tick()
		d.mu.Unlock()
		d.setState(job, JobSucceeded, "")
		d.settle(ctx, job)
		return
	}

	content := fmt.Sprintf("%s finished a %s inspired by: %s", a.Name, job.Kind, job.Prompt)
	rec := &memory.Record{
		Kind:       memory.KindObservation,
		Content:    content,
		Importance: d.cfg.ArtifactImportance,
		Artifact: &memory.ArtifactRef{
			Kind:     string(job.Kind),
			Location: location,
			JobID:    job.ID,
		},
	}
	if d.embedder != nil {
		if vec, err := embedding.One(ctx, d.embedder, content); err == nil {
			rec.Embedding = vec
		} else {
			d.logger.Warn("artifact record left unembedded",
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}

	// The simulation keeps ticking while the embedding call is in
	// flight, and the owner's cycle may append newer records in the
	// same window. The artifact lands at whichever is later: the
	// current tick or the stream's newest tick, re-read per attempt.
	var tick int64
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		tick = d.tick()
		if last := a.Memories.LastTick(); last > tick {
			tick = last
		}
		rec.CreatedAtTick = tick
		if _, err = a.Memories.Append(rec); err == nil || !errors.Is(err, memory.ErrTickRegression) {
			break
		}
	}
	if err != nil {
		d.logger.Error("artifact record rejected",
			zap.String("job", job.ID),
			zap.Error(err))
		d.setState(job, JobFailed, err.Error())
		d.settle(ctx, job)
		return
	}

	d.mu.Lock()
	job.CompletedTick = tick
	d.mu.Unlock()
	d.setState(job, JobSucceeded, "")
	d.logger.Info("artifact recorded",
		zap.String("agent", a.Name),
		zap.String("kind", string(job.Kind)),
		zap.String("location", location),
		zap.Int64("tick", tick))
	d.settle(ctx, job)
}

func (d *Dispatcher) settle(ctx context.Context, job *Job) {
	if d.announcer != nil {
		d.announcer.AnnounceJob(ctx, job)
	}
	if d.events != nil {
		d.events.PublishJob(ctx, job)
	}
}

func (d *Dispatcher) setState(job *Job, state JobState, detail string) {
	d.mu.Lock()
	job.State = state
	if detail != "" {
		job.Error = detail
	}
	job.UpdatedAt = time.Now().UTC()
	d.mu.Unlock()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Job returns a copy of one tracked job.
func (d *Dispatcher) Job(id string) (Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns copies of all tracked jobs in enqueue order.
func (d *Dispatcher) Jobs() []Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Job, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.jobs[id])
	}
	return out
}

// Pending counts jobs that have not settled yet.
func (d *Dispatcher) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, j := range d.jobs {
		if !j.State.Terminal() {
			n++
		}
	}
	return n
}

// Stop cancels the workers and waits up to grace for them to finish
// their current exchange. Unsettled jobs stay in their last state.
func (d *Dispatcher) Stop(grace time.Duration) {
	if d.cancel == nil {
		return
	}
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("dispatcher drained")
	case <-time.After(grace):
		d.logger.Warn("dispatcher stop timed out",
			zap.Int("pending", d.Pending()))
	}
}
