// Package engine implements the extraction orchestrator: one narrative
// snapshot fanned out to the specialized agents concurrently, their
// operations validated, fuzzily resolved against the existing world model,
// and applied to the store in dependency order while keeping the read
// cache coherent. One bad agent never voids the turn; the engine always
// returns a best-effort summary with an explicit error list.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fabula/internal/agents"
	"fabula/internal/cache"
	"fabula/internal/match"
	"fabula/internal/ops"
	"fabula/internal/perception"
	"fabula/internal/world"
)

var (
	// ErrSessionBusy signals a concurrent turn for the same session; the
	// second turn is rejected, not queued.
	ErrSessionBusy = errors.New("session is already being processed")
	// ErrSnapshotLoad signals a total inability to load the initial
	// snapshot. This is the only failure that aborts the whole run.
	ErrSnapshotLoad = errors.New("failed to load world snapshot")
)

// DefaultAgentTimeout bounds each agent's completion call.
const DefaultAgentTimeout = 90 * time.Second

// Input is one extraction request from the turn handler.
type Input struct {
	SessionID         string
	Cycle             int
	Weekday           string
	Narrative         string
	CharactersPresent []string
	SceneID           string
}

// Options tunes an Orchestrator.
type Options struct {
	Resolver     match.Resolver
	Logger       *zap.Logger
	AgentTimeout time.Duration
}

// Orchestrator runs the extraction pipeline for one process. The cache is
// an explicit instance passed in, never package state, so tests can
// isolate their own.
type Orchestrator struct {
	store        world.Store
	cache        *cache.Cache
	client       perception.CompletionClient
	resolver     match.Resolver
	logger       *zap.Logger
	agents       []agents.Agent
	cycleAgent   *agents.CycleResumeAgent
	agentTimeout time.Duration
	locks        *sessionLocks
}

// New creates an orchestrator with the five standard extraction agents.
func New(store world.Store, c *cache.Cache, client perception.CompletionClient, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.AgentTimeout
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	resolver := opts.Resolver
	if resolver.Threshold() == 0 {
		resolver = match.NewResolver(match.DefaultThreshold)
	}
	return &Orchestrator{
		store:    store,
		cache:    c,
		client:   client,
		resolver: resolver,
		logger:   logger,
		agents: []agents.Agent{
			agents.NewResumeAgent(),
			agents.NewStatsAgent(),
			agents.NewTransactionAgent(),
			agents.NewEntityAgent(),
			agents.NewEventAgent(),
		},
		cycleAgent:   agents.NewCycleResumeAgent(),
		agentTimeout: timeout,
		locks:        newSessionLocks(),
	}
}

// ExtractTurn synchronizes the world model with one turn of narrative.
// Agent failures, invalid operations, unresolvable references and single
// write failures are all recorded and survived; only a snapshot load
// failure (or a busy session) aborts the run.
func (o *Orchestrator) ExtractTurn(ctx context.Context, in Input) (*Summary, error) {
	if !o.locks.acquire(in.SessionID) {
		return nil, fmt.Errorf("session %s: %w", in.SessionID, ErrSessionBusy)
	}
	defer o.locks.release(in.SessionID)

	start := time.Now()
	metrics := Metrics{
		RunID:     uuid.NewString(),
		SessionID: in.SessionID,
		Created:   make(map[string]int),
		Modified:  make(map[string]int),
	}

	snap, err := o.loadSnapshot(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotLoad, err)
	}
	if in.Cycle > 0 {
		snap.Cycle = in.Cycle
	}
	if in.Weekday != "" {
		snap.Weekday = in.Weekday
	}
	metrics.Cycle = snap.Cycle

	narrative := in.Narrative
	if len(in.CharactersPresent) > 0 {
		narrative = "Characters present in the scene: " +
			strings.Join(in.CharactersPresent, ", ") + "\n\n" + narrative
	}

	batch, resume := o.fanOut(ctx, snap, narrative, &metrics)

	valid, invalid := ops.ValidateBatch(batch)
	for _, inv := range invalid {
		metrics.Errors = append(metrics.Errors, "validation: "+inv.String())
	}

	touched := o.applyBatch(ctx, snap, valid, &metrics)

	if resume != "" && in.SceneID != "" {
		err := o.store.SaveSceneResume(ctx, world.SceneResume{
			SessionID: in.SessionID,
			SceneID:   in.SceneID,
			Cycle:     snap.Cycle,
			Resume:    resume,
		})
		if err != nil {
			metrics.Errors = append(metrics.Errors, "store: "+err.Error())
		}
	}

	for kind := range touched {
		o.cache.InvalidateKind(in.SessionID, kind)
	}

	metrics.Duration = time.Since(start)
	o.recordRun(ctx, &metrics)

	o.logger.Info("extraction run complete",
		zap.String("session", in.SessionID),
		zap.Int("cycle", snap.Cycle),
		zap.Int("agents_ok", metrics.agentsOK()),
		zap.Int("agents_failed", metrics.agentsFailed()),
		zap.Int("created", metrics.totalCreated()),
		zap.Int("modified", metrics.totalModified()),
		zap.Int("errors", len(metrics.Errors)),
		zap.Duration("duration", metrics.Duration))

	return &Summary{Success: true, Resume: resume, Metrics: metrics}, nil
}

// fanOut launches every agent against the shared snapshot and joins on all
// of them. No agent observes another's output; failures are independent.
func (o *Orchestrator) fanOut(ctx context.Context, snap *world.Snapshot, narrative string, metrics *Metrics) (ops.Batch, string) {
	var (
		mu     sync.Mutex
		batch  ops.Batch
		resume string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range o.agents {
		g.Go(func() error {
			report, result := o.runAgent(gctx, agent, snap, narrative)
			mu.Lock()
			defer mu.Unlock()
			metrics.Agents = append(metrics.Agents, report)
			if !report.OK {
				metrics.Errors = append(metrics.Errors, fmt.Sprintf("agent %s: %s", report.Name, report.Error))
				return nil
			}
			batch.Merge(result.Batch)
			if result.Resume != "" {
				resume = result.Resume
			}
			metrics.Errors = append(metrics.Errors, result.LocalDrops...)
			return nil
		})
	}
	// Branches always return nil; failures ride in the reports.
	_ = g.Wait()

	return batch, resume
}

func (o *Orchestrator) runAgent(ctx context.Context, agent agents.Agent, snap *world.Snapshot, narrative string) (AgentReport, agents.Result) {
	start := time.Now()
	report := AgentReport{Name: agent.Name()}

	actx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()

	system, user := agent.BuildContext(snap, narrative)
	raw, err := o.client.Complete(actx, system, user)
	if err != nil {
		report.Error = err.Error()
		report.DurationMS = time.Since(start).Milliseconds()
		o.logger.Warn("agent completion failed", zap.String("agent", report.Name), zap.Error(err))
		return report, agents.Result{}
	}

	result, err := agent.Parse(snap, raw)
	if err != nil {
		report.Error = err.Error()
		report.DurationMS = time.Since(start).Milliseconds()
		o.logger.Warn("agent parse failed", zap.String("agent", report.Name), zap.Error(err))
		return report, agents.Result{}
	}

	report.OK = true
	report.DurationMS = time.Since(start).Milliseconds()
	return report, result
}

// Snapshot loads the current world slice for a session through the read
// cache, the same view the extraction agents get.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*world.Snapshot, error) {
	snap, err := o.loadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotLoad, err)
	}
	return snap, nil
}

// CloseCycle folds the day's scene resumes into a persisted digest. Runs
// at day boundary, outside the per-turn fan-out.
func (o *Orchestrator) CloseCycle(ctx context.Context, sessionID string, cycle int, weekday string) (world.CycleResume, error) {
	resumes, err := o.store.SceneResumes(ctx, sessionID, cycle)
	if err != nil {
		return world.CycleResume{}, fmt.Errorf("failed to load scene resumes: %w", err)
	}
	if len(resumes) == 0 {
		return world.CycleResume{}, fmt.Errorf("no scene resumes for cycle %d: %w", cycle, world.ErrNotFound)
	}

	system, user := o.cycleAgent.BuildContext(cycle, weekday, resumes)
	raw, err := o.client.Complete(ctx, system, user)
	if err != nil {
		return world.CycleResume{}, fmt.Errorf("cycle resume completion: %w", err)
	}
	digest, err := o.cycleAgent.Parse(sessionID, cycle, raw)
	if err != nil {
		return world.CycleResume{}, err
	}
	if err := o.store.SaveCycleResume(ctx, digest); err != nil {
		return world.CycleResume{}, err
	}
	return digest, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, metrics *Metrics) {
	detail, err := json.Marshal(metrics)
	if err != nil {
		detail = nil
	}
	record := world.RunRecord{
		ID:         metrics.RunID,
		SessionID:  metrics.SessionID,
		Cycle:      metrics.Cycle,
		Success:    true,
		AgentsOK:   metrics.agentsOK(),
		AgentsFail: metrics.agentsFailed(),
		Created:    metrics.totalCreated(),
		Modified:   metrics.totalModified(),
		Errors:     metrics.Errors,
		DurationMS: metrics.Duration.Milliseconds(),
		Detail:     detail,
	}
	if err := o.store.RecordRun(ctx, record); err != nil {
		o.logger.Warn("failed to persist run metrics", zap.Error(err))
	}
}
