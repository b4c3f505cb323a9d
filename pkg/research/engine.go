package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikeboe/kresearch/pkg/clients"
	"github.com/mikeboe/kresearch/pkg/credentials"
	"github.com/mikeboe/kresearch/pkg/metrics"
	"github.com/mikeboe/kresearch/pkg/research/tools"
)

var (
	// ErrNotPaused is returned by Resume when the run has nothing to resume.
	ErrNotPaused = errors.New("run is not paused")
	// ErrAlreadyStarted is returned by Run on an engine that left idle.
	ErrAlreadyStarted = errors.New("run already started")
	// ErrCancelled is returned by Run and Resume when the run was cancelled.
	ErrCancelled = errors.New("run cancelled")
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Provider clients.Provider
	Pool     *credentials.Pool
	// Search is used by the Worker when Provider is not search grounded.
	Search tools.SearchProvider
	// Journal receives the research log; a fresh one is created when nil.
	Journal *Journal
	// Console is the handler records are forwarded to after the journal.
	Console slog.Handler
	// Clarify runs the Clarifier once before the first Manager call.
	Clarify bool
}

// Snapshot is a consistent copy of a run, safe to keep after the run moves on.
type Snapshot struct {
	State            AgentState
	Iteration        int
	SufficiencyScore int
	Context          *GlobalContext
	Report           string
	Elapsed          time.Duration
	Err              string
}

// Engine drives one research run. Role agents run strictly one after another;
// only Snapshot may be called from other goroutines.
type Engine struct {
	Config  RunConfig
	Journal *Journal
	Logger  *slog.Logger
	// OnStateUpdate is called with a fresh snapshot after every transition
	// and every committed iteration.
	OnStateUpdate func(Snapshot)

	agents  *Agents
	pool    *credentials.Pool
	clarify bool

	mu         sync.Mutex
	gc         *GlobalContext
	state      AgentState
	resumeFrom AgentState
	score      int
	report     string
	lastErr    error
	elapsed    time.Duration
	started    time.Time

	pendingStep     *NextStep
	pendingFindings []WorkerFinding
}

// NewEngine prepares an idle run over gc.
func NewEngine(cfg RunConfig, gc *GlobalContext, deps Deps) *Engine {
	journal := deps.Journal
	if journal == nil {
		journal = NewJournal(nil)
	}
	console := deps.Console
	if console == nil {
		console = slog.Default().Handler()
	}
	logger := slog.New(NewJournalHandler(journal, console))

	return &Engine{
		Config:  cfg,
		Journal: journal,
		Logger:  logger,
		agents:  NewAgents(newFailover(deps.Provider, deps.Pool, logger), deps.Provider.SearchGrounded(), deps.Search, cfg, logger),
		pool:    deps.Pool,
		clarify: deps.Clarify,
		gc:      gc,
		state:   StateIdle,
	}
}

// RestoreEngine rebuilds a paused run from a stored snapshot. The pending
// step of an interrupted iteration is not stored, so it resumes at the Manager.
func RestoreEngine(cfg RunConfig, gc *GlobalContext, score int, elapsed time.Duration, deps Deps) *Engine {
	e := NewEngine(cfg, gc, deps)
	e.state = StatePaused
	e.resumeFrom = StateManager
	e.score = score
	e.elapsed = elapsed
	return e
}

// Snapshot returns a copy of the current run state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:            e.state,
		Iteration:        e.gc.Iteration,
		SufficiencyScore: e.score,
		Context:          e.gc.Clone(),
		Report:           e.report,
		Elapsed:          e.elapsed,
	}
	if !e.started.IsZero() {
		s.Elapsed += time.Since(e.started)
	}
	if e.lastErr != nil {
		s.Err = e.lastErr.Error()
	}
	return s
}

func (e *Engine) publish() {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(e.Snapshot())
	}
}

func (e *Engine) setState(s AgentState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.publish()
}

// Run executes the run from idle until it completes, fails or pauses.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.mu.Unlock()

	e.Logger.Info("Starting research", "agent", string(AgentSystem), "details", map[string]any{
		"query":          e.gc.OriginalQuery,
		"mode":           e.Config.Mode,
		"min_iterations": e.Config.MinIterations,
		"max_iterations": e.Config.MaxIterations,
	})

	next := StateManager
	if e.clarify {
		next = StateClarifying
	}
	return e.loop(ctx, next)
}

// Resume continues a paused run from where it stopped, with the credential
// cursor reset.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	from := e.resumeFrom
	e.lastErr = nil
	e.mu.Unlock()

	if from == "" {
		from = StateManager
	}
	e.pool.Reset()
	e.Logger.Info(fmt.Sprintf("Resuming research at %s", from), "agent", string(AgentSystem))
	return e.loop(ctx, from)
}

func (e *Engine) loop(ctx context.Context, state AgentState) error {
	e.mu.Lock()
	e.started = time.Now()
	e.mu.Unlock()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()
	defer e.stopClock()

	for {
		e.setState(state)

		var err error
		switch state {
		case StateClarifying:
			state = e.stepClarify(ctx)
		case StateManager:
			if ctx.Err() != nil {
				return e.cancel(state)
			}
			state, err = e.stepManager(ctx)
		case StateWorker:
			state, err = e.stepWorker(ctx)
		case StateVerifier:
			state, err = e.stepVerifier(ctx)
		case StateWriter:
			state, err = e.stepWriter(ctx)
		case StateComplete:
			metrics.Runs.WithLabelValues(string(StateComplete)).Inc()
			return nil
		default:
			return e.fail(fmt.Errorf("unexpected state %q", state))
		}

		if err != nil {
			return e.classify(ctx, state, err)
		}
	}
}

func (e *Engine) stopClock() {
	e.mu.Lock()
	if !e.started.IsZero() {
		e.elapsed += time.Since(e.started)
		e.started = time.Time{}
	}
	e.mu.Unlock()
}

// stepClarify is advisory; its outcome never blocks the run.
func (e *Engine) stepClarify(ctx context.Context) AgentState {
	out, err := e.agents.Clarify(ctx, e.gc.OriginalQuery, "")
	if err != nil {
		e.Logger.Warn("Clarification skipped", "agent", string(AgentClarifier), "details", err.Error())
		return StateManager
	}
	if out.IsClear {
		e.Logger.Info("Query is clear", "agent", string(AgentClarifier), "details", out)
	} else {
		e.Logger.Info("Query may be ambiguous, researching as stated", "agent", string(AgentClarifier), "details", out)
	}
	return StateManager
}

func (e *Engine) stepManager(ctx context.Context) (AgentState, error) {
	iteration := e.gc.Iteration
	out, err := e.agents.Manage(ctx, e.gc)
	if err != nil {
		return StateManager, err
	}

	e.mu.Lock()
	e.score = out.SufficiencyScore
	e.mu.Unlock()
	e.Logger.Info(fmt.Sprintf("Iteration %d: sufficiency %d%%", iteration, out.SufficiencyScore), "agent", string(AgentManager), "details", out)

	d := Decide(e.Config, iteration, out)
	if err := d.Check(e.Config, iteration); err != nil {
		return StateManager, err
	}

	switch d.Override {
	case OverrideMinIterations:
		metrics.PolicyOverrides.WithLabelValues(string(d.Override)).Inc()
		e.Logger.Info(fmt.Sprintf("Deep mode: minimum of %d iterations not reached (%d), continuing research", e.Config.MinIterations, iteration), "agent", string(AgentSystem))
	case OverrideMaxIterations:
		metrics.PolicyOverrides.WithLabelValues(string(d.Override)).Inc()
		e.Logger.Info(fmt.Sprintf("Maximum of %d iterations reached, writing report", e.Config.MaxIterations), "agent", string(AgentSystem))
	}

	if d.Finished {
		return StateWriter, nil
	}

	step := out.NextStep
	e.mu.Lock()
	e.pendingStep = &step
	e.mu.Unlock()
	return StateWorker, nil
}

func (e *Engine) stepWorker(ctx context.Context) (AgentState, error) {
	e.mu.Lock()
	step := e.pendingStep
	e.mu.Unlock()
	if step == nil {
		return StateManager, nil
	}

	e.Logger.Info("Investigating: "+step.TaskDescription, "agent", string(AgentWorker), "details", step)
	findings, err := e.agents.Investigate(ctx, *step)
	if err != nil {
		return StateWorker, err
	}
	e.Logger.Info(fmt.Sprintf("Found %d findings", len(findings)), "agent", string(AgentWorker), "details", findings)

	e.mu.Lock()
	e.pendingFindings = findings
	e.mu.Unlock()
	return StateVerifier, nil
}

func (e *Engine) stepVerifier(ctx context.Context) (AgentState, error) {
	e.mu.Lock()
	step := e.pendingStep
	findings := e.pendingFindings
	e.mu.Unlock()
	if step == nil {
		return StateManager, nil
	}

	out, err := e.agents.Verify(ctx, e.gc.OriginalQuery, findings, e.gc.KnowledgeBank)
	if err != nil {
		return StateVerifier, err
	}
	if ctx.Err() != nil {
		return StateVerifier, ctx.Err()
	}

	e.mu.Lock()
	for _, f := range out.CleanedFindings {
		e.gc.KnowledgeBank = append(e.gc.KnowledgeBank, KnowledgeItem{
			Topic:    step.FocusArea,
			Facts:    []string{f.Fact},
			Sources:  []string{f.SourceURL},
			Verified: true,
		})
	}
	e.gc.Conflicts = append(e.gc.Conflicts, out.Conflicts...)
	e.gc.Iteration++
	e.pendingStep = nil
	e.pendingFindings = nil
	e.mu.Unlock()

	metrics.Iterations.WithLabelValues(string(e.Config.Mode)).Inc()
	e.Logger.Info(fmt.Sprintf("Verified %d findings, %d conflicts", len(out.CleanedFindings), len(out.Conflicts)), "agent", string(AgentVerifier), "details", out)
	return StateManager, nil
}

func (e *Engine) stepWriter(ctx context.Context) (AgentState, error) {
	e.Logger.Info("Writing final report", "agent", string(AgentWriter))
	report, err := e.agents.Write(ctx, e.gc)
	if err != nil {
		return StateWriter, err
	}
	if ctx.Err() != nil {
		return StateWriter, ctx.Err()
	}

	e.mu.Lock()
	e.report = report
	e.gc.Status = StatusComplete
	e.mu.Unlock()
	e.Logger.Info("Research complete", "agent", string(AgentWriter), "details", map[string]int{"report_length": len(report)})
	return StateComplete, nil
}

// classify settles a failed step: cancellation and credential exhaustion
// pause the run, everything else fails it.
func (e *Engine) classify(ctx context.Context, at AgentState, err error) error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return e.cancel(at)
	case errors.Is(err, ErrCredentialsExhausted):
		e.mu.Lock()
		e.resumeFrom = at
		e.lastErr = err
		e.state = StatePaused
		e.mu.Unlock()
		metrics.Runs.WithLabelValues(string(StatePaused)).Inc()
		e.Logger.Error("Research paused: every API key failed. Check your keys or quota, then resume.", "agent", string(AgentSystem), "details", err.Error())
		e.publish()
		return err
	default:
		return e.fail(err)
	}
}

// cancel pauses the run and discards the iteration in flight.
func (e *Engine) cancel(at AgentState) error {
	e.mu.Lock()
	e.pendingStep = nil
	e.pendingFindings = nil
	e.resumeFrom = StateManager
	if at == StateWriter {
		e.resumeFrom = StateWriter
	}
	e.lastErr = ErrCancelled
	e.state = StatePaused
	e.mu.Unlock()

	metrics.Runs.WithLabelValues(string(StatePaused)).Inc()
	e.Logger.Warn("Research cancelled, current iteration discarded", "agent", string(AgentSystem))
	e.publish()
	return ErrCancelled
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.gc.Status = StatusFailed
	e.lastErr = err
	e.state = StateFailed
	e.mu.Unlock()

	metrics.Runs.WithLabelValues(string(StateFailed)).Inc()
	e.Logger.Error("Research failed: "+err.Error(), "agent", string(AgentSystem))
	e.publish()
	return err
}

// RegenerateReport runs the Writer again on gc and returns the new report.
// gc is not modified.
func RegenerateReport(ctx context.Context, cfg RunConfig, gc *GlobalContext, deps Deps) (string, error) {
	e := NewEngine(cfg, gc.Clone(), deps)
	e.Logger.Info("Regenerating report", "agent", string(AgentWriter))
	report, err := e.agents.Write(ctx, e.gc)
	if err != nil {
		e.Logger.Error("Report regeneration failed: "+err.Error(), "agent", string(AgentSystem))
		return "", err
	}
	e.Logger.Info("Report regenerated", "agent", string(AgentWriter), "details", map[string]int{"report_length": len(report)})
	return report, nil
}
