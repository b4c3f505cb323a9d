package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/kresearch/pkg/clients"
	"github.com/mikeboe/kresearch/pkg/credentials"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
	"github.com/mikeboe/kresearch/pkg/research/tools"
)

var (
	// ErrBadRequest wraps every validation failure of a request.
	ErrBadRequest = errors.New("bad request")
	// ErrRunActive is returned when an operation needs the run to be stopped.
	ErrRunActive = errors.New("run is active")
	// ErrRunNotActive is returned by CancelRun for a run that is not executing.
	ErrRunNotActive = errors.New("run is not active")
)

// Service is the control surface over research runs. Each run executes in its
// own goroutine with its own context and credential pool cursor.
type Service struct {
	Store    history.Store
	Provider clients.Provider
	Search   tools.SearchProvider
	Defaults research.RunConfig
	Console  slog.Handler

	pool *credentials.Pool

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	engine    *research.Engine
	createdAt time.Time
	cancel    context.CancelFunc
	active    bool
	done      chan struct{}
}

func NewService(store history.Store, provider clients.Provider, keys []string, search tools.SearchProvider, defaults research.RunConfig) *Service {
	return &Service{
		Store:    store,
		Provider: provider,
		Search:   search,
		Defaults: defaults,
		Console:  slog.Default().Handler(),
		pool:     credentials.NewPool(keys),
		runs:     make(map[string]*run),
	}
}

type StartRequest struct {
	Query         string `json:"query"`
	Mode          string `json:"mode,omitempty"`
	MinIterations *int   `json:"min_iterations,omitempty"`
	// MaxIterations of zero or less means unbounded.
	MaxIterations *int `json:"max_iterations,omitempty"`
	Clarify       bool `json:"clarify,omitempty"`
}

// State is the live view of a run.
type State struct {
	ID               string              `json:"id"`
	AgentState       research.AgentState `json:"agent_state"`
	Status           research.Status     `json:"status"`
	Iteration        int                 `json:"iteration"`
	SufficiencyScore int                 `json:"sufficiency_score"`
	Logs             []research.LogEntry `json:"logs"`
	Error            string              `json:"error,omitempty"`
}

func (s *Service) runConfig(req StartRequest) (research.RunConfig, error) {
	cfg := s.Defaults
	if req.Mode != "" {
		mode, err := research.ParseMode(strings.ToLower(req.Mode))
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		cfg.Mode = mode
	}
	if req.MinIterations != nil {
		cfg.MinIterations = *req.MinIterations
	}
	if req.MaxIterations != nil {
		cfg.MaxIterations = max(*req.MaxIterations, research.Unbounded)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return cfg, nil
}

func (s *Service) deps(journal *research.Journal, clarify bool) research.Deps {
	return research.Deps{
		Provider: s.Provider,
		Pool:     s.pool.Clone(),
		Search:   s.Search,
		Journal:  journal,
		Console:  s.Console,
		Clarify:  clarify,
	}
}

// StartRun creates a session and starts researching in the background.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	cfg, err := s.runConfig(req)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	gc := research.NewGlobalContext(query, cfg.Mode)
	engine := research.NewEngine(cfg, gc, s.deps(nil, req.Clarify))

	item := history.HistoryItem{
		ID:            id,
		Query:         query,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        gc.Status,
		AgentState:    research.StateIdle,
		Logs:          []research.LogEntry{},
		GlobalContext: gc.Clone(),
		ResearchMode:  cfg.Mode,
		Config:        cfg,
	}
	if err := s.Store.Save(ctx, item); err != nil {
		return "", err
	}

	s.launch(id, now, engine, engine.Run)
	return id, nil
}

// ResumeRun continues a paused run. A run of this process resumes where it
// stopped; a run rebuilt from the store resumes at the Manager.
func (s *Service) ResumeRun(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok && r.active {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.mu.Unlock()

	if ok {
		if r.engine.Snapshot().State != research.StatePaused {
			return research.ErrNotPaused
		}
		s.launch(id, r.createdAt, r.engine, r.engine.Resume)
		return nil
	}

	item, err := s.Store.Load(ctx, id)
	if err != nil {
		return err
	}
	if item.AgentState.Terminal() || item.GlobalContext == nil {
		return research.ErrNotPaused
	}

	engine := research.RestoreEngine(item.Config, item.GlobalContext, item.SufficiencyScore,
		time.Duration(item.ElapsedTime)*time.Millisecond, s.deps(research.NewJournal(item.Logs), false))
	s.launch(id, item.CreatedAt, engine, engine.Resume)
	return nil
}

// CancelRun asks an executing run to stop. The run pauses at its next
// cancellation point.
func (s *Service) CancelRun(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()

	if !ok || !r.active {
		if _, err := s.Store.Load(ctx, id); err != nil {
			return err
		}
		return ErrRunNotActive
	}
	r.cancel()
	return nil
}

// Wait blocks until the run id stops executing or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) launch(id string, createdAt time.Time, engine *research.Engine, fn func(context.Context) error) {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{engine: engine, createdAt: createdAt, cancel: cancel, active: true, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	engine.OnStateUpdate = func(snap research.Snapshot) {
		s.persist(id, createdAt, engine, snap)
	}

	go func() {
		defer close(r.done)
		defer cancel()

		err := fn(runCtx)
		snap := engine.Snapshot()
		s.persist(id, createdAt, engine, snap)

		s.mu.Lock()
		r.active = false
		s.mu.Unlock()

		if err != nil {
			slog.Warn("Research run stopped", "session_id", id, "state", snap.State, "error", err)
			return
		}
		slog.Info("Research run complete", "session_id", id, "iterations", snap.Iteration)
	}()
}

func (s *Service) persist(id string, createdAt time.Time, engine *research.Engine, snap research.Snapshot) {
	item := itemFromSnapshot(id, createdAt, engine, snap)
	if err := s.Store.Save(context.Background(), item); err != nil {
		slog.Error("Failed to save session", "session_id", id, "error", err)
	}
}

func itemFromSnapshot(id string, createdAt time.Time, engine *research.Engine, snap research.Snapshot) history.HistoryItem {
	item := history.HistoryItem{
		ID:               id,
		Query:            snap.Context.OriginalQuery,
		CreatedAt:        createdAt,
		UpdatedAt:        time.Now().UTC(),
		Status:           snap.Context.Status,
		AgentState:       snap.State,
		SufficiencyScore: snap.SufficiencyScore,
		Logs:             engine.Journal.Entries(),
		GlobalContext:    snap.Context,
		ResearchMode:     snap.Context.ResearchMode,
		ElapsedTime:      snap.Elapsed.Milliseconds(),
		Config:           engine.Config,
		Error:            snap.Err,
	}
	if snap.Report != "" {
		report := snap.Report
		item.FinalReport = &report
	}
	return item
}

// GetState returns the live state of an executing run, or the stored state.
func (s *Service) GetState(ctx context.Context, id string) (State, error) {
	item, err := s.GetSession(ctx, id)
	if err != nil {
		return State{}, err
	}

	st := State{
		ID:               item.ID,
		AgentState:       item.AgentState,
		Status:           item.Status,
		SufficiencyScore: item.SufficiencyScore,
		Logs:             item.Logs,
		Error:            item.Error,
	}
	if item.GlobalContext != nil {
		st.Iteration = item.GlobalContext.Iteration
	}
	if st.Logs == nil {
		st.Logs = []research.LogEntry{}
	}
	return st, nil
}

// GetSession returns the full session, reading executing runs live.
func (s *Service) GetSession(ctx context.Context, id string) (history.HistoryItem, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	active := ok && r.active
	s.mu.Unlock()

	if active {
		return itemFromSnapshot(id, r.createdAt, r.engine, r.engine.Snapshot()), nil
	}
	return s.Store.Load(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]history.HistoryItem, error) {
	items, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []history.HistoryItem{}
	}
	return items, nil
}

// Delete removes a stopped session.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if r, ok := s.runs[id]; ok {
		if r.active {
			s.mu.Unlock()
			return ErrRunActive
		}
		delete(s.runs, id)
	}
	s.mu.Unlock()

	return s.Store.Delete(ctx, id)
}

// Clarify asks the Clarifier whether query is specific enough. transcript is
// the "AI: ..." / "User: ..." exchange so far.
func (s *Service) Clarify(ctx context.Context, query, transcript string) (research.ClarifierOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return research.ClarifierOutput{}, fmt.Errorf("%w: query is required", ErrBadRequest)
	}

	logger := slog.New(s.Console)
	gen := research.NewGenerator(s.Provider, s.pool.Clone(), logger)
	agents := research.NewAgents(gen, s.Provider.SearchGrounded(), nil, s.Defaults, logger)
	return agents.Clarify(ctx, query, transcript)
}

// RegenerateReport runs the Writer again on a stopped session and stores the
// new report.
func (s *Service) RegenerateReport(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	if r, ok := s.runs[id]; ok {
		if r.active {
			s.mu.Unlock()
			return "", ErrRunActive
		}
		// The stored session becomes the source of truth again.
		delete(s.runs, id)
	}
	s.mu.Unlock()

	item, err := s.Store.Load(ctx, id)
	if err != nil {
		return "", err
	}
	if item.GlobalContext == nil {
		return "", fmt.Errorf("%w: session has no research context", ErrBadRequest)
	}

	journal := research.NewJournal(item.Logs)
	report, err := research.RegenerateReport(ctx, item.Config, item.GlobalContext, s.deps(journal, false))
	item.Logs = journal.Entries()
	item.UpdatedAt = time.Now().UTC()
	if err != nil {
		if saveErr := s.Store.Save(ctx, item); saveErr != nil {
			slog.Error("Failed to save session", "session_id", id, "error", saveErr)
		}
		return "", err
	}

	item.FinalReport = &report
	if err := s.Store.Save(ctx, item); err != nil {
		return "", err
	}
	return report, nil
}

// Shutdown cancels every executing run and waits for them to pause.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var pending []*run
	for _, r := range s.runs {
		if r.active {
			r.cancel()
			pending = append(pending, r)
		}
	}
	s.mu.Unlock()

	for _, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
