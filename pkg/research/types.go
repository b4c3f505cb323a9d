package research

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how aggressively the Iteration Policy keeps exploring.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// ParseMode accepts "standard", "deep" and the legacy "deeper".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeStandard):
		return ModeStandard, nil
	case string(ModeDeep), "deeper":
		return ModeDeep, nil
	default:
		return "", fmt.Errorf("unknown research mode %q", s)
	}
}

// Status is the lifecycle of a GlobalContext.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// AgentState is the state machine position of a run.
type AgentState string

const (
	StateIdle       AgentState = "idle"
	StateClarifying AgentState = "clarifying"
	StateManager    AgentState = "manager"
	StateWorker     AgentState = "worker"
	StateVerifier   AgentState = "verifier"
	StateWriter     AgentState = "writer"
	StateComplete   AgentState = "complete"
	StateFailed     AgentState = "failed"
	StatePaused     AgentState = "paused"
)

// Terminal reports whether no further transition is possible.
func (s AgentState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Agent identifies the author of a log entry.
type Agent string

const (
	AgentClarifier Agent = "Clarifier"
	AgentManager   Agent = "Manager"
	AgentWorker    Agent = "Worker"
	AgentVerifier  Agent = "Verifier"
	AgentWriter    Agent = "Writer"
	AgentSystem    Agent = "System"
)

// GlobalContext is the mutable research state of one run.
type GlobalContext struct {
	ProjectName   string          `json:"project_name"`
	OriginalQuery string          `json:"original_query"`
	Status        Status          `json:"status"`
	Iteration     int             `json:"iteration"`
	KnowledgeBank []KnowledgeItem `json:"knowledge_bank"`
	Conflicts     []ConflictItem  `json:"conflicts"`
	ResearchMode  Mode            `json:"research_mode"`
}

// NewGlobalContext starts an empty context for query.
func NewGlobalContext(query string, mode Mode) *GlobalContext {
	return &GlobalContext{
		ProjectName:   "Research Task",
		OriginalQuery: query,
		Status:        StatusInProgress,
		KnowledgeBank: []KnowledgeItem{},
		Conflicts:     []ConflictItem{},
		ResearchMode:  mode,
	}
}

// Clone returns a deep copy safe to hand to persistence.
func (g *GlobalContext) Clone() *GlobalContext {
	if g == nil {
		return nil
	}
	c := *g
	c.KnowledgeBank = make([]KnowledgeItem, len(g.KnowledgeBank))
	for i, k := range g.KnowledgeBank {
		c.KnowledgeBank[i] = KnowledgeItem{
			Topic:    k.Topic,
			Facts:    append([]string(nil), k.Facts...),
			Sources:  append([]string(nil), k.Sources...),
			Verified: k.Verified,
		}
	}
	c.Conflicts = append([]ConflictItem{}, g.Conflicts...)
	return &c
}

type KnowledgeItem struct {
	Topic    string   `json:"topic"`
	Facts    []string `json:"facts"`
	Sources  []string `json:"sources"`
	Verified bool     `json:"verified"`
}

type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

type ConflictItem struct {
	Point  string         `json:"point"`
	ClaimA string         `json:"claim_a"`
	ClaimB string         `json:"claim_b"`
	Status ConflictStatus `json:"status"`
}

// NextStep is the Manager's instruction for the Worker.
type NextStep struct {
	TaskDescription string   `json:"task_description"`
	SearchQueries   []string `json:"search_queries"`
	FocusArea       string   `json:"focus_area"`
}

type ManagerOutput struct {
	Thoughts         string   `json:"thoughts"`
	SufficiencyScore int      `json:"sufficiency_score"`
	IsFinished       bool     `json:"is_finished"`
	NextStep         NextStep `json:"next_step"`
}

func (m *ManagerOutput) Validate() error {
	if m.SufficiencyScore < 0 || m.SufficiencyScore > 100 {
		return fmt.Errorf("sufficiency_score %d outside 0-100", m.SufficiencyScore)
	}
	return nil
}

type WorkerFinding struct {
	SourceURL string `json:"source_url"`
	Fact      string `json:"fact"`
	Context   string `json:"context"`
}

type VerifierOutput struct {
	CleanedFindings []WorkerFinding `json:"cleaned_findings"`
	Conflicts       []ConflictItem  `json:"conflicts"`
}

type ClarifierOutput struct {
	IsClear   bool     `json:"is_clear"`
	Questions []string `json:"questions"`
	Reasoning string   `json:"reasoning"`
}

func (c *ClarifierOutput) Validate() error {
	if !c.IsClear && len(c.Questions) == 0 && c.Reasoning == "" {
		return errors.New("unclear query without questions or reasoning")
	}
	return nil
}

// LogEntry is one significant event of a run.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     Agent     `json:"agent"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
}

// RunConfig is the explicit configuration of one run.
type RunConfig struct {
	Mode           Mode   `json:"research_mode"`
	MinIterations  int    `json:"min_iterations"`
	MaxIterations  int    `json:"max_iterations"` // <= 0 means unbounded
	ManagerModel   string `json:"manager_model"`
	WorkerModel    string `json:"worker_model"`
	VerifierModel  string `json:"verifier_model"`
	ClarifierModel string `json:"clarifier_model"`
}

// Unbounded is the MaxIterations sentinel for "no forced stop".
const Unbounded = 0

// Bounded reports whether MaxIterations can force a stop.
func (c RunConfig) Bounded() bool {
	return c.MaxIterations > 0
}

func (c RunConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.MinIterations < 0 {
		return fmt.Errorf("min_iterations must not be negative, got %d", c.MinIterations)
	}
	if c.ManagerModel == "" || c.WorkerModel == "" || c.VerifierModel == "" {
		return errors.New("manager, worker and verifier models are required")
	}
	return nil
}
