// Package history persists research sessions.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/mikeboe/kresearch/pkg/research"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// HistoryItem is the stored form of one research session.
type HistoryItem struct {
	ID               string                  `json:"id"`
	Query            string                  `json:"query"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	Status           research.Status         `json:"status"`
	AgentState       research.AgentState     `json:"agent_state"`
	SufficiencyScore int                     `json:"sufficiency_score"`
	Logs             []research.LogEntry     `json:"logs"`
	GlobalContext    *research.GlobalContext `json:"global_context"`
	FinalReport      *string                 `json:"final_report"`
	ResearchMode     research.Mode           `json:"research_mode"`
	ElapsedTime      int64                   `json:"elapsed_time"` // milliseconds
	Config           research.RunConfig      `json:"config"`
	Error            string                  `json:"error,omitempty"`
}

// Store is the persistence boundary of the control surface.
type Store interface {
	Save(ctx context.Context, item HistoryItem) error
	Load(ctx context.Context, id string) (HistoryItem, error)
	// List returns every session, newest first.
	List(ctx context.Context) ([]HistoryItem, error)
	Delete(ctx context.Context, id string) error
}

// clone detaches item from the caller's slices and context.
func clone(item HistoryItem) HistoryItem {
	item.Logs = append([]research.LogEntry(nil), item.Logs...)
	item.GlobalContext = item.GlobalContext.Clone()
	if item.FinalReport != nil {
		report := *item.FinalReport
		item.FinalReport = &report
	}
	return item
}
