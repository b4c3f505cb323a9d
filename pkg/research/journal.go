package research

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is the ordered research log of one run.
type Journal struct {
	mu       sync.Mutex
	entries  []LogEntry
	onAppend func(LogEntry)
}

// NewJournal creates a journal seeded with prior entries (may be nil).
func NewJournal(prior []LogEntry) *Journal {
	return &Journal{entries: append([]LogEntry(nil), prior...)}
}

// OnAppend registers a hook called after every new entry.
func (j *Journal) OnAppend(fn func(LogEntry)) {
	j.mu.Lock()
	j.onAppend = fn
	j.mu.Unlock()
}

func (j *Journal) append(e LogEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	hook := j.onAppend
	j.mu.Unlock()

	if hook != nil {
		hook(e)
	}
}

// Entries returns a copy of the log in emission order.
func (j *Journal) Entries() []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]LogEntry(nil), j.entries...)
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// JournalHandler is a slog.Handler that turns records carrying an "agent"
// attribute into LogEntries and forwards every record to next.
type JournalHandler struct {
	journal *Journal
	next    slog.Handler
	attrs   []slog.Attr
}

func NewJournalHandler(j *Journal, next slog.Handler) *JournalHandler {
	return &JournalHandler{journal: j, next: next}
}

func (h *JournalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *JournalHandler) Handle(ctx context.Context, r slog.Record) error {
	var entry LogEntry
	tagged := false
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "agent":
			entry.Agent = Agent(a.Value.String())
			tagged = true
		case "details":
			entry.Details = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if tagged {
		entry.ID = uuid.NewString()
		entry.Timestamp = r.Time
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		entry.Message = r.Message
		h.journal.append(entry)
	}

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &JournalHandler{journal: h.journal, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return clone
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	clone := &JournalHandler{journal: h.journal, attrs: h.attrs}
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return clone
}
