package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/kresearch/pkg/config"
	"github.com/mikeboe/kresearch/pkg/database"
	"github.com/mikeboe/kresearch/pkg/embeddings"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/splitter"
	"github.com/mikeboe/kresearch/pkg/vectorstore"
)

const (
	appName   = "kresearch"
	userID    = "user"
	agentName = "kresearch_assistant"
)

// ErrNothingToAsk is returned for sessions without any knowledge yet.
var ErrNothingToAsk = errors.New("session has no knowledge to ask about yet")

// Service answers questions about the knowledge gathered by a research session.
type Service struct {
	DB       *database.PostgresDB
	Sessions history.Store
	Index    Index
	Embedder Embedder
	Model    model.LLM

	splitter *splitter.TextSplitter

	mu sync.Mutex
	// indexed holds the UpdatedAt of the last indexed version of each session.
	indexed map[string]time.Time
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamEvent is a single event of an answer stream.
type StreamEvent struct {
	Type    string `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload any    `json:"payload"`
}

func NewService(ctx context.Context, db *database.PostgresDB, sessions history.Store, cfg *config.Config) (*Service, error) {
	apiKey := cfg.GoogleAPIKey()

	modelClient, err := gemini.NewModel(ctx, cfg.ChatModel, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if err := db.CreateKnowledgeTable(ctx, cfg.CollectionName, embeddings.Dimensions); err != nil {
		return nil, err
	}
	index, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}

	return &Service{
		DB:       db,
		Sessions: sessions,
		Index:    index,
		Embedder: embedder,
		Model:    modelClient,
		splitter: splitter.NewRecursiveCharacterTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		indexed:  make(map[string]time.Time),
	}, nil
}

// ensureIndexed indexes item unless this version of it already is.
func (s *Service) ensureIndexed(ctx context.Context, item history.HistoryItem) error {
	s.mu.Lock()
	last, ok := s.indexed[item.ID]
	s.mu.Unlock()
	if ok && !item.UpdatedAt.After(last) {
		return nil
	}

	n, err := indexSession(ctx, s.Index, s.Embedder, s.splitter, item)
	if err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	slog.Info("Indexed session knowledge", "session_id", item.ID, "documents", n)

	s.mu.Lock()
	s.indexed[item.ID] = item.UpdatedAt
	s.mu.Unlock()
	return nil
}

func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	query := `SELECT id, session_id, role, content, created_at FROM session_messages WHERE session_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) saveMessage(ctx context.Context, sessionID, role, content string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.Pool.Exec(ctx,
		`INSERT INTO session_messages (id, session_id, role, content) VALUES ($1, $2, $3, $4)`,
		id, sessionID, role, content)
	return id, err
}

func instruction(item history.HistoryItem) string {
	return fmt.Sprintf(`You answer questions about a finished research project.
Research question: %s

Use search_knowledge before answering. Use find_by_topic to list everything known about one focus area and list_conflicts when sources disagree.
Answer only from the tool results, cite the source URL of every fact, and say so when the research does not cover the question.`, item.Query)
}

// Ask answers question about session sessionID, streaming agent events.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (iter.Seq2[StreamEvent, error], error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is required")
	}

	item, err := s.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if item.GlobalContext == nil || (len(item.GlobalContext.KnowledgeBank) == 0 && item.FinalReport == nil) {
		return nil, ErrNothingToAsk
	}
	if err := s.ensureIndexed(ctx, item); err != nil {
		return nil, err
	}

	past, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	if _, err := s.saveMessage(ctx, sessionID, "user", question); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	assistant, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       s.Model,
		Description: "Answers questions about the knowledge gathered by a research session.",
		Instruction: instruction(item),
		Toolsets: []tool.Toolset{
			&KnowledgeToolset{
				SessionID: sessionID,
				Index:     s.Index,
				Embedder:  s.Embedder,
				Conflicts: item.GlobalContext.Conflicts,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	created, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent session: %w", err)
	}
	for _, msg := range past {
		role, author := "user", "user"
		if msg.Role == "model" {
			role, author = "model", agentName
		}
		evt := session.NewEvent(uuid.NewString())
		evt.Author = author
		evt.LLMResponse = model.LLMResponse{
			Content: &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: msg.Content}},
			},
		}
		if err := sessionSvc.AppendEvent(ctx, created.Session, evt); err != nil {
			return nil, fmt.Errorf("failed to restore conversation: %w", err)
		}
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          assistant,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: question}},
	}

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting knowledge Q&A", "session_id", sessionID)
		next := r.Run(ctx, userID, sessionID, userContent, agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		})

		var answer strings.Builder
		streamed := false
		for event, err := range next {
			if err != nil {
				slog.Error("Agent runner error", "session_id", sessionID, "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			partial := event.LLMResponse.Partial
			for _, part := range event.LLMResponse.Content.Parts {
				switch {
				case part.Text != "":
					if !partial {
						answer.WriteString(part.Text)
					}
					// The final event repeats text already streamed in partial chunks.
					if partial || !streamed {
						if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
							return
						}
					}
				case part.FunctionCall != nil:
					slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				case part.FunctionResponse != nil:
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
			streamed = partial
		}

		if _, err := s.saveMessage(ctx, sessionID, "model", answer.String()); err != nil {
			slog.Error("Failed to save model message", "session_id", sessionID, "error", err)
		}
		yield(StreamEvent{Type: "done", Payload: "done"}, nil)
	}, nil
}
