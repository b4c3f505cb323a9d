package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
	"github.com/mikeboe/kresearch/pkg/splitter"
	"github.com/mikeboe/kresearch/pkg/vectorstore"
)

// Document kinds in the knowledge collection.
const (
	KindFact   = "fact"
	KindReport = "report"
)

const defaultTopK = 5

// Embedder turns text into vectors of the collection's dimension.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector collection session knowledge is written to.
type Index interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error)
	Find(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error)
	Delete(ctx context.Context, filter map[string]any) (int64, error)
}

// knowledgeDocuments turns a session into documents: one per verified fact
// and one per chunk of the final report.
func knowledgeDocuments(item history.HistoryItem, ts *splitter.TextSplitter) ([]vectorstore.Document, error) {
	var docs []vectorstore.Document
	if item.GlobalContext != nil {
		for _, k := range item.GlobalContext.KnowledgeBank {
			source := ""
			if len(k.Sources) > 0 {
				source = k.Sources[0]
			}
			for _, fact := range k.Facts {
				if strings.TrimSpace(fact) == "" {
					continue
				}
				docs = append(docs, vectorstore.Document{
					Content: fact,
					Metadata: map[string]any{
						"session_id": item.ID,
						"kind":       KindFact,
						"topic":      k.Topic,
						"source":     source,
						"verified":   k.Verified,
					},
				})
			}
		}
	}

	if item.FinalReport != nil && *item.FinalReport != "" {
		chunks, err := ts.SplitText(*item.FinalReport)
		if err != nil {
			return nil, fmt.Errorf("failed to split report: %w", err)
		}
		for i, chunk := range chunks {
			docs = append(docs, vectorstore.Document{
				Content: chunk,
				Metadata: map[string]any{
					"session_id": item.ID,
					"kind":       KindReport,
					"source":     "final_report",
					"chunk":      i,
				},
			})
		}
	}
	return docs, nil
}

// indexSession replaces the indexed knowledge of item.
func indexSession(ctx context.Context, idx Index, emb Embedder, ts *splitter.TextSplitter, item history.HistoryItem) (int, error) {
	docs, err := knowledgeDocuments(item, ts)
	if err != nil {
		return 0, err
	}
	if _, err := idx.Delete(ctx, map[string]any{"session_id": item.ID}); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := emb.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed knowledge: %w", err)
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}
	if err := idx.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// KnowledgeToolset gives the Q&A agent read access to one session.
type KnowledgeToolset struct {
	SessionID string
	Index     Index
	Embedder  Embedder
	Conflicts []research.ConflictItem
}

func (t *KnowledgeToolset) Name() string {
	return "knowledge_tools"
}

func (t *KnowledgeToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchKnowledgeArgs, SearchKnowledgeResp](
		functiontool.Config{
			Name:        "search_knowledge",
			Description: "Semantic search over the verified facts and the final report of this research session.",
		},
		t.searchKnowledgeTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search_knowledge tool: %w", err)
	}

	topicTool, err := functiontool.New[FindTopicArgs, FindTopicResp](
		functiontool.Config{
			Name:        "find_by_topic",
			Description: "List every verified fact recorded under a research focus area.",
		},
		t.findByTopicTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_topic tool: %w", err)
	}

	conflictsTool, err := functiontool.New[ListConflictsArgs, ListConflictsResp](
		functiontool.Config{
			Name:        "list_conflicts",
			Description: "List the contradictions between sources found during the research.",
		},
		t.listConflictsTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create list_conflicts tool: %w", err)
	}

	return []tool.Tool{searchTool, topicTool, conflictsTool}, nil
}

type SearchKnowledgeArgs struct {
	Query string `json:"query" description:"What to look for"`
	TopK  int    `json:"top_k,omitempty" description:"Number of results to return (default 5)"`
	Kind  string `json:"kind,omitempty" description:"Optional: fact or report"`
}

type SearchKnowledgeResp struct {
	Results string `json:"results"`
}

func (t *KnowledgeToolset) searchKnowledgeTool(ctx tool.Context, args SearchKnowledgeArgs) (SearchKnowledgeResp, error) {
	return t.SearchKnowledge(ctx, args)
}

func (t *KnowledgeToolset) SearchKnowledge(ctx context.Context, args SearchKnowledgeArgs) (SearchKnowledgeResp, error) {
	if args.TopK <= 0 {
		args.TopK = defaultTopK
	}
	slog.Info("Search knowledge", "session_id", t.SessionID, "query", args.Query, "top_k", args.TopK, "kind", args.Kind)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchKnowledgeResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	filter := map[string]any{"session_id": t.SessionID}
	if args.Kind != "" {
		filter["kind"] = args.Kind
	}
	results, err := t.Index.SimilaritySearch(ctx, queryEmbedding, args.TopK, filter)
	if err != nil {
		return SearchKnowledgeResp{}, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return SearchKnowledgeResp{Results: "No matching knowledge found."}, nil
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, formatDocument(r.Document))
	}
	return SearchKnowledgeResp{Results: strings.Join(blocks, "\n\n")}, nil
}

type FindTopicArgs struct {
	Topic string `json:"topic" description:"The focus area, as recorded by the research"`
}

type FindTopicResp struct {
	Facts string `json:"facts"`
}

func (t *KnowledgeToolset) findByTopicTool(ctx tool.Context, args FindTopicArgs) (FindTopicResp, error) {
	return t.FindByTopic(ctx, args)
}

func (t *KnowledgeToolset) FindByTopic(ctx context.Context, args FindTopicArgs) (FindTopicResp, error) {
	docs, err := t.Index.Find(ctx, map[string]any{
		"$and": []any{
			map[string]any{"session_id": t.SessionID},
			map[string]any{"kind": KindFact},
			map[string]any{"topic": args.Topic},
		},
	})
	if err != nil {
		return FindTopicResp{}, fmt.Errorf("failed to find facts: %w", err)
	}
	if len(docs) == 0 {
		return FindTopicResp{Facts: fmt.Sprintf("No facts recorded for %q.", args.Topic)}, nil
	}

	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, formatDocument(d))
	}
	return FindTopicResp{Facts: strings.Join(blocks, "\n\n")}, nil
}

type ListConflictsArgs struct{}

type ListConflictsResp struct {
	Conflicts string `json:"conflicts"`
}

func (t *KnowledgeToolset) listConflictsTool(_ tool.Context, _ ListConflictsArgs) (ListConflictsResp, error) {
	return ListConflictsResp{Conflicts: formatConflicts(t.Conflicts)}, nil
}

func formatDocument(d vectorstore.Document) string {
	var sb strings.Builder
	source, _ := d.Metadata["source"].(string)
	if source == "" {
		source = "unknown"
	}
	fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", source, d.Content)
	if topic, ok := d.Metadata["topic"].(string); ok && topic != "" {
		fmt.Fprintf(&sb, "\n[Topic]: %s", topic)
	}
	return sb.String()
}

func formatConflicts(conflicts []research.ConflictItem) string {
	if len(conflicts) == 0 {
		return "No conflicts were found."
	}
	blocks := make([]string, len(conflicts))
	for i, c := range conflicts {
		blocks[i] = fmt.Sprintf("[%d] %s (%s)\nA: %s\nB: %s", i+1, c.Point, c.Status, c.ClaimA, c.ClaimB)
	}
	return strings.Join(blocks, "\n\n")
}
