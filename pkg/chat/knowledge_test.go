package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
	"github.com/mikeboe/kresearch/pkg/splitter"
	"github.com/mikeboe/kresearch/pkg/vectorstore"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{float32(len(text))}, f.err
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeIndex struct {
	docs         []vectorstore.Document
	deleted      []map[string]any
	searchFilter map[string]any
	findFilter   map[string]any
	searchTopK   int
}

func (f *fakeIndex) AddDocuments(_ context.Context, docs []vectorstore.Document) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeIndex) SimilaritySearch(_ context.Context, _ []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error) {
	f.searchFilter = filter
	f.searchTopK = topK
	var out []vectorstore.SimilaritySearchResult
	for _, d := range f.docs {
		out = append(out, vectorstore.SimilaritySearchResult{Document: d, Score: 0.9})
	}
	return out, nil
}

func (f *fakeIndex) Find(_ context.Context, filter map[string]any) ([]vectorstore.Document, error) {
	f.findFilter = filter
	return f.docs, nil
}

func (f *fakeIndex) Delete(_ context.Context, filter map[string]any) (int64, error) {
	f.deleted = append(f.deleted, filter)
	n := int64(len(f.docs))
	f.docs = nil
	return n, nil
}

func finishedSession() history.HistoryItem {
	gc := research.NewGlobalContext("best budget laptops 2024", research.ModeStandard)
	gc.KnowledgeBank = []research.KnowledgeItem{
		{Topic: "battery", Facts: []string{"Model A lasts 12 hours"}, Sources: []string{"https://a.example"}, Verified: true},
		{Topic: "price", Facts: []string{"Model B costs $499", "  "}, Sources: []string{"https://b.example"}, Verified: true},
	}
	gc.Conflicts = []research.ConflictItem{
		{Point: "Model A price", ClaimA: "$599", ClaimB: "$649", Status: research.ConflictUnresolved},
	}
	gc.Iteration = 2
	gc.Status = research.StatusComplete
	report := "# Budget laptops\n\nModel A and Model B lead the field."
	return history.HistoryItem{
		ID:            "s1",
		Query:         gc.OriginalQuery,
		UpdatedAt:     time.Now(),
		GlobalContext: gc,
		FinalReport:   &report,
	}
}

func TestKnowledgeDocuments(t *testing.T) {
	docs, err := knowledgeDocuments(finishedSession(), splitter.NewRecursiveCharacterTextSplitter(1000, 100))
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "Model A lasts 12 hours", docs[0].Content)
	assert.Equal(t, "s1", docs[0].Metadata["session_id"])
	assert.Equal(t, KindFact, docs[0].Metadata["kind"])
	assert.Equal(t, "battery", docs[0].Metadata["topic"])
	assert.Equal(t, "https://a.example", docs[0].Metadata["source"])

	assert.Equal(t, KindReport, docs[2].Metadata["kind"])
	assert.Equal(t, "final_report", docs[2].Metadata["source"])
	assert.Contains(t, docs[2].Content, "Model A and Model B")
}

func TestKnowledgeDocumentsWithoutReport(t *testing.T) {
	item := finishedSession()
	item.FinalReport = nil

	docs, err := knowledgeDocuments(item, splitter.NewRecursiveCharacterTextSplitter(1000, 100))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestIndexSessionReplacesPrevious(t *testing.T) {
	idx := &fakeIndex{docs: []vectorstore.Document{{Content: "stale"}}}
	emb := &fakeEmbedder{}

	n, err := indexSession(context.Background(), idx, emb, splitter.NewRecursiveCharacterTextSplitter(1000, 100), finishedSession())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, idx.deleted, 1)
	assert.Equal(t, map[string]any{"session_id": "s1"}, idx.deleted[0])

	require.Len(t, idx.docs, 3)
	for _, d := range idx.docs {
		assert.NotEmpty(t, d.Embedding)
		assert.NotEqual(t, "stale", d.Content)
	}
}

func TestIndexSessionEmbedFailure(t *testing.T) {
	idx := &fakeIndex{}
	emb := &fakeEmbedder{err: errors.New("quota")}

	_, err := indexSession(context.Background(), idx, emb, splitter.NewRecursiveCharacterTextSplitter(1000, 100), finishedSession())
	require.Error(t, err)
	assert.Empty(t, idx.docs)
}

func TestSearchKnowledge(t *testing.T) {
	idx := &fakeIndex{docs: []vectorstore.Document{
		{Content: "Model A lasts 12 hours", Metadata: map[string]any{"source": "https://a.example", "topic": "battery"}},
	}}
	tools := &KnowledgeToolset{SessionID: "s1", Index: idx, Embedder: &fakeEmbedder{}}

	resp, err := tools.SearchKnowledge(context.Background(), SearchKnowledgeArgs{Query: "battery life", Kind: KindFact})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, idx.searchTopK)
	assert.Equal(t, map[string]any{"session_id": "s1", "kind": KindFact}, idx.searchFilter)
	assert.Equal(t, "[Source]: https://a.example\n[Content]: Model A lasts 12 hours\n[Topic]: battery", resp.Results)
}

func TestSearchKnowledgeEmpty(t *testing.T) {
	tools := &KnowledgeToolset{SessionID: "s1", Index: &fakeIndex{}, Embedder: &fakeEmbedder{}}

	resp, err := tools.SearchKnowledge(context.Background(), SearchKnowledgeArgs{Query: "anything", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, "No matching knowledge found.", resp.Results)
}

func TestFindByTopicScopesToSession(t *testing.T) {
	idx := &fakeIndex{}
	tools := &KnowledgeToolset{SessionID: "s1", Index: idx, Embedder: &fakeEmbedder{}}

	resp, err := tools.FindByTopic(context.Background(), FindTopicArgs{Topic: "price"})
	require.NoError(t, err)
	assert.Equal(t, `No facts recorded for "price".`, resp.Facts)

	and, ok := idx.findFilter["$and"].([]any)
	require.True(t, ok)
	assert.Contains(t, and, map[string]any{"session_id": "s1"})
	assert.Contains(t, and, map[string]any{"topic": "price"})
}

func TestFormatConflicts(t *testing.T) {
	assert.Equal(t, "No conflicts were found.", formatConflicts(nil))
	assert.Equal(t, "[1] Model A price (unresolved)\nA: $599\nB: $649", formatConflicts(finishedSession().GlobalContext.Conflicts))
}
