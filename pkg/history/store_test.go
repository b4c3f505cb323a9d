package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/kresearch/pkg/database"
	"github.com/mikeboe/kresearch/pkg/research"
)

func sampleItem(query string, created time.Time) HistoryItem {
	gc := research.NewGlobalContext(query, research.ModeDeep)
	gc.Iteration = 2
	gc.KnowledgeBank = append(gc.KnowledgeBank, research.KnowledgeItem{
		Topic:    "pricing",
		Facts:    []string{"Laptop X costs $399"},
		Sources:  []string{"https://a.example"},
		Verified: true,
	})

	return HistoryItem{
		ID:               uuid.NewString(),
		Query:            query,
		CreatedAt:        created,
		UpdatedAt:        created,
		Status:           research.StatusInProgress,
		AgentState:       research.StatePaused,
		SufficiencyScore: 40,
		Logs: []research.LogEntry{
			{ID: "1", Timestamp: created, Agent: research.AgentSystem, Message: "Starting research"},
			{ID: "2", Timestamp: created, Agent: research.AgentManager, Message: "Iteration 0: sufficiency 40%"},
		},
		GlobalContext: gc,
		ResearchMode:  research.ModeDeep,
		ElapsedTime:   1500,
		Config: research.RunConfig{
			Mode:          research.ModeDeep,
			MinIterations: 3,
			ManagerModel:  "m",
			WorkerModel:   "w",
			VerifierModel: "v",
		},
		Error: "all API credentials failed",
	}
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	older := sampleItem("best budget laptops 2024", base)
	newer := sampleItem("history of RISC-V", base.Add(time.Hour))

	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	got, err := s.Load(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.Query, got.Query)
	assert.True(t, older.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, research.StatePaused, got.AgentState)
	assert.Equal(t, 40, got.SufficiencyScore)
	assert.Equal(t, int64(1500), got.ElapsedTime)
	assert.Equal(t, older.Config, got.Config)
	assert.Equal(t, older.Error, got.Error)
	assert.Nil(t, got.FinalReport)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "Iteration 0: sufficiency 40%", got.Logs[1].Message)
	require.NotNil(t, got.GlobalContext)
	assert.Equal(t, 2, got.GlobalContext.Iteration)
	assert.Equal(t, older.GlobalContext.KnowledgeBank, got.GlobalContext.KnowledgeBank)

	// Upsert.
	report := "# Report"
	older.FinalReport = &report
	older.AgentState = research.StateComplete
	older.Status = research.StatusComplete
	older.Error = ""
	require.NoError(t, s.Save(ctx, older))

	got, err = s.Load(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FinalReport)
	assert.Equal(t, "# Report", *got.FinalReport)
	assert.Equal(t, research.StateComplete, got.AgentState)

	list, err := s.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, item := range list {
		if item.ID == older.ID || item.ID == newer.ID {
			ids = append(ids, item.ID)
		}
	}
	assert.Equal(t, []string{newer.ID, older.ID}, ids)

	require.NoError(t, s.Delete(ctx, older.ID))
	_, err = s.Load(ctx, older.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, older.ID), ErrNotFound)

	require.NoError(t, s.Delete(ctx, newer.ID))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesItems(t *testing.T) {
	s := NewMemoryStore()
	item := sampleItem("q", time.Now())
	require.NoError(t, s.Save(context.Background(), item))

	item.GlobalContext.KnowledgeBank[0].Facts[0] = "mutated"
	item.Logs[0].Message = "mutated"

	got, err := s.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Laptop X costs $399", got.GlobalContext.KnowledgeBank[0].Facts[0])
	assert.Equal(t, "Starting research", got.Logs[0].Message)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	exerciseStore(t, NewRedisStore(client))
}

func TestRedisStoreListEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewPostgresDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.InitSchema(ctx))

	exerciseStore(t, NewPostgresStore(db))
}
