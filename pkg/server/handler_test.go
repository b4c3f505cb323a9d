package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/kresearch/pkg/chat"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
)

func newTestRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(s, nil).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Unknown session", fmt.Errorf("load: %w", history.ErrNotFound), http.StatusNotFound},
		{"Active run", ErrRunActive, http.StatusConflict},
		{"Not active", ErrRunNotActive, http.StatusConflict},
		{"Not paused", research.ErrNotPaused, http.StatusConflict},
		{"Bad request", fmt.Errorf("%w: query is required", ErrBadRequest), http.StatusBadRequest},
		{"Nothing to ask", chat.ErrNothingToAsk, http.StatusBadRequest},
		{"Other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestResearchRoutes(t *testing.T) {
	s := newTestService(history.NewMemoryStore(), newFakeProvider())
	r := newTestRouter(s)

	w := do(r, http.MethodPost, "/api/research", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/research", `{"query":"best budget laptops 2024","mode":"standard"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)
	waitRun(t, s, started.ID)

	w = do(r, http.MethodGet, "/api/research/"+started.ID+"/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, research.StateComplete, st.AgentState)

	w = do(r, http.MethodGet, "/api/research/"+started.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var item history.HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	require.NotNil(t, item.FinalReport)
	assert.Equal(t, reportReply, *item.FinalReport)

	w = do(r, http.MethodGet, "/api/research/"+started.ID+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []research.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs)

	w = do(r, http.MethodGet, "/api/research", "")
	require.Equal(t, http.StatusOK, w.Code)
	var items []history.HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	w = do(r, http.MethodPost, "/api/research/"+started.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/research/"+started.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodDelete, "/api/research/"+started.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/api/research/"+started.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEmpty(t *testing.T) {
	r := newTestRouter(newTestService(history.NewMemoryStore(), newFakeProvider()))

	w := do(r, http.MethodGet, "/api/research", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestClarifyRoute(t *testing.T) {
	r := newTestRouter(newTestService(history.NewMemoryStore(), newFakeProvider()))

	w := do(r, http.MethodPost, "/api/clarify", `{"query":"laptops"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out research.ClarifierOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out.IsClear)
	assert.Equal(t, []string{"Which budget?"}, out.Questions)
}

func TestAskWithoutChat(t *testing.T) {
	r := newTestRouter(newTestService(history.NewMemoryStore(), newFakeProvider()))

	w := do(r, http.MethodPost, "/api/research/abc/ask", `{"question":"why?"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = do(r, http.MethodGet, "/api/research/abc/messages", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(newTestService(history.NewMemoryStore(), newFakeProvider()))

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMCPTools(t *testing.T) {
	s := newTestService(history.NewMemoryStore(), newFakeProvider())
	tools := &mcpTools{service: s}
	ctx := context.Background()

	_, started, err := tools.startResearch(ctx, nil, StartResearchInput{Query: "best budget laptops 2024"})
	require.NoError(t, err)
	require.NotEmpty(t, started.ID)
	waitRun(t, s, started.ID)

	_, st, err := tools.getResearchState(ctx, nil, SessionInput{ID: started.ID})
	require.NoError(t, err)
	assert.Equal(t, string(research.StateComplete), st.AgentState)
	assert.Equal(t, reportReply, st.FinalReport)
	assert.NotEmpty(t, st.Logs)

	_, list, err := tools.listResearch(ctx, nil, ListInput{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "best budget laptops 2024", list.Sessions[0].Query)

	_, _, err = tools.cancelResearch(ctx, nil, SessionInput{ID: started.ID})
	assert.ErrorIs(t, err, ErrRunNotActive)

	_, _, err = tools.resumeResearch(ctx, nil, SessionInput{ID: "missing"})
	assert.ErrorIs(t, err, history.ErrNotFound)

	_, _, err = tools.startResearch(ctx, nil, StartResearchInput{Query: ""})
	assert.ErrorIs(t, err, ErrBadRequest)
}
