package server

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpTools exposes the control surface as MCP tools.
type mcpTools struct {
	service *Service
}

type StartResearchInput struct {
	Query         string `json:"query" jsonschema:"the research question"`
	Mode          string `json:"mode,omitempty" jsonschema:"standard or deep"`
	MinIterations *int   `json:"min_iterations,omitempty" jsonschema:"deep mode: iterations before the research may finish"`
	MaxIterations *int   `json:"max_iterations,omitempty" jsonschema:"iteration cap, 0 for unbounded"`
}

type SessionInput struct {
	ID string `json:"id" jsonschema:"the research session id"`
}

type ListInput struct{}

type SessionOutput struct {
	ID string `json:"id"`
}

type LogLine struct {
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	Message   string `json:"message"`
}

type StateOutput struct {
	ID               string    `json:"id"`
	AgentState       string    `json:"agent_state"`
	Status           string    `json:"status"`
	Iteration        int       `json:"iteration"`
	SufficiencyScore int       `json:"sufficiency_score"`
	Logs             []LogLine `json:"logs"`
	Error            string    `json:"error,omitempty"`
	FinalReport      string    `json:"final_report,omitempty"`
}

type SessionSummary struct {
	ID               string `json:"id"`
	Query            string `json:"query"`
	Status           string `json:"status"`
	AgentState       string `json:"agent_state"`
	SufficiencyScore int    `json:"sufficiency_score"`
}

type ListOutput struct {
	Sessions []SessionSummary `json:"sessions"`
}

// NewMCPServer registers the research tools on a fresh MCP server.
func NewMCPServer(s *Service) *mcp.Server {
	t := &mcpTools{service: s}
	server := mcp.NewServer(&mcp.Implementation{Name: "kresearch", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_research",
		Description: "Start a research run on a question. Returns the session id; poll get_research_state for progress.",
	}, t.startResearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research_state",
		Description: "Get the state, logs and, once complete, the final report of a research session.",
	}, t.getResearchState)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_research",
		Description: "Resume a paused research session.",
	}, t.resumeResearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_research",
		Description: "Pause a running research session. The iteration in progress is discarded.",
	}, t.cancelResearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_research",
		Description: "List research sessions, newest first.",
	}, t.listResearch)

	return server
}

// NewMCPHandler serves the MCP tools over streamable HTTP.
func NewMCPHandler(s *Service) http.Handler {
	server := NewMCPServer(s)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func (t *mcpTools) startResearch(ctx context.Context, _ *mcp.CallToolRequest, in StartResearchInput) (*mcp.CallToolResult, SessionOutput, error) {
	id, err := t.service.StartRun(ctx, StartRequest{
		Query:         in.Query,
		Mode:          in.Mode,
		MinIterations: in.MinIterations,
		MaxIterations: in.MaxIterations,
	})
	if err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, SessionOutput{ID: id}, nil
}

func (t *mcpTools) getResearchState(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, StateOutput, error) {
	item, err := t.service.GetSession(ctx, in.ID)
	if err != nil {
		return nil, StateOutput{}, err
	}
	st, err := t.service.GetState(ctx, in.ID)
	if err != nil {
		return nil, StateOutput{}, err
	}

	out := StateOutput{
		ID:               st.ID,
		AgentState:       string(st.AgentState),
		Status:           string(st.Status),
		Iteration:        st.Iteration,
		SufficiencyScore: st.SufficiencyScore,
		Logs:             make([]LogLine, len(st.Logs)),
		Error:            st.Error,
	}
	for i, e := range st.Logs {
		out.Logs[i] = LogLine{Timestamp: e.Timestamp.Format(time.RFC3339), Agent: string(e.Agent), Message: e.Message}
	}
	if item.FinalReport != nil {
		out.FinalReport = *item.FinalReport
	}
	return nil, out, nil
}

func (t *mcpTools) resumeResearch(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, SessionOutput, error) {
	if err := t.service.ResumeRun(ctx, in.ID); err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, SessionOutput{ID: in.ID}, nil
}

func (t *mcpTools) cancelResearch(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, SessionOutput, error) {
	if err := t.service.CancelRun(ctx, in.ID); err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, SessionOutput{ID: in.ID}, nil
}

func (t *mcpTools) listResearch(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	items, err := t.service.List(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}

	out := ListOutput{Sessions: make([]SessionSummary, len(items))}
	for i, item := range items {
		out.Sessions[i] = SessionSummary{
			ID:               item.ID,
			Query:            item.Query,
			Status:           string(item.Status),
			AgentState:       string(item.AgentState),
			SufficiencyScore: item.SufficiencyScore,
		}
	}
	return nil, out, nil
}
