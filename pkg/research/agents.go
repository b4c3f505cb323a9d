package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/kresearch/pkg/clients"
	"github.com/mikeboe/kresearch/pkg/research/tools"
	"github.com/mikeboe/kresearch/pkg/structured"
)

// maxParallelSearches bounds the Worker's own search fan-out.
const maxParallelSearches = 3

// Agents are the five role callers. Each composes its system instruction with
// a payload, calls the generator and decodes the answer. Agents never call
// each other.
type Agents struct {
	gen      clients.Generator
	grounded bool
	search   tools.SearchProvider
	cfg      RunConfig
	logger   *slog.Logger
}

// NewAgents builds the role callers. grounded tells whether the provider
// behind gen searches the web itself; when it does not, search (may be nil)
// is queried by the Worker and the results are embedded in its prompt.
func NewAgents(gen clients.Generator, grounded bool, search tools.SearchProvider, cfg RunConfig, logger *slog.Logger) *Agents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agents{gen: gen, grounded: grounded, search: search, cfg: cfg, logger: logger}
}

// Clarify judges whether query is specific enough. transcript holds the
// previous "AI: ..." / "User: ..." exchange, if any.
func (a *Agents) Clarify(ctx context.Context, query, transcript string) (ClarifierOutput, error) {
	prompt := "User Query: " + query
	if transcript != "" {
		prompt += "\n\nPrevious clarification conversation:\n" + transcript
	}

	model := a.cfg.ClarifierModel
	if model == "" {
		model = a.cfg.WorkerModel
	}
	out, err := callStructured[ClarifierOutput](ctx, a.gen, clients.Request{
		Model:             model,
		Prompt:            prompt,
		SystemInstruction: clarifierPrompt,
		StructuredOutput:  true,
	})
	if err != nil {
		return ClarifierOutput{}, fmt.Errorf("clarifier: %w", err)
	}
	return out, nil
}

// Manage assesses the context and plans the next step.
func (a *Agents) Manage(ctx context.Context, gc *GlobalContext) (ManagerOutput, error) {
	payload, err := json.Marshal(gc)
	if err != nil {
		return ManagerOutput{}, fmt.Errorf("manager: %w", err)
	}

	system := managerPrompt
	if gc.ResearchMode == ModeDeep {
		system = deepManagerPrompt
	}

	out, err := callStructured[ManagerOutput](ctx, a.gen, clients.Request{
		Model:             a.cfg.ManagerModel,
		Prompt:            fmt.Sprintf("User Query: %s\nGlobal Context: %s\nIteration: %d", gc.OriginalQuery, payload, gc.Iteration),
		SystemInstruction: system,
		StructuredOutput:  true,
	})
	if err != nil {
		return ManagerOutput{}, fmt.Errorf("manager: %w", err)
	}
	return out, nil
}

// Investigate carries out step and returns raw findings.
func (a *Agents) Investigate(ctx context.Context, step NextStep) ([]WorkerFinding, error) {
	task, err := json.Marshal(step)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	req := clients.Request{
		Model:             a.cfg.WorkerModel,
		SystemInstruction: workerPrompt,
		StructuredOutput:  true,
	}
	if a.grounded {
		req.Tools = []clients.Tool{clients.ToolWebSearch}
		req.Prompt = fmt.Sprintf("Task: %s\nUse the web search tool to find high-quality information for this task.", task)
	} else {
		results, err := a.gatherSearch(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("worker: %w", err)
		}
		req.Prompt = fmt.Sprintf("Task: %s\n\nWeb search results:\n%s\n\nExtract high-quality findings for this task from the search results above.", task, tools.FormatResults(results))
	}

	findings, err := callStructured[[]WorkerFinding](ctx, a.gen, req)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return findings, nil
}

// gatherSearch runs the step's queries concurrently and merges the results in
// query order, dropping repeated URLs. A failing query only loses its results.
func (a *Agents) gatherSearch(ctx context.Context, step NextStep) ([]tools.SearchResult, error) {
	if a.search == nil {
		return nil, nil
	}

	queries := step.SearchQueries
	if len(queries) == 0 && step.TaskDescription != "" {
		queries = []string{step.TaskDescription}
	}

	perQuery := make([][]tools.SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSearches)
	for i, q := range queries {
		g.Go(func() error {
			res, err := a.search.Search(gctx, q)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn("Web search failed", "query", q, "error", err)
				return nil
			}
			perQuery[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []tools.SearchResult
	seen := make(map[string]bool)
	for _, res := range perQuery {
		for _, r := range res {
			if r.URL != "" && seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}
	return merged, nil
}

// Verify deduplicates findings against the knowledge bank and reports conflicts.
func (a *Agents) Verify(ctx context.Context, query string, findings []WorkerFinding, bank []KnowledgeItem) (VerifierOutput, error) {
	newFindings, err := json.Marshal(findings)
	if err != nil {
		return VerifierOutput{}, fmt.Errorf("verifier: %w", err)
	}
	known, err := json.Marshal(bank)
	if err != nil {
		return VerifierOutput{}, fmt.Errorf("verifier: %w", err)
	}

	out, err := callStructured[VerifierOutput](ctx, a.gen, clients.Request{
		Model:             a.cfg.VerifierModel,
		Prompt:            fmt.Sprintf("Original Query: %s\nNew Findings: %s\nKnowledge Bank: %s", query, newFindings, known),
		SystemInstruction: verifierPrompt,
		StructuredOutput:  true,
	})
	if err != nil {
		return VerifierOutput{}, fmt.Errorf("verifier: %w", err)
	}
	return out, nil
}

// Write turns the context into a Markdown report. The answer is not parsed.
func (a *Agents) Write(ctx context.Context, gc *GlobalContext) (string, error) {
	payload, err := json.Marshal(gc)
	if err != nil {
		return "", fmt.Errorf("writer: %w", err)
	}

	report, err := a.gen.Generate(ctx, clients.Request{
		Model:             a.cfg.ManagerModel,
		Prompt:            "Global Context: " + string(payload),
		SystemInstruction: writerPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("writer: %w", err)
	}
	return strings.TrimSpace(report), nil
}

func callStructured[T any](ctx context.Context, gen clients.Generator, req clients.Request) (T, error) {
	raw, err := gen.Generate(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return structured.Parse[T](ctx, gen, req.Model, raw)
}
