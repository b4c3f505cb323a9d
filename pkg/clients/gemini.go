package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Gemini is the search-grounded adapter backed by the Gemini API.
type Gemini struct {
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a Gemini adapter. An empty baseURL uses the public endpoint.
func NewGemini(baseURL string, timeout time.Duration) *Gemini {
	return &Gemini{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) SearchGrounded() bool { return true }

func (g *Gemini) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL + "/"}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", newGenerationError(g.Name(), err)
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.HasTool(ToolWebSearch) {
		genCfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	// Grounding tools cannot be combined with a JSON response MIME type.
	if req.StructuredOutput && len(genCfg.Tools) == 0 {
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return "", newGenerationError(g.Name(), err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", newGenerationError(g.Name(), errors.New("response contained no candidates"))
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
