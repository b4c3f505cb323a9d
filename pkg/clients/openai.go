package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI is the plain chat-completion adapter. It works against any
// OpenAI-compatible host.
type OpenAI struct {
	host       string
	httpClient *http.Client
}

// NewOpenAI creates a chat-completion adapter. An empty host uses api.openai.com.
func NewOpenAI(host string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) SearchGrounded() bool { return false }

func (o *OpenAI) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(req.Model),
		openai.WithHTTPClient(o.httpClient),
	}
	if o.host != "" {
		opts = append(opts, openai.WithBaseURL(o.host))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return "", newGenerationError(o.Name(), err)
	}

	var messages []llms.MessageContent
	if req.SystemInstruction != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemInstruction))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var callOpts []llms.CallOption
	if req.StructuredOutput && len(req.Tools) == 0 {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", newGenerationError(o.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", newGenerationError(o.Name(), errors.New("llm returned no choices"))
	}

	return resp.Choices[0].Content, nil
}
