package config

import (
	"fmt"
	"net/http"

	"github.com/mikeboe/kresearch/pkg/clients"
	"github.com/mikeboe/kresearch/pkg/research/tools"
)

// NewProvider builds the LLM adapter selected by PROVIDER.
func (c *Config) NewProvider() (clients.Provider, error) {
	switch c.Provider {
	case ProviderGemini:
		return clients.NewGemini(c.GeminiBaseURL, c.RequestTimeout), nil
	case ProviderOpenAI:
		return clients.NewOpenAI(c.OpenAIHost, c.RequestTimeout), nil
	}
	return nil, fmt.Errorf("unknown PROVIDER %q", c.Provider)
}

// NewSearch builds the web search collaborator used by the Worker when the
// provider is not search grounded.
func (c *Config) NewSearch() (tools.SearchProvider, error) {
	client := &http.Client{Timeout: c.RequestTimeout}
	switch c.SearchProvider {
	case SearchDuckDuckGo:
		return tools.NewDuckDuckGo(client, c.SearchMaxResults), nil
	case SearchArxiv:
		return tools.NewArxiv(client, c.SearchMaxResults), nil
	}
	return nil, fmt.Errorf("unknown SEARCH_PROVIDER %q", c.SearchProvider)
}
