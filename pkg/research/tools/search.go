// Package tools holds the web search collaborators used by the Worker when the
// provider cannot search by itself.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// SearchResult is one hit of a web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider runs a query and returns ordered results.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// FormatResults renders results for embedding in a prompt.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No search results found."
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[%d] %s\nURL: %s\n%s", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.Join(blocks, "\n\n")
}
