package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ArxivEndpoint is the public arXiv query API.
const ArxivEndpoint = "https://export.arxiv.org/api/query"

type arxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

// Arxiv searches arXiv papers. It suits academic queries only.
type Arxiv struct {
	Endpoint   string
	MaxResults int

	client *http.Client
}

func NewArxiv(client *http.Client, maxResults int) *Arxiv {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Arxiv{Endpoint: ArxivEndpoint, MaxResults: maxResults, client: client}
}

func (a *Arxiv) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(a.MaxResults))
	params.Add("start", "0")

	apiURL := a.Endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("arXiv returned non-200 status code", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("arXiv returned status %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := entry.ID
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}
		results = append(results, SearchResult{
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			URL:     link,
			Snippet: strings.Join(strings.Fields(entry.Summary), " "),
		})
	}
	return results, nil
}
