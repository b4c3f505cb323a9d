package tools

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DuckDuckGoEndpoint is the HTML results page, which needs no API key.
const DuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// ddgLimiter is shared by every DuckDuckGo instance: one query per second.
var ddgLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

var (
	ddgLinkPattern    = regexp.MustCompile(`(?is)<a[^>]*class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`(?is)<(?:div|a)[^>]*class="result__snippet"[^>]*>(.*?)</(?:div|a)>`)
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
)

// DuckDuckGo scrapes the DuckDuckGo HTML interface.
type DuckDuckGo struct {
	Endpoint   string
	MaxResults int

	client  *http.Client
	limiter *rate.Limiter
}

func NewDuckDuckGo(client *http.Client, maxResults int) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DuckDuckGo{
		Endpoint:   DuckDuckGoEndpoint,
		MaxResults: maxResults,
		client:     client,
		limiter:    ddgLimiter,
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results := parseDuckDuckGo(string(body), d.MaxResults)
	slog.Debug("DuckDuckGo search", "query", query, "results", len(results))
	return results, nil
}

func parseDuckDuckGo(page string, max int) []SearchResult {
	links := ddgLinkPattern.FindAllStringSubmatch(page, -1)
	snippets := ddgSnippetPattern.FindAllStringSubmatch(page, -1)

	var results []SearchResult
	for i, m := range links {
		if len(results) >= max {
			break
		}
		link := resolveRedirect(html.UnescapeString(m[1]))
		title := cleanHTML(m[2])
		if link == "" || title == "" {
			continue
		}

		snippet := ""
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, SearchResult{Title: title, URL: link, Snippet: snippet})
	}
	return results
}

// resolveRedirect returns the target of a /l/?uddg= redirect link.
func resolveRedirect(link string) string {
	idx := strings.Index(link, "uddg=")
	if idx < 0 {
		return link
	}
	target := link[idx+len("uddg="):]
	if amp := strings.IndexByte(target, '&'); amp >= 0 {
		target = target[:amp]
	}
	decoded, err := url.QueryUnescape(target)
	if err != nil {
		return link
	}
	return decoded
}

func cleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
