package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `<html><body>
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Flaptops%3Fa%3D1&amp;rut=abc">Best <b>Budget</b> Laptops</a>
  <a class="result__snippet" href="#">Cheap &amp; cheerful <b>picks</b>.</a>
</div>
<div class="result">
  <a class="result__a" href="https://direct.example.org/">Direct link</a>
  <div class="result__snippet">Second snippet</div>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, ddgPage)
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(srv.Client(), 5)
	ddg.Endpoint = srv.URL + "/html/"

	results, err := ddg.Search(context.Background(), "budget laptops 2024")
	require.NoError(t, err)
	assert.Equal(t, "budget laptops 2024", gotQuery)

	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{
		Title:   "Best Budget Laptops",
		URL:     "https://example.com/laptops?a=1",
		Snippet: "Cheap & cheerful picks.",
	}, results[0])
	assert.Equal(t, "https://direct.example.org/", results[1].URL)
	assert.Equal(t, "Second snippet", results[1].Snippet)
}

func TestDuckDuckGoRejectsEmptyQuery(t *testing.T) {
	_, err := NewDuckDuckGo(nil, 0).Search(context.Background(), "  ")
	require.Error(t, err)
}

func TestParseDuckDuckGoHonorsMax(t *testing.T) {
	results := parseDuckDuckGo(ddgPage, 1)
	assert.Len(t, results, 1)
}

func TestArxivSearch(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1234.5678v1</id>
    <title>Attention Is
      All You Need</title>
    <summary>  Transformers   everywhere. </summary>
    <link href="http://arxiv.org/abs/1234.5678v1" type="text/html"/>
    <link href="http://arxiv.org/pdf/1234.5678v1" type="application/pdf"/>
  </entry>
</feed>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:transformers", r.URL.Query().Get("search_query"))
		assert.Equal(t, "3", r.URL.Query().Get("max_results"))
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	ax := NewArxiv(srv.Client(), 3)
	ax.Endpoint = srv.URL

	results, err := ax.Search(context.Background(), "transformers")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Attention Is All You Need", results[0].Title)
	assert.Equal(t, "http://arxiv.org/pdf/1234.5678v1", results[0].URL)
	assert.Equal(t, "Transformers everywhere.", results[0].Snippet)
}

func TestArxivNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ax := NewArxiv(srv.Client(), 0)
	ax.Endpoint = srv.URL
	_, err := ax.Search(context.Background(), "x")
	require.Error(t, err)
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, "No search results found.", FormatResults(nil))
	got := FormatResults([]SearchResult{
		{Title: "A", URL: "https://a", Snippet: "first"},
		{Title: "B", URL: "https://b", Snippet: "second"},
	})
	assert.Equal(t, "[1] A\nURL: https://a\nfirst\n\n[2] B\nURL: https://b\nsecond", got)
}
