package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Zippland/Bubbles/internal/httpkit"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily queries the Tavily search API with basic depth and no
// synthesized answer.
type Tavily struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewTavily creates a Tavily provider. An empty endpoint uses the public API.
func NewTavily(apiKey, endpoint string) *Tavily {
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	return &Tavily{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(20 * time.Second)),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	body := tavilyRequest{
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  opts.count(),
	}
	header := http.Header{"Authorization": {"Bearer " + t.apiKey}}

	var tr tavilyResponse
	if err := httpkit.DoJSON(ctx, t.httpClient, http.MethodPost, t.endpoint, header, body, &tr); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return results, nil
}
