package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(context.Context, string, Options) ([]Result, error) {
	return m.results, m.err
}

func TestManagerSearch_TrimsToCount(t *testing.T) {
	mgr := NewManager("mock")
	var many []Result
	for range 8 {
		many = append(many, Result{Title: "r"})
	}
	mgr.Register(&mockProvider{name: "mock", results: many})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != DefaultCount {
		t.Errorf("len = %d, want %d", len(results), DefaultCount)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "Secondary", "test", Options{})
	if err != nil {
		t.Fatalf("SearchWith: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("Title = %q, want Secondary", results[0].Title)
	}
}

func TestManager_Unconfigured(t *testing.T) {
	mgr := NewManager("missing")
	if mgr.Configured() {
		t.Error("Configured() = true with no providers")
	}
	if _, err := mgr.Search(context.Background(), "test", Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestManager_FirstRegisteredBecomesPrimary(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "searxng"})
	mgr.Register(&mockProvider{name: "brave"})
	if mgr.Primary() != "searxng" {
		t.Errorf("Primary = %q, want searxng", mgr.Primary())
	}
	if !mgr.Configured() {
		t.Error("Configured() = false")
	}
}

func TestTavily_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tvly-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Query != "Paris weather" || req.MaxResults != 5 || req.SearchDepth != "basic" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"results":[{"title":"Paris","url":"https://w.example/paris","content":"Sunny, 21C"}]}`))
	}))
	defer srv.Close()

	results, err := NewTavily("tvly-key", srv.URL).Search(context.Background(), "Paris weather", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Content != "Sunny, 21C" || results[0].URL != "https://w.example/paris" {
		t.Errorf("results = %+v", results)
	}

	if _, err := NewTavily("wrong", srv.URL).Search(context.Background(), "x", Options{}); err == nil {
		t.Error("expected error for rejected key")
	}
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" || r.URL.Query().Get("count") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"web":{"results":[{"title":"A","url":"https://a","description":"alpha"}]}}`))
	}))
	defer srv.Close()

	results, err := NewBrave("bk", srv.URL).Search(context.Background(), "q", Options{Count: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Content != "alpha" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"results":[
			{"title":"1","url":"u1","content":"c1"},
			{"title":"2","url":"u2","content":"c2"},
			{"title":"3","url":"u3","content":"c3"}]}`))
	}))
	defer srv.Close()

	results, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "q", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[1].Title != "2" {
		t.Errorf("results = %+v", results)
	}
}
