package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/sources"
)

func testConfig(baseURL string) config.SearchConfig {
	return config.SearchConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Provider:       "tavily",
		TimeoutSeconds: 5,
		MaxResults:     10,
	}
}

func TestSearchMapsAndAnnotatesSources(t *testing.T) {
	var gotReq Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("expected /search path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(providerResponse{
			Results: []providerResult{
				{Title: "Equasis record", URL: "https://www.equasis.org/ship/9321483", Content: "IMO 9321483", Score: 0.95},
				{Title: "Live position", URL: "https://www.marinetraffic.com/en/ais/details/ships/9321483", Score: 0.90},
				{Title: "", URL: ""},
				{Title: "Duplicate record", URL: "https://www.equasis.org/ship/9321483?utm_source=feed", Score: 0.40},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), zaptest.NewLogger(t))
	resp, err := client.Search(context.Background(), Request{
		Query:     "Pacific Voyager 7 registered owner",
		SiteHints: []string{"equasis.org"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotReq.MaxResults != 10 {
		t.Errorf("expected default max_results 10, got %d", gotReq.MaxResults)
	}
	if len(gotReq.SiteHints) != 1 || gotReq.SiteHints[0] != "equasis.org" {
		t.Errorf("site hints not forwarded: %v", gotReq.SiteHints)
	}

	// Empty URL skipped, tracking-param duplicate deduplicated.
	if len(resp.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d: %+v", len(resp.Sources), resp.Sources)
	}
	if resp.Sources[0].Tier != sources.TierPrimary {
		t.Errorf("expected equasis to annotate as T1, got %s", resp.Sources[0].Tier)
	}
	if resp.Sources[1].Tier != sources.TierPrimary {
		t.Errorf("expected marinetraffic to annotate as T1, got %s", resp.Sources[1].Tier)
	}
	if resp.Provider != "tavily" {
		t.Errorf("expected provider tavily, got %s", resp.Provider)
	}
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), zaptest.NewLogger(t))
	resp, err := client.Search(context.Background(), Request{Query: "   "})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if called {
		t.Error("provider must not be called for an empty query")
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(resp.Sources))
	}
}

func TestSearchServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), zaptest.NewLogger(t))
	_, err := client.Search(context.Background(), Request{Query: "Pacific Voyager 7"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestSearchMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewHTTPClient(testConfig(server.URL), zaptest.NewLogger(t))
	_, err := client.Search(context.Background(), Request{Query: "Pacific Voyager 7"})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
