package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/server"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// fakeQueryService lets each test script the pipeline's behavior.
type fakeQueryService struct {
	submitFn func(ctx context.Context, req *server.QueryRequest) (*server.QueryResult, error)
	statusFn func(ctx context.Context, workflowID string) (*server.QueryStatus, error)
	cancelFn func(ctx context.Context, workflowID string) error

	lastSubmit *server.QueryRequest
}

func (f *fakeQueryService) SubmitQuery(ctx context.Context, req *server.QueryRequest) (*server.QueryResult, error) {
	f.lastSubmit = req
	if f.submitFn != nil {
		return f.submitFn(ctx, req)
	}
	return &server.QueryResult{SessionID: req.SessionID, Status: server.StatusCompleted}, nil
}

func (f *fakeQueryService) QueryStatus(ctx context.Context, workflowID string) (*server.QueryStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, workflowID)
	}
	return &server.QueryStatus{WorkflowID: workflowID, Status: server.StatusRunning}, nil
}

func (f *fakeQueryService) CancelQuery(ctx context.Context, workflowID string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, workflowID)
	}
	return nil
}

// newTestAPI serves the routes with dev auth (skip mode) and no rate
// limiter, the configuration used by local development.
func newTestAPI(t *testing.T, svc QueryService) (*API, *httptest.Server) {
	t.Helper()
	stream := streaming.NewManager(16, zap.NewNop())
	api := NewAPI(svc, stream, nil, auth.NewMiddleware(nil, nil, true), nil, zap.NewNop())
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return api, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestSubmitQueryInlineAnswer(t *testing.T) {
	svc := &fakeQueryService{
		submitFn: func(_ context.Context, req *server.QueryRequest) (*server.QueryResult, error) {
			return &server.QueryResult{
				SessionID: "sess-1",
				Mode:      "none",
				Status:    server.StatusCompleted,
				Answer:    "Deadweight tonnage is the carrying capacity of a ship.",
			}, nil
		},
	}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"what is deadweight tonnage?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Session-ID"); got != "sess-1" {
		t.Errorf("X-Session-ID = %q, want sess-1", got)
	}
	if got := resp.Header.Get("X-Workflow-ID"); got != "" {
		t.Errorf("X-Workflow-ID = %q, want empty for inline answer", got)
	}
	body := decodeBody(t, resp)
	if answer, _ := body["answer"].(string); answer == "" || body["mode"] != "none" {
		t.Errorf("unexpected body: %v", body)
	}

	// The dev identity from skip-auth mode must flow into the request.
	if svc.lastSubmit.UserID != "00000000-0000-0000-0000-000000000002" {
		t.Errorf("UserID = %q", svc.lastSubmit.UserID)
	}
	if !svc.lastSubmit.EnableBrowsing {
		t.Error("browsing should default to enabled")
	}
}

func TestSubmitQueryDispatchesWorkflow(t *testing.T) {
	svc := &fakeQueryService{
		submitFn: func(_ context.Context, req *server.QueryRequest) (*server.QueryResult, error) {
			return &server.QueryResult{
				WorkflowID: "compass-query-abc123",
				SessionID:  "sess-2",
				Mode:       "research",
				Status:     server.StatusRunning,
			}, nil
		},
	}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"evaluate MV Pacific Voyager for charter"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Workflow-ID"); got != "compass-query-abc123" {
		t.Errorf("X-Workflow-ID = %q", got)
	}
	body := decodeBody(t, resp)
	if body["status"] != server.StatusRunning {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestSubmitQueryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query":"  "}`},
		{"invalid json", `{"query":`},
		{"negative iterations", `{"query":"q","max_iterations":-1}`},
	}
	_, srv := newTestAPI(t, &fakeQueryService{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/queries", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmitQueryPolicyDenied(t *testing.T) {
	svc := &fakeQueryService{
		submitFn: func(_ context.Context, _ *server.QueryRequest) (*server.QueryResult, error) {
			return nil, fmt.Errorf("tenant over quota: %w", server.ErrPolicyDenied)
		},
	}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"anything"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "denied by policy") {
		t.Errorf("error = %q", msg)
	}
}

func TestSubmitQueryServiceError(t *testing.T) {
	svc := &fakeQueryService{
		submitFn: func(_ context.Context, _ *server.QueryRequest) (*server.QueryResult, error) {
			return nil, errors.New("temporal unavailable")
		},
	}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"anything"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestSubmitQueryBrowsingOptOut(t *testing.T) {
	svc := &fakeQueryService{}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"q","enable_browsing":false}`)
	resp.Body.Close()
	if svc.lastSubmit == nil || svc.lastSubmit.EnableBrowsing {
		t.Error("enable_browsing=false should reach the service")
	}
}

func TestSubmitQueryMissingScope(t *testing.T) {
	api := NewAPI(&fakeQueryService{}, streaming.NewManager(16, zap.NewNop()), nil, nil, nil, zap.NewNop())

	readOnly := &auth.UserContext{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Scopes:   []string{auth.ScopeQueriesRead},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"query":"q"}`))
	req = req.WithContext(auth.WithUserContext(req.Context(), readOnly))
	rec := httptest.NewRecorder()

	api.handleSubmitQuery(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), auth.ScopeResearchExecute) {
		t.Errorf("body should name the missing scope: %s", rec.Body.String())
	}
}

func TestSubmitQueryWithoutUserContext(t *testing.T) {
	// No auth middleware configured, so no identity reaches the handler.
	api := NewAPI(&fakeQueryService{}, streaming.NewManager(16, zap.NewNop()), nil, nil, nil, zap.NewNop())
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"query":"q"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestQueryStatus(t *testing.T) {
	svc := &fakeQueryService{
		statusFn: func(_ context.Context, workflowID string) (*server.QueryStatus, error) {
			if workflowID == "missing" {
				return nil, server.ErrQueryNotFound
			}
			return &server.QueryStatus{
				WorkflowID:   workflowID,
				Status:       server.StatusCompleted,
				Mode:         "research",
				Answer:       "done",
				Iterations:   2,
				Completeness: 0.91,
			}, nil
		},
	}
	_, srv := newTestAPI(t, svc)

	resp, err := http.Get(srv.URL + "/api/v1/queries/compass-query-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["workflow_id"] != "compass-query-xyz" || body["iterations"] != float64(2) {
		t.Errorf("unexpected body: %v", body)
	}

	resp, err = http.Get(srv.URL + "/api/v1/queries/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelQuery(t *testing.T) {
	canceled := ""
	svc := &fakeQueryService{
		cancelFn: func(_ context.Context, workflowID string) error {
			if workflowID == "missing" {
				return server.ErrQueryNotFound
			}
			canceled = workflowID
			return nil
		},
	}
	_, srv := newTestAPI(t, svc)

	resp := postJSON(t, srv.URL+"/api/v1/queries/compass-query-xyz/cancel", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "canceling" {
		t.Errorf("status field = %v", body["status"])
	}
	if canceled != "compass-query-xyz" {
		t.Errorf("canceled = %q", canceled)
	}

	resp = postJSON(t, srv.URL+"/api/v1/queries/missing/cancel", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestAPI(t, &fakeQueryService{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/queries", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
	if methods := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") {
		t.Errorf("methods = %q", methods)
	}

	// Streaming paths advertise GET only.
	req, _ = http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/stream/sse", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if methods := resp.Header.Get("Access-Control-Allow-Methods"); strings.Contains(methods, "POST") {
		t.Errorf("streaming methods = %q", methods)
	}
}
