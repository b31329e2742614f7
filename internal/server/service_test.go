package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/conversation"
	"github.com/fleetcore-ai/compass/internal/degradation"
	"github.com/fleetcore-ai/compass/internal/llm"
	"github.com/fleetcore-ai/compass/internal/policy"
	"github.com/fleetcore-ai/compass/internal/streaming"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

type fakeLLM struct {
	completeFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, req)
	}
	return &llm.CompletionResponse{Content: "stub answer", Model: "stub-model", TokensUsed: 42}, nil
}

type stubProbe bool

func (p stubProbe) IsCircuitBreakerOpen() bool { return bool(p) }

type serviceOverrides struct {
	llm      llm.Client
	policies *policy.OPAEngine
	degrade  *degradation.Manager
}

func newTestService(t *testing.T, temporalClient client.Client, ov serviceOverrides) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	conversations := conversation.NewManagerWithClient(rdb, zaptest.NewLogger(t))

	llmClient := ov.llm
	if llmClient == nil {
		llmClient = &fakeLLM{}
	}
	degrade := ov.degrade
	if degrade == nil {
		degrade = degradation.NewManager(config.DegradationConfig{}, zap.NewNop())
	}

	return NewService(
		temporalClient,
		conversations,
		llmClient,
		ov.policies,
		degrade,
		streaming.NewManager(64, zap.NewNop()),
		nil,
		zaptest.NewLogger(t),
		Options{TaskQueue: "compass-test-queue", Environment: "test", MaxSourcesPerSearch: 10},
	)
}

func workflowFuncName(fn interface{}) string {
	if fn == nil {
		return ""
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}

func TestSubmitQueryAnswersKnowledgeInline(t *testing.T) {
	mockClient := &mocks.Client{}

	var seenPrompt llm.CompletionRequest
	svc := newTestService(t, mockClient, serviceOverrides{
		llm: &fakeLLM{completeFn: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			seenPrompt = req
			return &llm.CompletionResponse{Content: "Open the PMS module and raise a work order.", Model: "stub-model", TokensUsed: 30}, nil
		}},
	})

	res, err := svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:    "How do I create a work order for the main engine?",
		UserID:   "00000000-0000-0000-0000-000000000002",
		TenantID: "tenant-1",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "none", res.Mode)
	assert.Empty(t, res.WorkflowID, "knowledge answers never start a workflow")
	assert.Equal(t, "Open the PMS module and raise a work order.", res.Answer)
	assert.NotEmpty(t, res.SessionID, "session is created when none was given")
	assert.False(t, res.Degraded)

	assert.Contains(t, seenPrompt.Prompt, "work order")
	assert.NotEmpty(t, seenPrompt.System)

	// The turn landed in conversation memory.
	mem, err := svc.conversations.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, mem.RecentMessages, 2)
	assert.Equal(t, "user", mem.RecentMessages[0].Role)
	assert.Equal(t, "assistant", mem.RecentMessages[1].Role)

	mockClient.AssertExpectations(t)
}

func TestSubmitQueryDispatchesResearchWorkflow(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockRun.On("GetID").Return("compass-query-abc123")
	mockRun.On("GetRunID").Return("run-1")

	var capturedOptions client.StartWorkflowOptions
	var capturedInput workflows.ResearchInput
	var capturedFunc interface{}
	mockClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			capturedOptions = opts
			return true
		}),
		mock.Anything,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Run(func(args mock.Arguments) {
		capturedFunc = args.Get(2)
		capturedInput = args.Get(3).(workflows.ResearchInput)
	}).Return(mockRun, nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	res, err := svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:          "how does fleetcore's PMS module work",
		SessionID:      "sess-research",
		UserID:         "00000000-0000-0000-0000-000000000002",
		TenantID:       "tenant-1",
		EnableBrowsing: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, res.Status)
	assert.Equal(t, "research", res.Mode)
	assert.Equal(t, "compass-query-abc123", res.WorkflowID)
	assert.Equal(t, "sess-research", res.SessionID)
	assert.Empty(t, res.Answer)

	assert.True(t, strings.HasPrefix(capturedOptions.ID, constants.WorkflowIDPrefix+"-"),
		"workflow ID %q should carry the compass prefix", capturedOptions.ID)
	assert.Equal(t, "compass-test-queue", capturedOptions.TaskQueue)
	assert.Equal(t, "tenant-1", capturedOptions.Memo["tenant_id"])
	assert.Equal(t, "sess-research", capturedOptions.Memo["session_id"])
	assert.Equal(t, "research", capturedOptions.Memo["mode"])

	assert.Contains(t, workflowFuncName(capturedFunc), "ResearchWorkflow")
	assert.Equal(t, "how does fleetcore's PMS module work", capturedInput.Query)
	assert.Equal(t, "research", capturedInput.Mode)
	assert.Equal(t, workflows.DefaultMaxIterations, capturedInput.MaxIterations)
	assert.Equal(t, 10, capturedInput.MaxSourcesPerSearch)

	// Subscribers replaying from zero see the mode selection event.
	events := svc.stream.ReplaySince(res.WorkflowID, 0)
	require.NotEmpty(t, events)
	assert.Equal(t, streaming.EventModeSelected, events[0].Type)

	mockClient.AssertExpectations(t)
	mockRun.AssertExpectations(t)
}

func TestSubmitQueryDispatchesVerificationWorkflow(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockRun.On("GetID").Return("compass-query-ver1")
	mockRun.On("GetRunID").Return("run-2")

	var capturedFunc interface{}
	var capturedInput workflows.ResearchInput
	mockClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.AnythingOfType("internal.StartWorkflowOptions"),
		mock.Anything,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Run(func(args mock.Arguments) {
		capturedFunc = args.Get(2)
		capturedInput = args.Get(3).(workflows.ResearchInput)
	}).Return(mockRun, nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	res, err := svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:    "What is MV Ever Given's IMO number?",
		TenantID: "tenant-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "verification", res.Mode)
	assert.Equal(t, StatusRunning, res.Status)
	assert.Contains(t, workflowFuncName(capturedFunc), "VerificationWorkflow")
	assert.Equal(t, "verification", capturedInput.Mode)
	assert.Equal(t, "What is MV Ever Given's IMO number?", capturedInput.OriginalQuery)

	mockClient.AssertExpectations(t)
}

func TestSubmitQueryRejectsEmptyQuery(t *testing.T) {
	svc := newTestService(t, &mocks.Client{}, serviceOverrides{})

	for _, query := range []string{"", "   "} {
		if _, err := svc.SubmitQuery(context.Background(), &QueryRequest{Query: query}); err == nil {
			t.Errorf("SubmitQuery(%q) should fail", query)
		}
	}
}

func TestSubmitQueryPolicyDenies(t *testing.T) {
	// A fail-closed engine with no policies loaded denies everything.
	engine, err := policy.NewOPAEngine(&policy.Config{FailClosed: true, Environment: "test"}, zap.NewNop())
	require.NoError(t, err)

	svc := newTestService(t, &mocks.Client{}, serviceOverrides{policies: engine})

	_, err = svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:    "What is MV Ever Given's IMO number?",
		TenantID: "tenant-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyDenied)
}

func TestSubmitQueryAppliesPolicyIterationCeiling(t *testing.T) {
	const ceilingPolicy = `package compass.research

default decision = {
    "allow": true,
    "reason": "plan ceiling applied",
    "max_iterations": 2,
}
`
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "research.rego"), []byte(ceilingPolicy), 0o644))
	engine, err := policy.NewOPAEngine(&policy.Config{
		Enabled:     true,
		Mode:        policy.ModeEnforce,
		Path:        dir,
		Environment: "test",
	}, zap.NewNop())
	require.NoError(t, err)

	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockRun.On("GetID").Return("compass-query-cap")
	mockRun.On("GetRunID").Return("run-3")

	var inputs []workflows.ResearchInput
	mockClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.AnythingOfType("internal.StartWorkflowOptions"),
		mock.Anything,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Run(func(args mock.Arguments) {
		inputs = append(inputs, args.Get(3).(workflows.ResearchInput))
	}).Return(mockRun, nil)

	svc := newTestService(t, mockClient, serviceOverrides{policies: engine})

	// Requested 5 is capped to the policy ceiling.
	_, err = svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:          "how does fleetcore's PMS module work",
		TenantID:       "tenant-1",
		EnableBrowsing: true,
		MaxIterations:  5,
	})
	require.NoError(t, err)

	// Requested 1 stays 1; the ceiling never raises.
	_, err = svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:          "how does fleetcore's PMS module work",
		TenantID:       "tenant-1",
		EnableBrowsing: true,
		MaxIterations:  1,
	})
	require.NoError(t, err)

	require.Len(t, inputs, 2)
	assert.Equal(t, 2, inputs[0].MaxIterations)
	assert.Equal(t, 1, inputs[1].MaxIterations)
}

func TestSubmitQueryDegradesToInlineWhenSearchDown(t *testing.T) {
	degrade := degradation.NewManager(config.DegradationConfig{
		Enabled:                     true,
		OpenBreakersForVerification: 1,
		OpenBreakersForKnowledge:    2,
	}, zap.NewNop())
	degrade.RegisterProbe(degradation.ProbeSearch, stubProbe(true))

	svc := newTestService(t, &mocks.Client{}, serviceOverrides{degrade: degrade})

	res, err := svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:          "how does fleetcore's PMS module work",
		TenantID:       "tenant-1",
		EnableBrowsing: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "none", res.Mode)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.WorkflowID)
	assert.NotEmpty(t, res.Answer, "the degraded path still answers from platform knowledge")
	assert.True(t, res.Degraded)
	assert.Equal(t, string(degradation.ReasonSearchUnavailable), res.DowngradeReason)
}

func TestSubmitQueryWorkflowStartFailure(t *testing.T) {
	mockClient := &mocks.Client{}
	mockClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.AnythingOfType("internal.StartWorkflowOptions"),
		mock.Anything,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Return(nil, errors.New("temporal unavailable"))

	svc := newTestService(t, mockClient, serviceOverrides{})

	_, err := svc.SubmitQuery(context.Background(), &QueryRequest{
		Query:          "how does fleetcore's PMS module work",
		TenantID:       "tenant-1",
		EnableBrowsing: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start research workflow")
}

func TestKnowledgeContext(t *testing.T) {
	if got := knowledgeContext(nil); got != "" {
		t.Fatalf("nil memory context = %q, want empty", got)
	}

	mem := conversation.NewMemory("sess-ctx", time.Hour)
	mem.RecordFeature("PMS")
	mem.RecordFeature("defect reporting")
	mem.UserIntent = "comparing tankers for charter"

	got := knowledgeContext(mem)
	assert.Contains(t, got, "PMS, defect reporting")
	assert.Contains(t, got, "comparing tankers for charter")
}
