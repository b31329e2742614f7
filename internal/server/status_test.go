package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

var statusTestStart = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func describeResponse(status enumspb.WorkflowExecutionStatus, memo map[string]interface{}) *workflowservice.DescribeWorkflowExecutionResponse {
	dc := converter.GetDefaultDataConverter()
	fields := make(map[string]*commonpb.Payload, len(memo))
	for k, v := range memo {
		if p, err := dc.ToPayload(v); err == nil {
			fields[k] = p
		}
	}
	info := &workflowpb.WorkflowExecutionInfo{
		Status:    status,
		StartTime: timestamppb.New(statusTestStart),
	}
	if status != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		info.CloseTime = timestamppb.New(statusTestStart.Add(90 * time.Second))
	}
	if len(fields) > 0 {
		info.Memo = &commonpb.Memo{Fields: fields}
	}
	return &workflowservice.DescribeWorkflowExecutionResponse{WorkflowExecutionInfo: info}
}

func TestQueryStatusRunningReportsProgress(t *testing.T) {
	const wfID = "compass-query-run1"

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, map[string]interface{}{
			"session_id": "sess-1",
			"tenant_id":  "tenant-1",
			"mode":       "research",
		}), nil)

	val := &mocks.Value{}
	val.On("Get", mock.Anything).Run(func(args mock.Arguments) {
		if p, ok := args.Get(0).(*workflows.Progress); ok {
			*p = workflows.Progress{Stage: workflows.StageSearching, Iteration: 2, Completeness: 55}
		}
	}).Return(nil)
	mockClient.On("QueryWorkflow", mock.Anything, wfID, "", constants.ProgressQuery).Return(val, nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	st, err := svc.QueryStatus(context.Background(), wfID)
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Equal(t, "research", st.Mode)
	assert.Equal(t, 2, st.Iterations)
	assert.Equal(t, 55.0, st.Completeness)
	assert.Equal(t, statusTestStart, st.StartedAt)
	assert.Nil(t, st.CompletedAt)
	assert.Empty(t, st.Answer)

	mockClient.AssertExpectations(t)
}

func TestQueryStatusCompletedReturnsAnswer(t *testing.T) {
	const wfID = "compass-query-done"

	mockClient := &mocks.Client{}
	// No mode in the memo; it falls back to the workflow result.
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED, map[string]interface{}{
			"session_id": "sess-2",
		}), nil)

	mockRun := &mocks.WorkflowRun{}
	mockRun.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if p, ok := args.Get(1).(*workflows.ResearchResult); ok {
			*p = workflows.ResearchResult{
				Answer:       "MV Ever Given's IMO number is 9811000 [1].",
				Mode:         "verification",
				Status:       "completed",
				Iterations:   1,
				Completeness: 80,
			}
		}
	}).Return(nil)
	mockClient.On("GetWorkflow", mock.Anything, wfID, "").Return(mockRun)

	svc := newTestService(t, mockClient, serviceOverrides{})

	st, err := svc.QueryStatus(context.Background(), wfID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "MV Ever Given's IMO number is 9811000 [1].", st.Answer)
	assert.Equal(t, "verification", st.Mode)
	assert.Equal(t, 1, st.Iterations)
	assert.Equal(t, 80.0, st.Completeness)
	require.NotNil(t, st.CompletedAt)
	assert.Equal(t, statusTestStart.Add(90*time.Second), *st.CompletedAt)

	mockClient.AssertExpectations(t)
	mockRun.AssertExpectations(t)
}

func TestQueryStatusFailedSurfacesError(t *testing.T) {
	const wfID = "compass-query-fail"

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, nil), nil)

	mockRun := &mocks.WorkflowRun{}
	mockRun.On("Get", mock.Anything, mock.Anything).
		Return(errors.New("workflow execution error: synthesize draft: completion provider down"))
	mockClient.On("GetWorkflow", mock.Anything, wfID, "").Return(mockRun)

	svc := newTestService(t, mockClient, serviceOverrides{})

	st, err := svc.QueryStatus(context.Background(), wfID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.ErrorMessage, "completion provider down")
	assert.Empty(t, st.Answer)
}

func TestQueryStatusCanceled(t *testing.T) {
	const wfID = "compass-query-canc"

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, nil), nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	st, err := svc.QueryStatus(context.Background(), wfID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, st.Status)
	assert.Empty(t, st.ErrorMessage)
}

func TestQueryStatusNotFound(t *testing.T) {
	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, "compass-query-missing", "").
		Return(nil, errors.New("workflow not found"))

	svc := newTestService(t, mockClient, serviceOverrides{})

	_, err := svc.QueryStatus(context.Background(), "compass-query-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryNotFound)
}

func TestQueryStatusTenantIsolation(t *testing.T) {
	const wfID = "compass-query-owned"
	owner := uuid.New()
	intruder := uuid.New()

	newMock := func() *mocks.Client {
		mockClient := &mocks.Client{}
		mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
			Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, map[string]interface{}{
				"session_id": "sess-owned",
				"tenant_id":  owner.String(),
			}), nil)
		return mockClient
	}

	t.Run("foreign tenant reads not found", func(t *testing.T) {
		svc := newTestService(t, newMock(), serviceOverrides{})
		ctx := auth.WithUserContext(context.Background(), &auth.UserContext{
			UserID:   uuid.New(),
			TenantID: intruder,
		})

		_, err := svc.QueryStatus(ctx, wfID)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrQueryNotFound)
	})

	t.Run("owning tenant reads status", func(t *testing.T) {
		mockClient := newMock()
		mockClient.On("QueryWorkflow", mock.Anything, wfID, "", constants.ProgressQuery).
			Return(nil, errors.New("query not registered"))
		svc := newTestService(t, mockClient, serviceOverrides{})
		ctx := auth.WithUserContext(context.Background(), &auth.UserContext{
			UserID:   uuid.New(),
			TenantID: owner,
		})

		st, err := svc.QueryStatus(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, st.Status)
		assert.Equal(t, "sess-owned", st.SessionID)
	})
}

func TestCancelQuery(t *testing.T) {
	const wfID = "compass-query-cancelme"

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, map[string]interface{}{
			"tenant_id": "tenant-1",
		}), nil)
	mockClient.On("CancelWorkflow", mock.Anything, wfID, "").Return(nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	require.NoError(t, svc.CancelQuery(context.Background(), wfID))
	mockClient.AssertExpectations(t)
}

func TestCancelQueryNotFound(t *testing.T) {
	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, "compass-query-gone", "").
		Return(nil, errors.New("workflow not found"))

	svc := newTestService(t, mockClient, serviceOverrides{})

	err := svc.CancelQuery(context.Background(), "compass-query-gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryNotFound)
}

func TestCancelQueryRequiresOwnership(t *testing.T) {
	const wfID = "compass-query-foreign"
	tenant := uuid.New()
	owner := uuid.New()

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, map[string]interface{}{
			"tenant_id": tenant.String(),
			"user_id":   owner.String(),
		}), nil)

	svc := newTestService(t, mockClient, serviceOverrides{})

	// Same tenant, different user: cancellation is refused, status isn't.
	ctx := auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:   uuid.New(),
		TenantID: tenant,
	})

	err := svc.CancelQuery(ctx, wfID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryNotFound)
	mockClient.AssertNotCalled(t, "CancelWorkflow", mock.Anything, wfID, "")
}

func TestCancelQueryPropagatesCancelError(t *testing.T) {
	const wfID = "compass-query-cancelerr"

	mockClient := &mocks.Client{}
	mockClient.On("DescribeWorkflowExecution", mock.Anything, wfID, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, nil), nil)
	mockClient.On("CancelWorkflow", mock.Anything, wfID, "").
		Return(errors.New("namespace unavailable"))

	svc := newTestService(t, mockClient, serviceOverrides{})

	err := svc.CancelQuery(context.Background(), wfID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueryNotFound)
	assert.Contains(t, err.Error(), "cancel workflow")
}
