package server

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

// QueryStatus reports where a dispatched query stands. Running workflows
// answer the progress query for live iteration and completeness numbers;
// completed workflows return the full answer.
func (s *Service) QueryStatus(ctx context.Context, workflowID string) (*QueryStatus, error) {
	desc, err := s.describeOwned(ctx, workflowID, false)
	if err != nil {
		return nil, err
	}
	info := desc.WorkflowExecutionInfo

	st := &QueryStatus{WorkflowID: workflowID}
	dc := converter.GetDefaultDataConverter()
	if info.Memo != nil {
		if f, ok := info.Memo.Fields["session_id"]; ok && f != nil {
			_ = dc.FromPayload(f, &st.SessionID)
		}
		if f, ok := info.Memo.Fields["mode"]; ok && f != nil {
			_ = dc.FromPayload(f, &st.Mode)
		}
	}
	if info.GetStartTime() != nil {
		st.StartedAt = info.GetStartTime().AsTime()
	}
	if info.GetCloseTime() != nil {
		t := info.GetCloseTime().AsTime()
		st.CompletedAt = &t
	}

	switch info.Status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		st.Status = StatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		st.Status = StatusTimedOut
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		st.Status = StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		st.Status = StatusCanceled
	default:
		// RUNNING, CONTINUED_AS_NEW, and anything a newer server adds.
		st.Status = StatusRunning
	}

	switch st.Status {
	case StatusCompleted:
		var result workflows.ResearchResult
		we := s.temporalClient.GetWorkflow(ctx, workflowID, "")
		if err := we.Get(ctx, &result); err != nil {
			s.logger.Warn("Failed to fetch completed workflow result",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
			st.ErrorMessage = fmt.Sprintf("result retrieval failed: %v", err)
		} else {
			st.Answer = result.Answer
			st.Iterations = result.Iterations
			st.Completeness = float64(result.Completeness)
			st.ErrorMessage = result.ErrorMessage
			if st.Mode == "" {
				st.Mode = result.Mode
			}
		}
	case StatusFailed, StatusTimedOut:
		var result workflows.ResearchResult
		we := s.temporalClient.GetWorkflow(ctx, workflowID, "")
		if err := we.Get(ctx, &result); err != nil {
			st.ErrorMessage = err.Error()
		}
	case StatusRunning:
		var progress workflows.Progress
		enc, err := s.temporalClient.QueryWorkflow(ctx, workflowID, "", constants.ProgressQuery)
		if err != nil {
			s.logger.Debug("Progress query unavailable",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		} else if err := enc.Get(&progress); err != nil {
			s.logger.Debug("Progress decode failed",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		} else {
			st.Iterations = progress.Iteration
			st.Completeness = float64(progress.Completeness)
		}
	}

	return st, nil
}

// CancelQuery requests cancellation of a running query's workflow. The
// workflow's cleanup path still archives the partial run, so a canceled
// query keeps its audit trail.
func (s *Service) CancelQuery(ctx context.Context, workflowID string) error {
	if _, err := s.describeOwned(ctx, workflowID, true); err != nil {
		return err
	}
	if err := s.temporalClient.CancelWorkflow(ctx, workflowID, ""); err != nil {
		s.logger.Error("Failed to cancel workflow",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return fmt.Errorf("cancel workflow: %w", err)
	}
	s.logger.Info("Cancellation requested", zap.String("workflow_id", workflowID))
	return nil
}

// describeOwned loads a workflow's description and enforces memo-based
// ownership against the caller's auth context. Foreign workflows read as
// not found so existence never leaks across tenants. Without an auth
// context (dev mode, internal calls) the check is skipped. Cancellation
// additionally requires the caller to be the submitting user.
func (s *Service) describeOwned(ctx context.Context, workflowID string, enforceUser bool) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	desc, err := s.temporalClient.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil || desc == nil || desc.WorkflowExecutionInfo == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, workflowID)
	}

	memo := desc.WorkflowExecutionInfo.Memo
	if memo == nil {
		return desc, nil
	}
	uc, err := auth.GetUserContext(ctx)
	if err != nil || uc == nil {
		return desc, nil
	}

	dc := converter.GetDefaultDataConverter()
	if f, ok := memo.Fields["tenant_id"]; ok && f != nil {
		var memoTenant string
		_ = dc.FromPayload(f, &memoTenant)
		if memoTenant != "" && uc.TenantID.String() != memoTenant {
			return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, workflowID)
		}
	}
	if enforceUser {
		if f, ok := memo.Fields["user_id"]; ok && f != nil {
			var memoUser string
			_ = dc.FromPayload(f, &memoUser)
			if memoUser != "" && uc.UserID.String() != memoUser {
				return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, workflowID)
			}
		}
	}
	return desc, nil
}
