package activities

import (
	"context"

	"github.com/fleetcore-ai/compass/internal/streaming"
)

// PublishProgress emits one progress event to the workflow's stream.
// Best effort: subscribers that lag are the stream manager's problem, and
// a missing manager drops the event.
func (a *Activities) PublishProgress(ctx context.Context, in PublishProgressInput) error {
	if a.stream == nil || in.WorkflowID == "" {
		return nil
	}

	a.stream.Publish(in.WorkflowID, streaming.Event{
		Type:      streaming.EventType(in.EventType),
		Stage:     in.Stage,
		Message:   in.Message,
		Iteration: in.Iteration,
		Payload:   in.Payload,
	})
	return nil
}
