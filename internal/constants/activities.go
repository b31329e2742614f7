package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Research loop activities
	SearchSourcesActivity    = "SearchVesselSources"
	AnalyzeGapsActivity      = "AnalyzeResearchGaps"
	SynthesizeAnswerActivity = "SynthesizeAnswer"
	EnforceCitationsActivity = "EnforceCitations"

	// Persistence activities
	RecordTurnActivity = "RecordTurn"
	ArchiveRunActivity = "ArchiveRun"

	// Streaming activities
	PublishProgressActivity = "PublishProgress"
)

// Workflow type names as registered with the worker.
const (
	ResearchWorkflowName     = "ResearchWorkflow"
	VerificationWorkflowName = "VerificationWorkflow"
)

// ProgressQuery is the Temporal query handler name for reading a running
// workflow's iteration and completeness without interrupting it.
const ProgressQuery = "progress"

// WorkflowIDPrefix namespaces compass workflow IDs in Temporal.
const WorkflowIDPrefix = "compass-query"
