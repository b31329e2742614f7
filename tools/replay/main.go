package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fleetcore-ai/compass/internal/constants"
	"github.com/fleetcore-ai/compass/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to workflow history JSON (from `temporal workflow show --output json`)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	// Workflows are registered under the same names the service starts
	// them with, so exported histories resolve against current code.
	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflowWithOptions(workflows.ResearchWorkflow,
		workflow.RegisterOptions{Name: constants.ResearchWorkflowName})
	replayer.RegisterWorkflowWithOptions(workflows.VerificationWorkflow,
		workflow.RegisterOptions{Name: constants.VerificationWorkflowName})

	// Replay errors on any non-determinism between the history and the
	// workflow code as built.
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}

	log.Printf("Replay succeeded for %s", *historyPath)
}
