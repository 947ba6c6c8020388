// Package planner turns a classified task into an ordered remediation plan.
//
// Plans are fixed per task. Step metadata (type, approval, endpoint, method,
// parameters) is derived from the step name by the rules in rules.go, which
// the execution engine reuses.
package planner

import (
	"github.com/opsguide/opsguide-ai/internal/models"
)

const (
	RunbookDir = "knowledge/runbooks/"
	APISpecDir = "knowledge/api-specs/"
)

// planTemplate is the static part of a plan.
type planTemplate struct {
	description string
	runbook     string
	apiSpec     string
	steps       []string
}

var plans = map[models.TaskID]planTemplate{
	models.TaskCancelOrder: {
		description: "Order cancellation request identified",
		runbook:     "cancel-order-runbook.md",
		apiSpec:     "order-management-api.md",
		steps: []string{
			"Validate order exists and is cancellable",
			"Check user permissions",
			"Execute cancellation via API",
			"Verify cancellation completed",
		},
	},
	models.TaskUpdateOrderStatus: {
		description: "Order status update request identified",
		runbook:     "update-order-status-runbook.md",
		apiSpec:     "order-management-api.md",
		steps: []string{
			"Validate order exists",
			"Check status transition is valid",
			"Update order status via API",
			"Verify status change completed",
		},
	},
	models.TaskCancelCase: {
		description: "Case cancellation request identified",
		runbook:     "cancel-case-runbook.md",
		apiSpec:     "case-management-api.md",
		steps: []string{
			"Validate case exists and is cancellable",
			"Check user permissions",
			"Execute cancellation via API",
			"Verify cancellation completed",
		},
	},
	models.TaskUpdateCaseStatus: {
		description: "Case status update request identified",
		runbook:     "update-case-status-runbook.md",
		apiSpec:     "case-management-api.md",
		steps: []string{
			"Validate case exists",
			"Check status transition is valid",
			"Update case status via API",
			"Verify status change completed",
		},
	},
	models.TaskUpdateSamples: {
		description: "Sample update request identified",
		runbook:     "update-samples-runbook.md",
		apiSpec:     "sample-management-api.md",
		steps: []string{
			"Validate case and samples exist",
			"Check sample update permissions",
			"Execute sample update via API",
			"Verify sample update completed",
		},
	},
	models.TaskUpdateStain: {
		description: "Stain update request identified",
		runbook:     "update-stain-runbook.md",
		apiSpec:     "slide-management-api.md",
		steps: []string{
			"Validate slide and stain exist",
			"Check stain update permissions",
			"Execute stain update via API",
			"Verify stain update completed",
		},
	},
}

// genericPlan covers GENERIC_OPERATION, unknown tasks and a nil task.
var genericPlan = planTemplate{
	description: "Generic operational request identified",
	runbook:     "generic-operation-runbook.md",
	apiSpec:     "generic-api.md",
	steps: []string{
		"Analyze request requirements",
		"Identify target system and API",
		"Execute operation via appropriate API",
		"Verify operation completed successfully",
	},
}

func templateFor(task *models.TaskID) planTemplate {
	if task == nil {
		return genericPlan
	}
	if tmpl, ok := plans[*task]; ok {
		return tmpl
	}
	return genericPlan
}

// StepPlanner builds remediation plans. It has no state.
type StepPlanner struct{}

// NewStepPlanner creates a StepPlanner.
func NewStepPlanner() *StepPlanner {
	return &StepPlanner{}
}

// Plan returns the fixed plan for task. A nil task gets the generic plan;
// callers that want no plan for an unclassified request check for nil first.
func (p *StepPlanner) Plan(task *models.TaskID) *models.StepPlan {
	tmpl := templateFor(task)
	return p.Assemble(task, tmpl.description, RunbookDir+tmpl.runbook, APISpecDir+tmpl.apiSpec, tmpl.steps)
}

// DefaultSteps returns a copy of the fixed step names for task.
func (p *StepPlanner) DefaultSteps(task *models.TaskID) []string {
	steps := templateFor(task).steps
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}

// APISpec returns the api-spec reference of the fixed plan for task.
func (p *StepPlanner) APISpec(task *models.TaskID) string {
	return APISpecDir + templateFor(task).apiSpec
}

// Assemble builds a plan from arbitrary step names, deriving metadata for
// each step with the same rules as the fixed plans.
func (p *StepPlanner) Assemble(task *models.TaskID, description, runbook, apiSpec string, steps []string) *models.StepPlan {
	names := make([]string, len(steps))
	copy(names, steps)

	metadata := make([]models.StepMetadata, len(names))
	for i, name := range names {
		metadata[i] = Derive(name, task)
	}

	return &models.StepPlan{
		Description:  description,
		Runbook:      runbook,
		APISpec:      apiSpec,
		TypicalSteps: names,
		StepMetadata: metadata,
	}
}
