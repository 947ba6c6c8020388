package planner

import (
	"strings"

	"github.com/opsguide/opsguide-ai/internal/models"
)

// Step derivation rules. Every rule works on the lower-cased step name, so
// the same name always yields the same metadata for a given task. The
// execution engine calls these functions too.

// DeriveStepType classifies a step name. Precedence is fixed: validation,
// permission check, API execution, verification, then validation again as
// the default.
func DeriveStepType(stepName string) models.StepType {
	name := strings.ToLower(stepName)
	switch {
	case strings.Contains(name, "validate") || (strings.Contains(name, "check") && strings.Contains(name, "exist")):
		return models.StepTypeValidation
	case strings.Contains(name, "permission"):
		return models.StepTypePermissionCheck
	case strings.Contains(name, "execute") || strings.Contains(name, "via"):
		return models.StepTypeAPIExecution
	case strings.Contains(name, "verify") || strings.Contains(name, "confirm"):
		return models.StepTypeVerification
	default:
		return models.StepTypeValidation
	}
}

// IsAutoExecutable reports whether a step may run without a human.
func IsAutoExecutable(stepName string) bool {
	name := strings.ToLower(stepName)
	return strings.Contains(name, "validate") ||
		(strings.Contains(name, "check") && (strings.Contains(name, "permission") || strings.Contains(name, "exist"))) ||
		strings.Contains(name, "verify")
}

// RequiresApproval reports whether a step must be approved before it runs.
func RequiresApproval(stepName string) bool {
	name := strings.ToLower(stepName)
	return strings.Contains(name, "execute") ||
		strings.Contains(name, "run") ||
		(strings.Contains(name, "cancel") && strings.Contains(name, "via")) ||
		(strings.Contains(name, "update") && strings.Contains(name, "via"))
}

const (
	nounCase  = "case"
	nounOrder = "order"

	actionCancel = "cancel"
	actionUpdate = "update"
)

// endpointRow is one entry of the endpoint table. Empty noun or action
// match anything.
type endpointRow struct {
	stepType models.StepType
	noun     string
	action   string
	template string
}

// endpointTable is evaluated top to bottom; the first matching row wins.
var endpointTable = []endpointRow{
	{stepType: models.StepTypeValidation, noun: nounCase, template: "/api/v2/cases/{case_id}/status"},
	{stepType: models.StepTypeValidation, noun: nounOrder, template: "/api/v2/orders/{order_id}/status"},
	{stepType: models.StepTypePermissionCheck, template: "/api/v2/users/{user_id}/roles"},
	{stepType: models.StepTypeAPIExecution, noun: nounCase, action: actionCancel, template: "/api/v2/cases/{case_id}/cancel"},
	{stepType: models.StepTypeAPIExecution, noun: nounCase, action: actionUpdate, template: "/api/v2/cases/{case_id}/status"},
	{stepType: models.StepTypeAPIExecution, noun: nounOrder, action: actionCancel, template: "/api/v2/orders/{order_id}/cancel"},
	{stepType: models.StepTypeAPIExecution, noun: nounOrder, action: actionUpdate, template: "/api/v2/orders/{order_id}/status"},
	{stepType: models.StepTypeVerification, noun: nounCase, template: "/api/v2/cases/{case_id}/status"},
	{stepType: models.StepTypeVerification, noun: nounOrder, template: "/api/v2/orders/{order_id}/status"},
}

func (r endpointRow) matches(stepType models.StepType, noun, action string) bool {
	return r.stepType == stepType &&
		(r.noun == "" || r.noun == noun) &&
		(r.action == "" || r.action == action)
}

// Endpoint returns the endpoint template for a step, or nil when the table
// has no row for it. The entity noun comes from the step name when it names
// one, otherwise from the task.
func Endpoint(stepName string, stepType models.StepType, task *models.TaskID) *string {
	name := strings.ToLower(stepName)
	noun := stepNoun(name, task)
	action := stepAction(name)

	for _, row := range endpointTable {
		if row.matches(stepType, noun, action) {
			template := row.template
			return &template
		}
	}
	return nil
}

// Method returns the HTTP method for a step.
func Method(stepName string, stepType models.StepType) string {
	if stepType != models.StepTypeAPIExecution {
		return "GET"
	}
	switch stepAction(strings.ToLower(stepName)) {
	case actionCancel:
		return "POST"
	case actionUpdate:
		return "PATCH"
	default:
		return "GET"
	}
}

// Params returns the default request body for a step. It is never nil.
func Params(stepName string, stepType models.StepType) map[string]interface{} {
	params := make(map[string]interface{})
	if stepType != models.StepTypeAPIExecution {
		return params
	}

	name := strings.ToLower(stepName)
	switch {
	case strings.Contains(name, actionCancel):
		params["reason"] = "operational_request"
		params["notify_stakeholders"] = true
	case strings.Contains(name, actionUpdate) && strings.Contains(name, "status"):
		params["action"] = "update_status"
	}
	return params
}

// Derive builds the full metadata for one step.
func Derive(stepName string, task *models.TaskID) models.StepMetadata {
	stepType := DeriveStepType(stepName)
	return models.StepMetadata{
		StepName:         stepName,
		AutoExecutable:   IsAutoExecutable(stepName),
		RequiresApproval: RequiresApproval(stepName),
		StepType:         stepType,
		APIEndpoint:      Endpoint(stepName, stepType, task),
		HTTPMethod:       Method(stepName, stepType),
		APIParameters:    Params(stepName, stepType),
	}
}

func stepNoun(name string, task *models.TaskID) string {
	switch {
	case strings.Contains(name, nounCase):
		return nounCase
	case strings.Contains(name, nounOrder):
		return nounOrder
	}
	if task == nil {
		return ""
	}
	switch *task {
	case models.TaskCancelCase, models.TaskUpdateCaseStatus:
		return nounCase
	case models.TaskCancelOrder, models.TaskUpdateOrderStatus:
		return nounOrder
	default:
		return ""
	}
}

func stepAction(name string) string {
	switch {
	case strings.Contains(name, actionCancel):
		return actionCancel
	case strings.Contains(name, actionUpdate):
		return actionUpdate
	default:
		return ""
	}
}
