package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/models"
)

func TestPlanCancelCase(t *testing.T) {
	plan := NewStepPlanner().Plan(models.TaskPtr(models.TaskCancelCase))

	assert.Equal(t, "Case cancellation request identified", plan.Description)
	assert.Equal(t, "knowledge/runbooks/cancel-case-runbook.md", plan.Runbook)
	assert.Equal(t, "knowledge/api-specs/case-management-api.md", plan.APISpec)
	require.Len(t, plan.TypicalSteps, 4)
	require.Len(t, plan.StepMetadata, 4)

	var types []models.StepType
	for _, m := range plan.StepMetadata {
		types = append(types, m.StepType)
	}
	assert.Equal(t, []models.StepType{
		models.StepTypeValidation,
		models.StepTypePermissionCheck,
		models.StepTypeAPIExecution,
		models.StepTypeVerification,
	}, types)

	execute := plan.StepMetadata[2]
	assert.Equal(t, "Execute cancellation via API", execute.StepName)
	assert.True(t, execute.RequiresApproval)
	assert.False(t, execute.AutoExecutable)
	require.NotNil(t, execute.APIEndpoint)
	assert.Equal(t, "/api/v2/cases/{case_id}/cancel", *execute.APIEndpoint)
	assert.Equal(t, "POST", execute.HTTPMethod)
	assert.Equal(t, map[string]interface{}{
		"reason":              "operational_request",
		"notify_stakeholders": true,
	}, execute.APIParameters)

	permission := plan.StepMetadata[1]
	require.NotNil(t, permission.APIEndpoint)
	assert.Equal(t, "/api/v2/users/{user_id}/roles", *permission.APIEndpoint)
	assert.Equal(t, "GET", permission.HTTPMethod)
	assert.Empty(t, permission.APIParameters)
}

func TestPlanGenericDefault(t *testing.T) {
	p := NewStepPlanner()

	for _, task := range []*models.TaskID{nil, models.TaskPtr(models.TaskGenericOperation), models.TaskPtr("SOMETHING_ELSE")} {
		plan := p.Plan(task)
		assert.Equal(t, "Generic operational request identified", plan.Description)
		assert.Equal(t, "knowledge/runbooks/generic-operation-runbook.md", plan.Runbook)
		assert.Equal(t, "knowledge/api-specs/generic-api.md", plan.APISpec)
		assert.Len(t, plan.TypicalSteps, 4)
	}
}

func TestFixedPlansKeepAutoAndApprovalDisjoint(t *testing.T) {
	p := NewStepPlanner()

	for _, task := range models.AllTaskIDs {
		task := task
		plan := p.Plan(&task)
		for _, m := range plan.StepMetadata {
			assert.False(t, m.AutoExecutable && m.RequiresApproval, "%s: %q is both auto-executable and approval-gated", task, m.StepName)
		}
	}
}

func TestDeriveStepType(t *testing.T) {
	tests := []struct {
		name string
		want models.StepType
	}{
		{"Validate order exists", models.StepTypeValidation},
		{"Check case exists", models.StepTypeValidation},
		{"Check user permissions", models.StepTypePermissionCheck},
		{"Execute cancellation via API", models.StepTypeAPIExecution},
		{"Update case status via API", models.StepTypeAPIExecution},
		{"Verify cancellation completed", models.StepTypeVerification},
		{"Confirm with customer", models.StepTypeVerification},
		{"Check status transition is valid", models.StepTypeValidation},
		{"Notify the lab", models.StepTypeValidation},
		// validation wins over every later rule
		{"Validate permissions and execute", models.StepTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStepType(tt.name))
		})
	}
}

func TestApprovalAndAutoExecution(t *testing.T) {
	tests := []struct {
		name     string
		auto     bool
		approval bool
	}{
		{"Validate case exists", true, false},
		{"Check user permissions", true, false},
		{"Execute cancellation via API", false, true},
		{"Run the nightly job", false, true},
		{"Cancel order via portal", false, true},
		{"Update status via API", false, true},
		{"Update status manually", false, false},
		{"Verify status change completed", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auto, IsAutoExecutable(tt.name))
			assert.Equal(t, tt.approval, RequiresApproval(tt.name))
		})
	}
}

func TestEndpointTable(t *testing.T) {
	cancelCase := models.TaskPtr(models.TaskCancelCase)
	updateOrder := models.TaskPtr(models.TaskUpdateOrderStatus)

	tests := []struct {
		name string
		task *models.TaskID
		want string
	}{
		{"Validate case exists", nil, "/api/v2/cases/{case_id}/status"},
		{"Validate order exists", nil, "/api/v2/orders/{order_id}/status"},
		{"Check user permissions", nil, "/api/v2/users/{user_id}/roles"},
		{"Cancel case via API", nil, "/api/v2/cases/{case_id}/cancel"},
		{"Update case status via API", nil, "/api/v2/cases/{case_id}/status"},
		{"Cancel order via API", nil, "/api/v2/orders/{order_id}/cancel"},
		{"Update order status via API", nil, "/api/v2/orders/{order_id}/status"},
		{"Verify case closed", nil, "/api/v2/cases/{case_id}/status"},
		{"Execute cancellation via API", cancelCase, "/api/v2/cases/{case_id}/cancel"},
		{"Check status transition is valid", updateOrder, "/api/v2/orders/{order_id}/status"},
		// a noun in the step name beats the task
		{"Validate order exists", cancelCase, "/api/v2/orders/{order_id}/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Endpoint(tt.name, DeriveStepType(tt.name), tt.task)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestEndpointNoMatch(t *testing.T) {
	assert.Nil(t, Endpoint("Execute cancellation via API", models.StepTypeAPIExecution, nil))
	assert.Nil(t, Endpoint("Execute sample update via API", models.StepTypeAPIExecution, models.TaskPtr(models.TaskUpdateSamples)))
	assert.Nil(t, Endpoint("Analyze request requirements", models.StepTypeValidation, nil))
}

func TestMethodAndParams(t *testing.T) {
	assert.Equal(t, "POST", Method("Execute cancellation via API", models.StepTypeAPIExecution))
	assert.Equal(t, "PATCH", Method("Update order status via API", models.StepTypeAPIExecution))
	assert.Equal(t, "GET", Method("Execute operation via appropriate API", models.StepTypeAPIExecution))
	assert.Equal(t, "GET", Method("Cancel order", models.StepTypeValidation))

	assert.Equal(t, map[string]interface{}{"action": "update_status"},
		Params("Update order status via API", models.StepTypeAPIExecution))
	assert.Empty(t, Params("Update samples via API", models.StepTypeAPIExecution))
	assert.NotNil(t, Params("Verify", models.StepTypeVerification))
}

func TestDeriveIsPure(t *testing.T) {
	task := models.TaskPtr(models.TaskCancelOrder)
	assert.Equal(t, Derive("Execute cancellation via API", task), Derive("Execute cancellation via API", task))
}

func TestAssembleUsesGivenSteps(t *testing.T) {
	p := NewStepPlanner()
	steps := []string{"1. Verify the case exists", "2. Execute cancellation via POST"}

	plan := p.Assemble(models.TaskPtr(models.TaskCancelCase), "d", "r", "a", steps)
	steps[0] = "mutated"

	assert.Equal(t, "1. Verify the case exists", plan.TypicalSteps[0])
	assert.Equal(t, models.StepTypeVerification, plan.StepMetadata[0].StepType)
	assert.Equal(t, models.StepTypeAPIExecution, plan.StepMetadata[1].StepType)
	assert.True(t, plan.StepMetadata[1].RequiresApproval)
}

func TestDefaultStepsReturnsCopy(t *testing.T) {
	p := NewStepPlanner()
	task := models.TaskPtr(models.TaskCancelOrder)

	steps := p.DefaultSteps(task)
	steps[0] = "changed"

	assert.Equal(t, "Validate order exists and is cancellable", p.DefaultSteps(task)[0])
	assert.Equal(t, "knowledge/api-specs/order-management-api.md", p.APISpec(task))
}
