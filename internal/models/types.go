// Package models defines the request, classification, plan and execution
// types shared by the classifier, planner, orchestrator and execution engine.
//
// JSON field names are camelCase to stay wire-compatible with existing
// opsguide clients.
package models

import (
	"errors"
	"time"
)

// ErrEmptyQuery is returned when a request carries a blank query.
var ErrEmptyQuery = errors.New("query is required")

// TaskID identifies a recognized operational intent.
type TaskID string

const (
	TaskCancelOrder       TaskID = "CANCEL_ORDER"
	TaskUpdateOrderStatus TaskID = "UPDATE_ORDER_STATUS"
	TaskCancelCase        TaskID = "CANCEL_CASE"
	TaskUpdateCaseStatus  TaskID = "UPDATE_CASE_STATUS"
	TaskUpdateSamples     TaskID = "UPDATE_SAMPLES"
	TaskUpdateStain       TaskID = "UPDATE_STAIN"
	TaskGenericOperation  TaskID = "GENERIC_OPERATION"
)

// AllTaskIDs lists every task identifier in declaration order.
var AllTaskIDs = []TaskID{
	TaskCancelOrder,
	TaskUpdateOrderStatus,
	TaskCancelCase,
	TaskUpdateCaseStatus,
	TaskUpdateSamples,
	TaskUpdateStain,
	TaskGenericOperation,
}

// Valid reports whether t is one of the known task identifiers.
func (t TaskID) Valid() bool {
	for _, known := range AllTaskIDs {
		if t == known {
			return true
		}
	}
	return false
}

// TaskPtr returns a pointer to t, for optional task fields.
func TaskPtr(t TaskID) *TaskID { return &t }

// UseCase is the classification use case. Only one exists today.
type UseCase string

// UseCaseOperationalAsk is serialized with its short code.
const UseCaseOperationalAsk UseCase = "U2"

// StepType is the closed set of remediation step kinds.
type StepType string

const (
	StepTypeValidation      StepType = "VALIDATION"
	StepTypePermissionCheck StepType = "PERMISSION_CHECK"
	StepTypeAPIExecution    StepType = "API_EXECUTION"
	StepTypeVerification    StepType = "VERIFICATION"
)

// StepStatus is the lifecycle state of a step execution.
type StepStatus string

const (
	StepStatusPending          StepStatus = "PENDING"
	StepStatusRunning          StepStatus = "RUNNING"
	StepStatusCompleted        StepStatus = "COMPLETED"
	StepStatusFailed           StepStatus = "FAILED"
	StepStatusApprovalRequired StepStatus = "APPROVAL_REQUIRED"
	// APPROVED and CANCELLED are not produced by the execution engine yet.
	StepStatusApproved  StepStatus = "APPROVED"
	StepStatusCancelled StepStatus = "CANCELLED"
)

// Mode selects the decision pipeline.
type Mode string

const (
	ModeCore Mode = "core"
	ModeRAG  Mode = "rag"
)

// Decision artifact status markers.
const (
	StatusProcessed             = "processed"
	StatusProcessedWithRAG      = "processed_with_rag"
	StatusProcessedWithFallback = "processed_with_fallback"
	StatusError                 = "error"
)

// Keys of the extracted-entities map.
const (
	EntityOrderID          = "order_id"
	EntityCaseID           = "case_id"
	EntitySampleID         = "sample_id"
	EntitySlideID          = "slide_id"
	EntityGenericID        = "entity_id"
	EntityTargetStatus     = "target_status"
	EntityType             = "entity_type"
	EntityService          = "service"
	EntityRAGResponse      = "rag_response"
	EntityKnowledgeSources = "knowledge_sources"
)

// OperationalRequest is a single inbound free-text request.
type OperationalRequest struct {
	RequestID   string                 `json:"requestId"`
	UserID      string                 `json:"userId"`
	Query       string                 `json:"query"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ClassificationResult is the output of the pattern classifier.
type ClassificationResult struct {
	UseCase           UseCase                `json:"useCase"`
	TaskID            *TaskID                `json:"taskId"`
	Confidence        float64                `json:"confidence"`
	ExtractedEntities map[string]interface{} `json:"extractedEntities"`
	Environment       string                 `json:"environment"`
	Service           string                 `json:"service"`
}

// StepMetadata describes how one remediation step would be executed.
type StepMetadata struct {
	StepName         string                 `json:"stepName"`
	AutoExecutable   bool                   `json:"autoExecutable"`
	RequiresApproval bool                   `json:"requiresApproval"`
	StepType         StepType               `json:"stepType"`
	APIEndpoint      *string                `json:"apiEndpoint"`
	HTTPMethod       string                 `json:"httpMethod"`
	APIParameters    map[string]interface{} `json:"apiParameters"`
}

// StepPlan is an ordered remediation plan.
type StepPlan struct {
	Description  string         `json:"description"`
	Runbook      string         `json:"runbook"`
	APISpec      string         `json:"apiSpec"`
	TypicalSteps []string       `json:"typicalSteps"`
	StepMetadata []StepMetadata `json:"stepMetadata,omitempty"`
}

// InputEcho repeats the caller's input in the decision artifact.
type InputEcho struct {
	Query       string `json:"query"`
	Environment string `json:"environment"`
	UserID      string `json:"userId"`
}

// ClassificationSummary is the classification block of a decision artifact.
type ClassificationSummary struct {
	UseCase     string  `json:"useCase"`
	TaskID      *string `json:"taskId"`
	Confidence  float64 `json:"confidence"`
	Service     string  `json:"service"`
	Environment string  `json:"environment"`
}

// DecisionArtifact is the response to an operational request.
type DecisionArtifact struct {
	RequestID         string                 `json:"requestId"`
	Status            string                 `json:"status"`
	Timestamp         time.Time              `json:"timestamp"`
	Input             InputEcho              `json:"input"`
	Classification    ClassificationSummary  `json:"classification"`
	ExtractedEntities map[string]interface{} `json:"extractedEntities"`
	NextSteps         *StepPlan              `json:"nextSteps"`
}

// NewErrorArtifact builds the fixed-shape artifact returned for rejected
// or failed requests.
func NewErrorArtifact(requestID, message string) *DecisionArtifact {
	taskID := "ERROR"
	return &DecisionArtifact{
		RequestID: requestID,
		Status:    StatusError,
		Timestamp: time.Now(),
		Input: InputEcho{
			Query:       "",
			Environment: "dev",
			UserID:      "",
		},
		Classification: ClassificationSummary{
			UseCase:     "ERROR",
			TaskID:      &taskID,
			Confidence:  0.0,
			Service:     "System",
			Environment: "dev",
		},
		ExtractedEntities: map[string]interface{}{},
		NextSteps: &StepPlan{
			Description: "Error: " + message,
			Runbook:     "knowledge/runbooks/error-handling.md",
			APISpec:     "knowledge/api-specs/error-api.md",
			TypicalSteps: []string{
				"Review error message",
				"Check request format",
				"Retry with corrected data",
			},
		},
	}
}

// StepExecutionRequest asks the engine to execute one plan step.
type StepExecutionRequest struct {
	RequestID         string                 `json:"requestId"`
	StepIndex         int                    `json:"stepIndex"`
	StepName          string                 `json:"stepName"`
	TaskID            string                 `json:"taskId"`
	ExtractedEntities map[string]interface{} `json:"extractedEntities,omitempty"`
	Context           map[string]interface{} `json:"context,omitempty"`
	// SkipApproval is a pointer so that "absent" differs from false.
	SkipApproval  *bool                  `json:"skipApproval,omitempty"`
	APIEndpoint   string                 `json:"apiEndpoint,omitempty"`
	HTTPMethod    string                 `json:"httpMethod,omitempty"`
	APIParameters map[string]interface{} `json:"apiParameters,omitempty"`
}

// StepResult is the outcome payload of an executed step.
type StepResult struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	StatusCode  int                    `json:"statusCode,omitempty"`
	APIResponse string                 `json:"apiResponse,omitempty"`
}

// StepExecution is the record of one execution call.
type StepExecution struct {
	StepID           string                 `json:"stepId"`
	RequestID        string                 `json:"requestId"`
	StepName         string                 `json:"stepName"`
	Status           StepStatus             `json:"status"`
	Type             StepType               `json:"type"`
	RequiresApproval bool                   `json:"requiresApproval"`
	StartedAt        *time.Time             `json:"startedAt,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
	Result           *StepResult            `json:"result,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
