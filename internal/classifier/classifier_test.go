package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/models"
)

func classify(t *testing.T, query, env string) *models.ClassificationResult {
	t.Helper()
	c := NewPatternClassifier()
	result := c.Classify(&models.OperationalRequest{Query: query, Environment: env})
	require.NotNil(t, result)
	return result
}

func TestClassifyCancelCaseEndToEnd(t *testing.T) {
	result := classify(t, "cancel case CASE-2024-001", "")

	require.NotNil(t, result.TaskID)
	assert.Equal(t, models.TaskCancelCase, *result.TaskID)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, models.UseCaseOperationalAsk, result.UseCase)
	assert.Equal(t, "Case", result.Service)
	assert.Equal(t, "dev", result.Environment)
	assert.Equal(t, "2024-001", result.ExtractedEntities[models.EntityCaseID])
	assert.Equal(t, "case", result.ExtractedEntities[models.EntityType])
	assert.Equal(t, "Case", result.ExtractedEntities[models.EntityService])
}

func TestClassifyCancelOrderAnyWordOrder(t *testing.T) {
	queries := []string{
		"cancel order 12345",
		"Please CANCEL the Order",
		"order ORDER-2024-77 must be cancelled",
		"the order should be cancelled asap",
		"cancel the case order",
		"stopping orders",
	}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			result := classify(t, q, "")
			require.NotNil(t, result.TaskID)
			assert.Equal(t, models.TaskCancelOrder, *result.TaskID)
			assert.Equal(t, 0.9, result.Confidence)
		})
	}
}

func TestClassifyTaskTable(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  models.TaskID
	}{
		{"order status change", "change order ORDER-2024-1 status to completed", models.TaskUpdateOrderStatus},
		{"order transition", "transition order 55 to ready", models.TaskUpdateOrderStatus},
		{"close case", "close case CASE-2024-009", models.TaskCancelCase},
		{"case status set", "set case CASE-2024-3 status to on_hold", models.TaskUpdateCaseStatus},
		{"move case", "move case 7 to grossing", models.TaskUpdateCaseStatus},
		{"update samples", "update samples for case 9", models.TaskUpdateSamples},
		{"stain on slide", "stain for slide SLIDE-2024-4", models.TaskUpdateStain},
		{"first declared table entry wins", "update case status and cancel order", models.TaskCancelOrder},
		{"sample fallback", "samplesheet is wrong", models.TaskUpdateSamples},
		{"stain fallback", "restain slides", models.TaskUpdateStain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classify(t, tt.query, "")
			require.NotNil(t, result.TaskID, "no task for %q", tt.query)
			assert.Equal(t, tt.want, *result.TaskID)
		})
	}
}

func TestClassifyUnmatched(t *testing.T) {
	result := classify(t, "hello world", "")

	assert.Nil(t, result.TaskID)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, "Generic", result.Service)
	assert.Equal(t, "dev", result.Environment)
	assert.Equal(t, "unknown", result.ExtractedEntities[models.EntityType])
	assert.Equal(t, "Generic", result.ExtractedEntities[models.EntityService])
}

func TestClassifyEnvironment(t *testing.T) {
	tests := []struct {
		query string
		env   string
		want  string
	}{
		{"cancel order 1 in prod", "", "prod"},
		{"cancel order 1 on production", "dev", "prod"},
		{"cancel order 1 on stg", "", "staging"},
		{"cancel order 1 on dev-east", "prod", "dev"},
		{"cancel order 1", "staging", "staging"},
		{"cancel order 1", "", "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.query+"/"+tt.env, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(t, tt.query, tt.env).Environment)
		})
	}
}

func TestClassifyServicePriority(t *testing.T) {
	result := classify(t, "update stain on slide", "")

	require.NotNil(t, result.TaskID)
	assert.Equal(t, models.TaskUpdateStain, *result.TaskID)
	assert.Equal(t, "Slide", result.Service)
	assert.Equal(t, "slide", result.ExtractedEntities[models.EntityType])
}

func TestClassifyNilRequest(t *testing.T) {
	result := NewPatternClassifier().Classify(nil)

	assert.Nil(t, result.TaskID)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, "dev", result.Environment)
}

func TestIdentifyTaskExpectsLowerCase(t *testing.T) {
	task := IdentifyTask("cancel case 1")
	require.NotNil(t, task)
	assert.Equal(t, models.TaskCancelCase, *task)

	assert.Nil(t, IdentifyTask("nothing to see"))
}
