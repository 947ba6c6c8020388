package classifier

import (
	"regexp"
	"strings"

	"github.com/opsguide/opsguide-ai/internal/models"
)

// typedIDRule extracts one kind of domain identifier, e.g. CASE-2024-001.
type typedIDRule struct {
	key     string
	pattern *regexp.Regexp
}

// Typed identifiers are matched in this order; all of them may co-populate.
var typedIDRules = []typedIDRule{
	{key: models.EntityOrderID, pattern: regexp.MustCompile(`(?i)ORDER[_-]?(\d{4})[_-]?([\w-]+)`)},
	{key: models.EntityCaseID, pattern: regexp.MustCompile(`(?i)CASE[_-]?(\d{4})[_-]?([\w-]+)`)},
	{key: models.EntitySampleID, pattern: regexp.MustCompile(`(?i)SAMPLE[_-]?(\d{4})[_-]?([\w-]+)`)},
	{key: models.EntitySlideID, pattern: regexp.MustCompile(`(?i)SLIDE[_-]?(\d{4})[_-]?([\w-]+)`)},
}

var genericIDPattern = regexp.MustCompile(`(?i)\b(\w+)[\s_-]?(\d+)\b`)

// statusKeywords is ordered; the first keyword contained in the query wins,
// regardless of where it appears in the text.
var statusKeywords = []string{
	"pending", "in_progress", "completed", "cancelled", "on_hold",
	"failed", "archived", "closed", "active", "inactive", "processing",
	"ready", "waiting", "approved", "rejected", "draft", "published",
}

// entityTypes is the priority list for entity_type.
var entityTypes = []string{"order", "case", "sample", "slide", "stain"}

const unknownEntityType = "unknown"

// EntityExtractor pulls identifiers, a target status and an entity type out
// of free text. It holds no state and is safe for concurrent use.
type EntityExtractor struct{}

// NewEntityExtractor creates an EntityExtractor.
func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

// Extract returns every entity found in query. Only keys that were found are
// present, except entity_type which is always set.
func (e *EntityExtractor) Extract(query string) map[string]interface{} {
	entities := make(map[string]interface{})

	for _, rule := range typedIDRules {
		if id, ok := matchID(rule.pattern, query); ok {
			entities[rule.key] = id
		}
	}

	// The generic identifier only applies when nothing typed was found.
	if len(entities) == 0 {
		if id, ok := e.GenericID(query); ok {
			entities[models.EntityGenericID] = id
		}
	}

	if status, ok := e.TargetStatus(query); ok {
		entities[models.EntityTargetStatus] = status
	}

	entities[models.EntityType] = e.EntityType(query)

	return entities
}

// TypedID returns the identifier for the given entity key (order_id,
// case_id, sample_id, slide_id).
func (e *EntityExtractor) TypedID(key, query string) (string, bool) {
	for _, rule := range typedIDRules {
		if rule.key == key {
			return matchID(rule.pattern, query)
		}
	}
	return "", false
}

// GenericID returns the first "word-number" identifier in query.
func (e *EntityExtractor) GenericID(query string) (string, bool) {
	return matchID(genericIDPattern, query)
}

// TargetStatus returns the first status keyword, in vocabulary order,
// contained in query.
func (e *EntityExtractor) TargetStatus(query string) (string, bool) {
	lower := strings.ToLower(query)
	for _, status := range statusKeywords {
		if strings.Contains(lower, status) {
			return status, true
		}
	}
	return "", false
}

// EntityType returns the highest-priority domain noun in query.
func (e *EntityExtractor) EntityType(query string) string {
	lower := strings.ToLower(query)
	for _, t := range entityTypes {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return unknownEntityType
}

func matchID(pattern *regexp.Regexp, query string) (string, bool) {
	m := pattern.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return m[1] + "-" + m[2], true
}
