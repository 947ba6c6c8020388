// Package classifier maps free-text operational requests to a task, an
// environment, a service and a set of extracted entities.
//
// All rule tables are ordered and evaluated first-match-wins. Reordering a
// table changes classification results.
package classifier

import (
	"regexp"
	"strings"

	"github.com/opsguide/opsguide-ai/internal/models"
)

const (
	matchedConfidence   = 0.9
	unmatchedConfidence = 0.5

	defaultEnvironment = "dev"
	defaultService     = "Generic"
)

// taskRule binds a task to the patterns that identify it.
type taskRule struct {
	task     models.TaskID
	patterns []*regexp.Regexp
}

// labelRule binds a label (environment or service name) to its patterns.
type labelRule struct {
	label    string
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// taskRules is evaluated against the lower-cased query.
var taskRules = []taskRule{
	{
		task: models.TaskCancelOrder,
		patterns: compileAll(
			`\bcancel\b.*\border\b`,
			`\border\b.*\bcancel\b`,
			`\bterminate\b.*\border\b`,
			`\babort\b.*\border\b`,
			`\bstop\b.*\border\b`,
		),
	},
	{
		task: models.TaskUpdateOrderStatus,
		patterns: compileAll(
			`\bchange\b.*\border\b.*\bstatus\b`,
			`\border\b.*\bstatus\b.*\bchange\b`,
			`\bupdate\b.*\border\b.*\bstatus\b`,
			`\btransition\b.*\border\b`,
			`\bmove\b.*\border\b.*\bto\b`,
		),
	},
	{
		task: models.TaskCancelCase,
		patterns: compileAll(
			`\bcancel\b.*\bcase\b`,
			`\bcase\b.*\bcancel\b`,
			`\bterminate\b.*\bcase\b`,
			`\babort\b.*\bcase\b`,
			`\bstop\b.*\bcase\b`,
			`\bclose\b.*\bcase\b`,
			`\bcase\b.*\bclose\b`,
		),
	},
	{
		task: models.TaskUpdateCaseStatus,
		patterns: compileAll(
			`\bchange\b.*\bcase\b.*\bstatus\b`,
			`\bcase\b.*\bstatus\b.*\bchange\b`,
			`\bupdate\b.*\bcase\b.*\bstatus\b`,
			`\btransition\b.*\bcase\b`,
			`\bmove\b.*\bcase\b.*\bto\b`,
			`\bset\b.*\bcase\b.*\bstatus\b`,
		),
	},
	{
		task: models.TaskUpdateSamples,
		patterns: compileAll(
			`\bupdate\b.*\bsamples?\b`,
			`\bchange\b.*\bsamples?\b`,
			`\bmodify\b.*\bsamples?\b`,
			`\bsamples?\b.*\bupdate\b`,
		),
	},
	{
		task: models.TaskUpdateStain,
		patterns: compileAll(
			`\bupdate\b.*\bstain\b`,
			`\bchange\b.*\bstain\b`,
			`\bmodify\b.*\bstain\b`,
			`\bstain\b.*\bupdate\b`,
			`\bstain\b.*\bslide\b`,
		),
	},
}

// keywordRule is one step of the substring fallback used when no pattern in
// taskRules matched. A rule fires when the query contains any verb and
// the noun.
type keywordRule struct {
	verbs []string
	noun  string
	task  models.TaskID
}

var (
	cancelVerbs = []string{"cancel", "terminate", "abort", "stop"}
	updateVerbs = []string{"status", "change", "update", "transition"}
)

var keywordRules = []keywordRule{
	{verbs: cancelVerbs, noun: "order", task: models.TaskCancelOrder},
	{verbs: cancelVerbs, noun: "case", task: models.TaskCancelCase},
	{verbs: updateVerbs, noun: "order", task: models.TaskUpdateOrderStatus},
	{verbs: updateVerbs, noun: "case", task: models.TaskUpdateCaseStatus},
	{noun: "sample", task: models.TaskUpdateSamples},
	{noun: "stain", task: models.TaskUpdateStain},
}

func (r keywordRule) matches(queryLower string) bool {
	if !strings.Contains(queryLower, r.noun) {
		return false
	}
	if len(r.verbs) == 0 {
		return true
	}
	return containsAny(queryLower, r.verbs...)
}

var environmentRules = []labelRule{
	{label: "dev", patterns: compileAll(`\bdev\b`, `\bdevelopment\b`, `\bdev-\w+\b`)},
	{label: "staging", patterns: compileAll(`\bstaging\b`, `\bstage\b`, `\bstg\b`)},
	{label: "prod", patterns: compileAll(`\bprod\b`, `\bproduction\b`, `\bprd\b`)},
}

var serviceRules = []labelRule{
	{label: "Order", patterns: compileAll(`\border\b`, `\borders\b`, `\border management\b`)},
	{label: "Case", patterns: compileAll(`\bcase\b`, `\bcases\b`, `\bcase management\b`)},
	{label: "Sample", patterns: compileAll(`\bsample\b`, `\bsamples\b`, `\bsample management\b`)},
	{label: "Slide", patterns: compileAll(`\bslide\b`, `\bslides\b`, `\bslide management\b`)},
	{label: "Stain", patterns: compileAll(`\bstain\b`, `\bstains\b`, `\bstaining\b`)},
}

// PatternClassifier classifies operational requests with fixed rule tables.
// It is stateless apart from its extractor and safe for concurrent use.
type PatternClassifier struct {
	extractor *EntityExtractor
}

// NewPatternClassifier creates a classifier with its own entity extractor.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{extractor: NewEntityExtractor()}
}

// Classify produces the classification result for req. A nil request or a
// blank query yields an unmatched result; rejecting blank queries is the
// caller's job.
func (c *PatternClassifier) Classify(req *models.OperationalRequest) *models.ClassificationResult {
	var query, requestEnv string
	if req != nil {
		query = req.Query
		requestEnv = req.Environment
	}
	queryLower := strings.ToLower(query)

	task := IdentifyTask(queryLower)
	env := identifyLabel(environmentRules, queryLower, requestEnv)
	if env == "" {
		env = defaultEnvironment
	}
	service := identifyLabel(serviceRules, queryLower, defaultService)

	entities := c.extractor.Extract(query)
	entities[models.EntityService] = service

	confidence := unmatchedConfidence
	if task != nil {
		confidence = matchedConfidence
	}

	return &models.ClassificationResult{
		UseCase:           models.UseCaseOperationalAsk,
		TaskID:            task,
		Confidence:        confidence,
		ExtractedEntities: entities,
		Environment:       env,
		Service:           service,
	}
}

// IdentifyTask returns the task for an already lower-cased query, or nil
// when neither the pattern table nor the keyword fallback matches.
func IdentifyTask(queryLower string) *models.TaskID {
	for _, rule := range taskRules {
		for _, p := range rule.patterns {
			if p.MatchString(queryLower) {
				return models.TaskPtr(rule.task)
			}
		}
	}
	for _, rule := range keywordRules {
		if rule.matches(queryLower) {
			return models.TaskPtr(rule.task)
		}
	}
	return nil
}

func identifyLabel(rules []labelRule, queryLower, fallback string) string {
	for _, rule := range rules {
		for _, p := range rule.patterns {
			if p.MatchString(queryLower) {
				return rule.label
			}
		}
	}
	return fallback
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
