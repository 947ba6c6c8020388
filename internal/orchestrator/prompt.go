package orchestrator

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/opsguide/opsguide-ai/internal/memory/vector"
)

const (
	promptPreamble    = "You are an operational intelligence assistant. Use the following knowledge base context to provide accurate, citation-backed responses.\n\n"
	promptInstruction = "Provide a detailed response with specific API endpoints, procedures, and safety considerations. Include citations to the knowledge base sources."
)

// BuildPrompt renders the reasoning prompt for query and the retrieved chunks.
func BuildPrompt(query string, chunks []vector.Chunk) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("Knowledge Base Context:\n")

	for _, c := range chunks {
		sb.WriteString("Source: ")
		sb.WriteString(c.Source)
		sb.WriteString("\nContent: ")
		sb.WriteString(c.Content)
		sb.WriteString("\nRelevance Score: ")
		sb.WriteString(formatScore(c.Score))
		sb.WriteString("\n\n")
	}

	sb.WriteString("User Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(promptInstruction)
	return sb.String()
}

// formatScore prints a score the way existing prompts were rendered:
// shortest round-trip digits, always with a fractional part, and
// scientific notation outside [1e-3, 1e7).
func formatScore(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'E', -1, 64), "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mantissa + "E" + strconv.Itoa(e)
}

var numberedLine = regexp.MustCompile(`^\d+\.\s+.*$`)

// ExtractSteps returns the numbered-list lines of answer, trimmed, in order.
// Lines are trimmed before matching, so indented list items count.
func ExtractSteps(answer string) []string {
	var steps []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if numberedLine.MatchString(line) {
			steps = append(steps, line)
		}
	}
	return steps
}
