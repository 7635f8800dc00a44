package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ParseError cites the offending field path.
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseResult is the outcome of Parse: either a validated PlanningOutput or
// a field-tagged error plus the raw text that failed to validate, so a
// feedback-retry prompt can quote it.
type ParseResult struct {
	OK       bool
	Data     *PlanningOutput
	Err      error
	Raw      string
	Warnings []string
}

var fencedBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
var greedyBraceRE = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON implements four-step extraction order: first
// match wins.
func extractJSON(content string) string {
	if m := fencedBlockRE.FindStringSubmatch(content); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") {
			return inner
		}
	}

	if span, ok := balancedBraceScan(content); ok {
		return span
	}

	if m := greedyBraceRE.FindString(content); m != "" {
		return m
	}

	return strings.TrimSpace(content)
}

// balancedBraceScan finds the first '{' and returns the matching balanced
// span, honoring string literals and escapes so braces inside JSON string
// values don't confuse the scan.
func balancedBraceScan(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// Parse converts a completion's content string into a validated
// PlanningOutput, applying extraction then shape/referential/cycle
// validation. Parse is pure: no network calls.
func Parse(content string) ParseResult {
	raw := extractJSON(content)

	var out PlanningOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ParseResult{OK: false, Err: &ParseError{Field: "", Message: "invalid JSON: " + err.Error()}, Raw: raw}
	}

	if err := validateShape(out); err != nil {
		return ParseResult{OK: false, Err: err, Raw: raw}
	}

	if err := validateStructure(out); err != nil {
		return ParseResult{OK: false, Err: err, Raw: raw}
	}

	var warnings []string
	if out.EstimatedTotalMinutes > 0 {
		sum := 0.0
		for _, st := range out.Subtasks {
			sum += st.EstimatedMinutes
		}
		if math.Abs(sum-out.EstimatedTotalMinutes) > 0.5*out.EstimatedTotalMinutes {
			warnings = append(warnings, fmt.Sprintf(
				"sum(estimatedMinutes)=%.1f deviates from estimatedTotalMinutes=%.1f by more than 50%%",
				sum, out.EstimatedTotalMinutes))
		}
	}

	return ParseResult{OK: true, Data: &out, Raw: raw, Warnings: warnings}
}

func validateShape(out PlanningOutput) error {
	if strings.TrimSpace(out.Reasoning) == "" {
		// reasoning is documentation-only; an empty string is tolerated as
		// long as the field is present in the JSON, which json.Unmarshal
		// already guarantees by zero-valuing absent fields.
	}
	if len(out.Subtasks) == 0 {
		return &ParseError{Field: "subtasks", Message: "must be a non-empty array"}
	}
	for i, st := range out.Subtasks {
		path := fmt.Sprintf("subtasks[%d]", i)
		if strings.TrimSpace(st.ID) == "" {
			return &ParseError{Field: path + ".id", Message: "must be non-empty"}
		}
		if strings.TrimSpace(st.Objective) == "" {
			return &ParseError{Field: path + ".objective", Message: "must be non-empty"}
		}
		if st.EstimatedMinutes < 0 {
			return &ParseError{Field: path + ".estimatedMinutes", Message: "must be >= 0"}
		}
		if st.Constraints == nil {
			return &ParseError{Field: path + ".constraints", Message: "must be an array"}
		}
		if st.Dependencies == nil {
			return &ParseError{Field: path + ".dependencies", Message: "must be an array"}
		}
	}
	if out.EstimatedTotalMinutes < 0 {
		return &ParseError{Field: "estimatedTotalMinutes", Message: "must be >= 0"}
	}
	if out.ComplexityScore < 1 || out.ComplexityScore > 10 {
		return &ParseError{Field: "complexityScore", Message: "must be in [1, 10]"}
	}
	if out.ExecutionPlan.Steps == nil {
		return &ParseError{Field: "executionPlan.steps", Message: "must be an array"}
	}
	for i, step := range out.ExecutionPlan.Steps {
		path := fmt.Sprintf("executionPlan.steps[%d]", i)
		if step.Order < 1 {
			return &ParseError{Field: path + ".order", Message: "must be >= 1"}
		}
		if len(step.SubtaskIDs) == 0 {
			return &ParseError{Field: path + ".subtaskIds", Message: "must be a non-empty array"}
		}
	}
	return nil
}

// validateStructure enforces referential/structural rules:
// every referenced id exists, no self-dependency, the dependency graph is
// acyclic, and no sub-task id appears in more than one step.
func validateStructure(out PlanningOutput) error {
	ids := make(map[string]bool, len(out.Subtasks))
	for _, st := range out.Subtasks {
		if ids[st.ID] {
			return &ParseError{Field: "subtasks", Message: fmt.Sprintf("duplicate subtask id %q", st.ID)}
		}
		ids[st.ID] = true
	}

	for _, st := range out.Subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				return &ParseError{Field: fmt.Sprintf("subtasks[%s].dependencies", st.ID), Message: "a subtask may not depend on itself"}
			}
			if !ids[dep] {
				return &ParseError{Field: fmt.Sprintf("subtasks[%s].dependencies", st.ID), Message: fmt.Sprintf("dependency %q does not exist", dep)}
			}
		}
	}

	stepSeen := make(map[string]bool)
	for i, step := range out.ExecutionPlan.Steps {
		for _, id := range step.SubtaskIDs {
			if !ids[id] {
				return &ParseError{Field: fmt.Sprintf("executionPlan.steps[%d].subtaskIds", i), Message: fmt.Sprintf("subtask %q does not exist", id)}
			}
			if stepSeen[id] {
				return &ParseError{Field: fmt.Sprintf("executionPlan.steps[%d].subtaskIds", i), Message: fmt.Sprintf("subtask %q appears in more than one step", id)}
			}
			stepSeen[id] = true
		}
	}

	if cyclePath, ok := findCycle(out.Subtasks); ok {
		return &ParseError{Field: "subtasks", Message: "Circular dependency detected: " + cyclePath}
	}

	return nil
}

// findCycle runs a grey/black-coloring DFS over the dependency graph,
// grounded on orchestration/workflow_dag.go's hasCycleDFS: a revisit of a
// grey (in-progress) node signals a cycle.
func findCycle(subtasks []SubtaskSpec) (string, bool) {
	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		deps[st.ID] = st.Dependencies
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(subtasks))
	var path []string

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = grey
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				return strings.Join(append(append([]string{}, path...), dep), " -> "), true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return "", false
	}

	for _, st := range subtasks {
		if color[st.ID] == white {
			if cyc, found := visit(st.ID); found {
				return cyc, true
			}
		}
	}
	return "", false
}
