package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `{
  "reasoning": "split by concern",
  "subtasks": [
    {"id": "a", "objective": "gather data", "constraints": [], "estimatedMinutes": 5, "dependencies": []},
    {"id": "b", "objective": "analyze data", "constraints": [], "estimatedMinutes": 10, "dependencies": ["a"]}
  ],
  "executionPlan": {
    "isParallel": false,
    "steps": [
      {"order": 1, "subtaskIds": ["a"], "parallel": false},
      {"order": 2, "subtaskIds": ["b"], "parallel": false}
    ]
  },
  "estimatedTotalMinutes": 15,
  "complexityScore": 3
}`

func TestParseExtractsFromFencedBlock(t *testing.T) {
	content := "Here is the plan:\n```json\n" + validPlan + "\n```\nLet me know if you need changes."
	r := Parse(content)
	require.True(t, r.OK, "%v", r.Err)
	assert.Len(t, r.Data.Subtasks, 2)
}

func TestParseExtractsRawJSON(t *testing.T) {
	r := Parse(validPlan)
	require.True(t, r.OK, "%v", r.Err)
	assert.Equal(t, "a", r.Data.Subtasks[0].ID)
}

func TestParseBalancedBraceScanIgnoresBracesInStrings(t *testing.T) {
	withBraces := strings.Replace(validPlan, `"split by concern"`, `"split by concern: {a} then b}"`, 1)
	noisy := "prefix text, not json\n" + withBraces + "\nsuffix with a stray } brace"
	r := Parse(noisy)
	require.True(t, r.OK, "%v", r.Err)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	r := Parse("not json at all")
	require.False(t, r.OK)
}

func TestParseRejectsEmptySubtasks(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[],"executionPlan":{"isParallel":false,"steps":[]},"estimatedTotalMinutes":0,"complexityScore":2}`)
	require.False(t, r.OK)
	var pe *ParseError
	require.ErrorAs(t, r.Err, &pe)
	assert.Equal(t, "subtasks", pe.Field)
}

func TestParseRejectsMissingSubtaskID(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":[]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":1,"complexityScore":2}`)
	require.False(t, r.OK)
	var pe *ParseError
	require.ErrorAs(t, r.Err, &pe)
	assert.Equal(t, "subtasks[0].id", pe.Field)
}

func TestParseRejectsComplexityScoreOutOfRange(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":[]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":1,"complexityScore":11}`)
	require.False(t, r.OK)
	var pe *ParseError
	require.ErrorAs(t, r.Err, &pe)
	assert.Equal(t, "complexityScore", pe.Field)
}

func TestParseRejectsUnknownDependency(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":["ghost"]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":1,"complexityScore":2}`)
	require.False(t, r.OK)
	assert.Contains(t, r.Err.Error(), "does not exist")
}

func TestParseRejectsSelfDependency(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":["a"]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":1,"complexityScore":2}`)
	require.False(t, r.OK)
	assert.Contains(t, r.Err.Error(), "depend on itself")
}

func TestParseRejectsDuplicateSubtaskAcrossSteps(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":[]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false},{"order":2,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":1,"complexityScore":2}`)
	require.False(t, r.OK)
	assert.Contains(t, r.Err.Error(), "more than one step")
}

func TestParseDetectsCycle(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[
		{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":["b"]},
		{"id":"b","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":["a"]}
	],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a","b"],"parallel":false}]},"estimatedTotalMinutes":2,"complexityScore":2}`)
	require.False(t, r.OK)
	assert.Contains(t, r.Err.Error(), "Circular dependency")
}

func TestParseWarnsOnEstimateMismatchButStillSucceeds(t *testing.T) {
	r := Parse(`{"reasoning":"x","subtasks":[{"id":"a","objective":"o","constraints":[],"estimatedMinutes":1,"dependencies":[]}],"executionPlan":{"isParallel":false,"steps":[{"order":1,"subtaskIds":["a"],"parallel":false}]},"estimatedTotalMinutes":100,"complexityScore":2}`)
	require.True(t, r.OK, "%v", r.Err)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "deviates")
}

func TestFindCycleNoFalsePositiveOnDiamond(t *testing.T) {
	subtasks := []SubtaskSpec{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	}
	_, found := findCycle(subtasks)
	assert.False(t, found)
}
