package flowdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond is a -> (b, c) -> d.
func diamondDefinition() *Definition {
	return &Definition{
		Name:      "diamond",
		TaskQueue: "default",
		Steps: []Step{
			{Name: "a", Activity: "act_a"},
			{Name: "b", Activity: "act_b", DependsOn: []string{"a"}},
			{Name: "c", Activity: "act_c", DependsOn: []string{"a"}},
			{Name: "d", Activity: "act_d", DependsOn: []string{"b", "c"}},
		},
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_AcceptsDiamond(t *testing.T) {
	assert.NoError(t, Validate(diamondDefinition()))
}

func TestValidate_EmptyDefinition(t *testing.T) {
	def := &Definition{Name: "empty", TaskQueue: "default"}
	assert.ErrorIs(t, Validate(def), ErrEmptyDefinition)
}

func TestValidate_DuplicateStepName(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Steps: []Step{
			{Name: "a", Activity: "x"},
			{Name: "a", Activity: "y"},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrDuplicateStep)
}

func TestValidate_SelfDependency(t *testing.T) {
	def := &Definition{
		Name: "selfie",
		Steps: []Step{
			{Name: "a", Activity: "x", DependsOn: []string{"a"}},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrSelfDependency)
}

func TestValidate_CycleDetected(t *testing.T) {
	def := &Definition{
		Name: "cycle",
		Steps: []Step{
			{Name: "a", Activity: "x", DependsOn: []string{"c"}},
			{Name: "b", Activity: "y", DependsOn: []string{"a"}},
			{Name: "c", Activity: "z", DependsOn: []string{"b"}},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrCircularDependency)
}

// =============================================================================
// Frontier Tests
// =============================================================================

func TestFrontier_InitialRoots(t *testing.T) {
	def := diamondDefinition()

	ready := Frontier(def, nil, nil, nil)
	assert.Equal(t, []string{"a"}, stepNames(ready))
}

func TestFrontier_UnblocksDependents(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true}

	ready := Frontier(def, completed, nil, nil)
	assert.Equal(t, []string{"b", "c"}, stepNames(ready))
}

func TestFrontier_JoinWaitsForAllDependencies(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true, "b": true}

	ready := Frontier(def, completed, nil, nil)
	assert.Equal(t, []string{"c"}, stepNames(ready))

	completed["c"] = true
	ready = Frontier(def, completed, nil, nil)
	assert.Equal(t, []string{"d"}, stepNames(ready))
}

func TestFrontier_SkipsInFlightAndFailed(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true}
	inFlight := map[string]bool{"b": true}
	failed := map[string]bool{"c": true}

	ready := Frontier(def, completed, failed, inFlight)
	assert.Empty(t, ready)
}

// =============================================================================
// Downstream Tests
// =============================================================================

func TestDownstream_TransitiveDependents(t *testing.T) {
	def := diamondDefinition()

	assert.Equal(t, []string{"b", "c", "d"}, Downstream(def, "a"))
	assert.Equal(t, []string{"d"}, Downstream(def, "b"))
	assert.Empty(t, Downstream(def, "d"))
}

// =============================================================================
// Settlement Tests
// =============================================================================

func TestAllSettled_AllCompleted(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true, "b": true, "c": true, "d": true}

	assert.True(t, AllSettled(def, completed, nil))
}

func TestAllSettled_FailureMakesDependentsUnreachable(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true, "c": true}
	failed := map[string]bool{"b": true}

	// d can never run once b failed, so the workflow is settled.
	assert.True(t, AllSettled(def, completed, failed))
}

func TestAllSettled_PendingStepsRemain(t *testing.T) {
	def := diamondDefinition()
	completed := map[string]bool{"a": true}

	require.False(t, AllSettled(def, completed, nil))
}
