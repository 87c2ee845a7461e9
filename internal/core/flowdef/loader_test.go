package flowdef

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := ParseDefinition("test.hcl", []byte(src))
	require.NoError(t, err)
	return def
}

// =============================================================================
// Parsing Tests
// =============================================================================

func TestParseDefinition_Minimal(t *testing.T) {
	def := parse(t, `
workflow "greet" {
  step "say_hello" {
    activity = "send_greeting"
  }
}
`)

	assert.Equal(t, "greet", def.Name)
	assert.Equal(t, "default", def.TaskQueue)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, "say_hello", def.Steps[0].Name)
	assert.Equal(t, "send_greeting", def.Steps[0].Activity)
	assert.Nil(t, def.Steps[0].Retry)
}

func TestParseDefinition_FullFeatures(t *testing.T) {
	def := parse(t, `
workflow "provision" {
  task_queue = "infra"

  step "create_db" {
    activity = "provision_database"
  }

  step "migrate" {
    activity   = "run_migrations"
    task_queue = "migrations"
    depends_on = ["create_db"]
    delay      = "5s"

    retry {
      max_attempts         = 5
      initial_interval     = "2s"
      backoff_coefficient  = 1.5
      max_interval         = "1m"
      non_retryable_errors = ["schema_conflict"]
    }
  }
}
`)

	assert.Equal(t, "infra", def.TaskQueue)
	require.Len(t, def.Steps, 2)

	migrate, ok := def.StepByName("migrate")
	require.True(t, ok)
	assert.Equal(t, []string{"create_db"}, migrate.DependsOn)
	assert.Equal(t, 5*time.Second, migrate.Delay)
	assert.Equal(t, "migrations", migrate.TaskQueue)

	require.NotNil(t, migrate.Retry)
	assert.Equal(t, 5, migrate.Retry.MaximumAttempts)
	assert.Equal(t, 2*time.Second, migrate.Retry.InitialInterval)
	assert.Equal(t, 1.5, migrate.Retry.BackoffCoefficient)
	assert.Equal(t, time.Minute, migrate.Retry.MaximumInterval)
	assert.Equal(t, []string{"schema_conflict"}, migrate.Retry.NonRetryableErrorTypes)
}

func TestParseDefinition_InvalidHCL(t *testing.T) {
	_, err := ParseDefinition("bad.hcl", []byte(`workflow "x" {`))
	assert.Error(t, err)
}

func TestParseDefinition_RequiresExactlyOneWorkflow(t *testing.T) {
	_, err := ParseDefinition("none.hcl", []byte(``))
	assert.ErrorIs(t, err, ErrNoWorkflowBlock)

	_, err = ParseDefinition("two.hcl", []byte(`
workflow "a" {
  step "s" { activity = "x" }
}
workflow "b" {
  step "s" { activity = "x" }
}
`))
	assert.ErrorIs(t, err, ErrNoWorkflowBlock)
}

func TestParseDefinition_MissingActivity(t *testing.T) {
	_, err := ParseDefinition("test.hcl", []byte(`
workflow "greet" {
  step "say_hello" {
    activity = ""
  }
}
`))
	assert.ErrorIs(t, err, ErrMissingActivity)
}

func TestParseDefinition_InvalidDuration(t *testing.T) {
	_, err := ParseDefinition("test.hcl", []byte(`
workflow "greet" {
  step "say_hello" {
    activity = "send_greeting"
    delay    = "soon"
  }
}
`))
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestParseDefinition_UnknownDependencySuggests(t *testing.T) {
	_, err := ParseDefinition("test.hcl", []byte(`
workflow "greet" {
  step "say_hello" {
    activity = "send_greeting"
  }
  step "follow_up" {
    activity   = "send_followup"
    depends_on = ["say_helo"]
  }
}
`))
	require.ErrorIs(t, err, ErrUnknownDependency)
	assert.Contains(t, err.Error(), `did you mean "say_hello"?`)
}

// =============================================================================
// Accessor Tests
// =============================================================================

func TestQueueFor_StepOverride(t *testing.T) {
	def := parse(t, `
workflow "provision" {
  task_queue = "infra"
  step "a" {
    activity = "x"
  }
  step "b" {
    activity   = "y"
    task_queue = "special"
  }
}
`)

	assert.Equal(t, "infra", def.QueueFor("a"))
	assert.Equal(t, "special", def.QueueFor("b"))
	assert.Equal(t, "infra", def.QueueFor("missing"))
}

func TestRetryPolicyFor_DefaultsWhenUnset(t *testing.T) {
	def := parse(t, `
workflow "greet" {
  step "a" {
    activity = "x"
  }
}
`)

	policy := def.RetryPolicyFor("a")
	assert.Equal(t, time.Second, policy.InitialInterval)
	assert.Equal(t, 2.0, policy.BackoffCoefficient)
}
