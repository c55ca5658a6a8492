package registration

import (
	"testing"
	"time"

	"github.com/logimos/reactor/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: onboarding
initial: START
states:
  - id: START
  - id: CHARGE
    timeout: 5s
    unlockAfter: true
    retry:
      maxAttempts: 3
      strategy: exponential
      initialDelay: 100ms
      maxDelay: 2s
      multiplier: 2
  - id: END
transitions:
  - from: [START]
    to: CHARGE
  - from: [CHARGE]
    to: END
concurrency:
  groupByField: userId
  mode: SEQUENTIAL
`

func TestLoadYAML(t *testing.T) {
	spec, err := LoadYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "onboarding", spec.Name)
	assert.Equal(t, "START", spec.Initial)
	require.Len(t, spec.States, 3)

	charge := spec.States[1]
	assert.Equal(t, "CHARGE", charge.ID)
	assert.Equal(t, 5*time.Second, charge.Timeout)
	assert.True(t, charge.UnlockAfter)
	require.NotNil(t, charge.Retry)
	assert.Equal(t, 3, charge.Retry.MaxAttempts)
	assert.Equal(t, engine.RetryExponential, charge.Retry.Strategy)
	assert.Equal(t, 100*time.Millisecond, charge.Retry.InitialDelay)
	assert.Equal(t, 2*time.Second, charge.Retry.MaxDelay)

	require.NotNil(t, spec.Concurrency)
	assert.Equal(t, engine.ModeSequential, spec.Concurrency.Mode)
	assert.Equal(t, "userId", spec.Concurrency.GroupByField)

	require.Len(t, spec.Transitions, 2)
	assert.Equal(t, "CHARGE", spec.Transitions[0].To)
}

func TestLoadYAML_RejectsBadTimeout(t *testing.T) {
	_, err := LoadYAML([]byte(`
name: bad
initial: A
states:
  - id: A
    timeout: not-a-duration
`))
	assert.Error(t, err)
}

const conditionalYAML = `
name: branch
initial: START
states:
  - id: START
  - id: STEP_A
  - id: END
conditionalTransitions:
  - from: START
    conditions:
      - to: END
    default: STEP_A
`

func TestLoadYAML_ConditionalTransitions(t *testing.T) {
	spec, err := LoadYAML([]byte(conditionalYAML))
	require.NoError(t, err)

	require.Len(t, spec.ConditionalTransitions, 1)
	group := spec.ConditionalTransitions[0]
	assert.Equal(t, "START", group.From)
	require.Len(t, group.Conditions, 1)
	assert.Equal(t, "END", group.Conditions[0].To)
	assert.Nil(t, group.Conditions[0].Guard, "guards are code-side and attached later")
	require.NotNil(t, group.Default)
	assert.Equal(t, "STEP_A", *group.Default)

	called := false
	guard := func(ctx *engine.WorkflowContext) bool {
		called = true
		return true
	}
	require.NoError(t, spec.AttachGuard("START", 0, guard, map[string]interface{}{"STEP_A": map[string]interface{}{"skipped": true}}))
	require.NotNil(t, spec.ConditionalTransitions[0].Conditions[0].Guard)
	spec.ConditionalTransitions[0].Conditions[0].Guard(&engine.WorkflowContext{})
	assert.True(t, called)

	assert.Error(t, spec.AttachGuard("START", 5, guard, nil))
	assert.Error(t, spec.AttachGuard("GHOST", 0, guard, nil))
}

func TestWorkflowSpec_AttachFactory(t *testing.T) {
	spec, err := LoadYAML([]byte(sampleYAML))
	require.NoError(t, err)

	require.NoError(t, spec.AttachFactory("START", noopFactory("START")))
	assert.NotNil(t, spec.States[0].Factory)

	err = spec.AttachFactory("GHOST", noopFactory("GHOST"))
	assert.Error(t, err)
}
