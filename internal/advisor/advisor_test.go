package advisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutAPIKeyIsDisabled(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	a := New()
	assert.False(t, a.enabled)
}

func TestNewWithDisableFlagIsDisabled(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("SPECFLOW_DISABLE_ADVISOR", "1")
	a := New()
	assert.False(t, a.enabled)
}

func TestSummarizeDisabledIsNoopNoError(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	a := New()
	summary, err := a.Summarize(context.Background(), "workflow went stale", "no output for 10m")
	require.NoError(t, err)
	assert.Equal(t, "", summary)
}

func TestNewWithAPIKeyIsEnabled(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("SPECFLOW_DISABLE_ADVISOR", "")
	a := New()
	assert.True(t, a.enabled)
	assert.NotNil(t, a.limiter)
}
