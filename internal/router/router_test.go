package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteTemporalRedirect(t *testing.T) {
	plan := Route("latest plan", 5, "plan")
	assert.Equal(t, IntentTemporal, plan.Intent)
	require := plan.Redirect
	if require == nil {
		t.Fatal("expected redirect for temporal query")
	}
	assert.Equal(t, "plan", require.Category)
	assert.Equal(t, 5, require.Limit)
}

func TestRouteLexicalForQuotedString(t *testing.T) {
	plan := Route(`find "exact phrase" please`, 5, "")
	assert.Equal(t, IntentLexical, plan.Intent)
}

func TestRouteAggregative(t *testing.T) {
	plan := Route("how many facts do we have", 5, "")
	assert.Equal(t, IntentAggregative, plan.Intent)
}

func TestRouteSemanticDefault(t *testing.T) {
	plan := Route("what does Alice like to do on weekends", 5, "")
	assert.Equal(t, IntentSemantic, plan.Intent)
}

func TestRouteDateTriggersTemporal(t *testing.T) {
	plan := Route("what happened on 2024-03-01", 5, "")
	assert.Equal(t, IntentTemporal, plan.Intent)
	assert.NotNil(t, plan.Redirect)
}

func TestListOptionsFromRedirect(t *testing.T) {
	plan := Route("latest update", 5, "fact")
	opts := ListOptionsFromRedirect(plan.Redirect)
	assert.Equal(t, "fact", opts.Filter.Category)
	assert.True(t, opts.Filter.ExcludeSuperseded)
}
