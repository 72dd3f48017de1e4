package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/llm"
)

func TestParseAlternatives(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		limit int
		want  []string
	}{
		{
			name:  "numbered lines",
			reply: "1. Sick Leave Days\n2) medical leave allowance\n3. paid sick time",
			limit: 3,
			want:  []string{"How many sick days?", "sick leave days", "medical leave allowance", "paid sick time"},
		},
		{
			name:  "short and blank lines dropped",
			reply: "\n  pto \n\nannual leave\n",
			limit: 3,
			want:  []string{"How many sick days?", "annual leave"},
		},
		{
			name:  "duplicates removed",
			reply: "annual leave\nANNUAL LEAVE\n- annual leave",
			limit: 3,
			want:  []string{"How many sick days?", "annual leave"},
		},
		{
			name:  "limit applied",
			reply: "one query\ntwo query\nthree query\nfour query",
			limit: 2,
			want:  []string{"How many sick days?", "one query", "two query"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ParseAlternatives("How many sick days?", tt.reply, tt.limit))
		})
	}
}

func TestExpand(t *testing.T) {
	model := &fakeModel{reply: "1. remote work policy\n2. work from home rules"}
	exp := llm.NewExpander(model, llm.ExpanderConfig{})

	queries, err := exp.Expand(context.Background(), "Can I work from home?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Can I work from home?", "remote work policy", "work from home rules"}, queries)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Can I work from home?")
}

func TestExpand_FailureKeepsQuestion(t *testing.T) {
	exp := llm.NewExpander(&fakeModel{failures: 1, err: context.Canceled}, llm.ExpanderConfig{})

	queries, err := exp.Expand(context.Background(), "Can I work from home?")
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"Can I work from home?"}, queries)
}
