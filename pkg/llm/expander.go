package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/hrrag/internal/types"
)

const (
	DefaultAlternatives = 3

	defaultExpandTemplate = "Write %d alternative search queries for finding HR policy passages about the question below. " +
		"Use short keyword phrases, not sentences. One query per line, no numbering.\n\nQuestion: %s"
)

var numbering = regexp.MustCompile(`^\d+[.)]\s*`)

type ExpanderConfig struct {
	Alternatives int
	Temperature  float64
	Retry        RetryConfig
}

// Expander asks the chat model for alternative phrasings of a question.
type Expander struct {
	config ExpanderConfig
	llm    llms.Model
}

var _ types.QueryExpander = (*Expander)(nil)

func NewExpander(model llms.Model, config ExpanderConfig) *Expander {
	if config.Alternatives <= 0 {
		config.Alternatives = DefaultAlternatives
	}
	return &Expander{config: config, llm: model}
}

// Expand returns the original question followed by up to Alternatives
// distinct lowercased rewrites.
func (e *Expander) Expand(ctx context.Context, question string) ([]string, error) {
	prompt := fmt.Sprintf(defaultExpandTemplate, e.config.Alternatives, question)

	text, err := withRetry(ctx, e.config.Retry, func() (string, error) {
		return e.llm.Call(ctx, prompt, llms.WithTemperature(e.config.Temperature))
	})
	if err != nil {
		return []string{question}, fmt.Errorf("%w: query expansion: %w", types.ErrProviderUnavailable, err)
	}

	return ParseAlternatives(question, text, e.config.Alternatives), nil
}

// ParseAlternatives splits a model reply into queries. Lines are trimmed,
// list numbering like "1." or "2)" is removed and entries of three characters
// or fewer are dropped.
func ParseAlternatives(question, reply string, limit int) []string {
	queries := []string{question}
	seen := map[string]struct{}{question: {}}

	for _, line := range strings.Split(reply, "\n") {
		if len(queries)-1 >= limit {
			break
		}
		q := strings.TrimSpace(line)
		q = strings.TrimSpace(numbering.ReplaceAllString(q, ""))
		q = strings.TrimLeft(q, "-* ")
		if len([]rune(q)) <= 3 {
			continue
		}
		q = strings.ToLower(q)
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	return queries
}
