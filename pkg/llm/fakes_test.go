package llm_test

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	failures int
	// err replaces the default failure when set.
	err      error
	calls    int
	messages []llms.MessageContent
	prompts  []string
}

func (m *fakeModel) failure() error {
	if m.err != nil {
		return m.err
	}
	return errors.New("connection refused")
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.messages = messages
	if m.calls <= m.failures {
		return nil, m.failure()
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(_ context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if m.calls <= m.failures {
		return "", m.failure()
	}
	return m.reply, nil
}

type fakeClient struct {
	mu       sync.Mutex
	batches  [][]string
	failures int
	err      error
	short    bool
}

func (c *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, texts)
	if len(c.batches) <= c.failures {
		if c.err != nil {
			return nil, c.err
		}
		return nil, errors.New("503 service unavailable")
	}
	n := len(texts)
	if c.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}
