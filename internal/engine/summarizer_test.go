package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

func summaryInsights() []models.Insight {
	return []models.Insight{
		{Severity: models.SeverityCritical, Title: "Anomalous cpu usage on api", Description: strings.Repeat("x", 300)},
		{Severity: models.SeverityWarning, Title: "Anomalous memory usage on api", Description: "memory climbing"},
	}
}

func TestSummarizeBuildsPrompt(t *testing.T) {
	gen := &fakeGenerator{text: "CPU saturation on api is starving memory."}
	s := NewLLMSummarizer(gen, time.Second, nil)

	summary, ok := s.Summarize(context.Background(), summaryInsights(), models.CorrelationDedup)
	assert.True(t, ok)
	assert.Equal(t, "CPU saturation on api is starving memory.", summary)
	assert.Equal(t, summarySystemPrompt, gen.system)
	assert.Contains(t, gen.prompt, "Correlation type: dedup")
	assert.Contains(t, gen.prompt, "Alert count: 2")
	assert.Contains(t, gen.prompt, "1. [critical] Anomalous cpu usage on api: "+strings.Repeat("x", 200)+"\n")
	assert.NotContains(t, gen.prompt, strings.Repeat("x", 201))
	assert.Contains(t, gen.prompt, "2. [warning] Anomalous memory usage on api: memory climbing")
}

func TestSummarizeFailsOpen(t *testing.T) {
	cases := map[string]*fakeGenerator{
		"error":  {err: errors.New("boom")},
		"empty":  {text: "   "},
		"panic":  {panics: true},
		"no-ctx": {err: context.DeadlineExceeded},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewLLMSummarizer(gen, time.Second, nil)
			summary, ok := s.Summarize(context.Background(), summaryInsights(), models.CorrelationCascade)
			assert.False(t, ok)
			assert.Empty(t, summary)
		})
	}
}

func TestSummarizeRequiresTwoInsights(t *testing.T) {
	gen := &fakeGenerator{text: "unused"}
	s := NewLLMSummarizer(gen, time.Second, nil)

	_, ok := s.Summarize(context.Background(), summaryInsights()[:1], models.CorrelationDedup)
	assert.False(t, ok)
	assert.Zero(t, gen.calls)

	var nilSummarizer *LLMSummarizer
	_, ok = nilSummarizer.Summarize(context.Background(), summaryInsights(), models.CorrelationDedup)
	assert.False(t, ok)
}

func TestSummarizeCapsOutput(t *testing.T) {
	gen := &fakeGenerator{text: strings.Repeat("é", 800)}
	s := NewLLMSummarizer(gen, time.Second, nil)

	summary, ok := s.Summarize(context.Background(), summaryInsights(), models.CorrelationDedup)
	assert.True(t, ok)
	assert.Equal(t, 500, len([]rune(summary)))
}
