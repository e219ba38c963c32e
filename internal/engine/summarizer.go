package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/metrics"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

const (
	summaryDescriptionLimit = 200
	summaryOutputLimit      = 500

	summarySystemPrompt = "You are a container operations assistant. Summarize the correlated " +
		"alerts below as one short incident summary for an on-call engineer. Name the likely " +
		"root cause and the affected containers. Answer in at most two sentences without markdown."
)

// TextGenerator produces free text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Summarizer turns a correlated insight group into a short natural-language summary.
type Summarizer interface {
	Summarize(ctx context.Context, insights []models.Insight, correlationType models.CorrelationType) (string, bool)
}

// LLMSummarizer is a fail-open Summarizer over a TextGenerator.
type LLMSummarizer struct {
	generator TextGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLLMSummarizer returns a summarizer bounded by timeout per call.
func NewLLMSummarizer(generator TextGenerator, timeout time.Duration, logger *slog.Logger) *LLMSummarizer {
	return &LLMSummarizer{
		generator: generator,
		timeout:   timeout,
		logger:    utils.Component(logger, "summarizer"),
	}
}

// Summarize returns the generated summary and true, or "" and false on any
// failure. It needs at least two insights.
func (s *LLMSummarizer) Summarize(ctx context.Context, insights []models.Insight, correlationType models.CorrelationType) (summary string, ok bool) {
	if s == nil || s.generator == nil || len(insights) < 2 {
		return "", false
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("text generator panicked", "panic", r)
			summary, ok = "", false
		}
		metrics.ObserveSummary(ok)
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.generator.Generate(ctx, BuildSummaryPrompt(insights, correlationType), summarySystemPrompt)
	if err != nil {
		s.logger.Warn("incident summary generation failed", "error", err)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("incident summary generation returned empty text")
		return "", false
	}
	return truncateRunes(text, summaryOutputLimit), true
}

// BuildSummaryPrompt renders the numbered alert list sent to the generator.
func BuildSummaryPrompt(insights []models.Insight, correlationType models.CorrelationType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Correlation type: %s\n", correlationType)
	fmt.Fprintf(&b, "Alert count: %d\n\nAlerts:\n", len(insights))
	for i, insight := range insights {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n",
			i+1,
			insight.Severity,
			insight.Title,
			truncateRunes(insight.Description, summaryDescriptionLimit),
		)
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
