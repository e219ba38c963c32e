package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

// RuleEngine derives suggested actions for insights from a YAML rule pack.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single suggested-action rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	MetricType    string   `yaml:"metric_type"`
	Severity      string   `yaml:"severity"`
	TitleContains []string `yaml:"title_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. A missing path or file yields a nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("loaded suggested-action rules", "path", path, "rules", len(cfg.Rules))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns the de-duplicated recommendations of every rule matching the insight.
func (e *RuleEngine) Recommend(insight models.Insight) []string {
	if e == nil {
		return nil
	}

	metricType := InsightMetricType(insight)

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.MetricType != "" && !strings.EqualFold(rule.Match.MetricType, string(metricType)) {
			continue
		}
		if rule.Match.Severity != "" && !strings.EqualFold(rule.Match.Severity, string(insight.Severity)) {
			continue
		}
		if len(rule.Match.TitleContains) > 0 && !titleContains(insight.Title, rule.Match.TitleContains) {
			continue
		}
		matched = models.AppendUnique(matched, rule.Recommendations...)
	}
	return matched
}

// SuggestedAction returns the first matching recommendation, or "".
func (e *RuleEngine) SuggestedAction(insight models.Insight) string {
	recs := e.Recommend(insight)
	if len(recs) == 0 {
		return ""
	}
	return recs[0]
}

func titleContains(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
