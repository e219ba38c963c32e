package engine

import (
	"strings"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

// titleKeywords is checked in order, most specific first, so "memory_bytes"
// wins over "memory" and "network_rx" over a bare "network".
var titleKeywords = []struct {
	keyword string
	metric  models.MetricType
}{
	{"network_rx", models.MetricNetworkRxBytes},
	{"network_tx", models.MetricNetworkTxBytes},
	{"memory_bytes", models.MetricMemoryBytes},
	{"memory", models.MetricMemory},
	{"cpu", models.MetricCPU},
}

// ExtractMetricType infers the metric type from free-text insight titles.
// It is the only place titles are parsed; insights carrying a structured
// MetricType never reach it. Returns "" when no keyword matches.
func ExtractMetricType(title string) models.MetricType {
	lower := strings.ToLower(title)
	for _, kw := range titleKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.metric
		}
	}
	return ""
}

// InsightMetricType prefers the structured field and falls back to the title.
func InsightMetricType(insight models.Insight) models.MetricType {
	if insight.MetricType != "" {
		return insight.MetricType
	}
	return ExtractMetricType(insight.Title)
}
