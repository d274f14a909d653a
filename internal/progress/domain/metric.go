package domain

import "fmt"

// Metric names one of the seven per-user counters a badge threshold is evaluated against.
type Metric string

const (
	MetricAppOpenedCount       Metric = "appOpenedCount"
	MetricMinSpent             Metric = "minSpent"
	MetricSubModuleUsageCount  Metric = "subModuleUsageCount"
	MetricChatbotUsageCount    Metric = "chatbotUsageCount"
	MetricKbaseCompletion      Metric = "kbaseCompletion"
	MetricCorrectnessOfAnswers Metric = "correctnessOfAnswers"
	MetricTotalAssessments     Metric = "totalAssessments"
)

// AllMetrics lists the metrics in the order they are stored and snapshotted.
var AllMetrics = []Metric{
	MetricAppOpenedCount,
	MetricMinSpent,
	MetricSubModuleUsageCount,
	MetricChatbotUsageCount,
	MetricKbaseCompletion,
	MetricCorrectnessOfAnswers,
	MetricTotalAssessments,
}

var metricColumns = map[Metric]string{
	MetricAppOpenedCount:       "app_opened_count",
	MetricMinSpent:             "min_spent",
	MetricSubModuleUsageCount:  "sub_module_usage_count",
	MetricChatbotUsageCount:    "chatbot_usage_count",
	MetricKbaseCompletion:      "kbase_completion",
	MetricCorrectnessOfAnswers: "correctness_of_answers",
	MetricTotalAssessments:     "total_assessments",
}

// Valid reports whether m is one of the known metrics.
func (m Metric) Valid() bool {
	_, ok := metricColumns[m]
	return ok
}

// Column returns the SQL column backing the metric. Only whitelisted names are returned.
func (m Metric) Column() string {
	return metricColumns[m]
}

// ParseMetric converts a metric name into a Metric.
func ParseMetric(name string) (Metric, error) {
	m := Metric(name)
	if !m.Valid() {
		return "", fmt.Errorf("unknown metric %q", name)
	}
	return m, nil
}

// MetricValue is one entry of a metric snapshot.
type MetricValue struct {
	Metric Metric `json:"metric"`
	Value  int    `json:"value"`
}

// Metrics holds the seven counters. It is used both for a user's progress
// and for a badge's threshold vector.
type Metrics struct {
	AppOpenedCount       int `json:"appOpenedCount"`
	MinSpent             int `json:"minSpent"`
	SubModuleUsageCount  int `json:"subModuleUsageCount"`
	ChatbotUsageCount    int `json:"chatbotUsageCount"`
	KbaseCompletion      int `json:"kbaseCompletion"`
	CorrectnessOfAnswers int `json:"correctnessOfAnswers"`
	TotalAssessments     int `json:"totalAssessments"`
}

// Get returns the value of a single metric.
func (m Metrics) Get(metric Metric) int {
	switch metric {
	case MetricAppOpenedCount:
		return m.AppOpenedCount
	case MetricMinSpent:
		return m.MinSpent
	case MetricSubModuleUsageCount:
		return m.SubModuleUsageCount
	case MetricChatbotUsageCount:
		return m.ChatbotUsageCount
	case MetricKbaseCompletion:
		return m.KbaseCompletion
	case MetricCorrectnessOfAnswers:
		return m.CorrectnessOfAnswers
	case MetricTotalAssessments:
		return m.TotalAssessments
	default:
		return 0
	}
}

// Set overwrites a single metric.
func (m *Metrics) Set(metric Metric, value int) {
	switch metric {
	case MetricAppOpenedCount:
		m.AppOpenedCount = value
	case MetricMinSpent:
		m.MinSpent = value
	case MetricSubModuleUsageCount:
		m.SubModuleUsageCount = value
	case MetricChatbotUsageCount:
		m.ChatbotUsageCount = value
	case MetricKbaseCompletion:
		m.KbaseCompletion = value
	case MetricCorrectnessOfAnswers:
		m.CorrectnessOfAnswers = value
	case MetricTotalAssessments:
		m.TotalAssessments = value
	}
}

// Snapshot returns the metrics as an ordered list.
func (m Metrics) Snapshot() []MetricValue {
	out := make([]MetricValue, 0, len(AllMetrics))
	for _, metric := range AllMetrics {
		out = append(out, MetricValue{Metric: metric, Value: m.Get(metric)})
	}
	return out
}

// Unmet returns the metrics that are below the given thresholds.
func (m Metrics) Unmet(thresholds Metrics) []Metric {
	var unmet []Metric
	for _, metric := range AllMetrics {
		if m.Get(metric) < thresholds.Get(metric) {
			unmet = append(unmet, metric)
		}
	}
	return unmet
}

// Meets reports whether every metric is at or above its threshold.
func (m Metrics) Meets(thresholds Metrics) bool {
	return len(m.Unmet(thresholds)) == 0
}
