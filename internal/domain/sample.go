package domain

import "time"

// MetricSample is the last known value of one metric.
type MetricSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricSpec declares a metric produced by a sensor group. Type selects the
// recording endpoint.
type MetricSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	NodeID string `yaml:"node_id"`
}

// Reading is the decoded output of one sensor read, keyed by field name.
type Reading map[string]float64

// Record is a single value pushed to the recording endpoint.
type Record struct {
	Metric string
	Type   string
	Value  float64
	Time   time.Time
}
