package models

import "time"

// MetricType enumerates the container metrics collected from the fleet.
type MetricType string

const (
	MetricCPU            MetricType = "cpu"
	MetricMemory         MetricType = "memory"
	MetricMemoryBytes    MetricType = "memory_bytes"
	MetricNetworkRxBytes MetricType = "network_rx_bytes"
	MetricNetworkTxBytes MetricType = "network_tx_bytes"
)

// MetricTypes lists every known metric type in a stable order.
var MetricTypes = []MetricType{
	MetricCPU,
	MetricMemory,
	MetricMemoryBytes,
	MetricNetworkRxBytes,
	MetricNetworkTxBytes,
}

// Valid reports whether m is one of the known metric types.
func (m MetricType) Valid() bool {
	for _, known := range MetricTypes {
		if m == known {
			return true
		}
	}
	return false
}

// MetricSample is a single collected observation for one container.
type MetricSample struct {
	EndpointID    int        `json:"endpoint_id"`
	ContainerID   string     `json:"container_id"`
	ContainerName string     `json:"container_name"`
	MetricType    MetricType `json:"metric_type"`
	Value         float64    `json:"value"`
	Timestamp     time.Time  `json:"timestamp"`
}

// MetricPoint is a timestamped value read back from the metric store.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BaselineStats summarises the most recent window of samples for a container metric.
type BaselineStats struct {
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	SampleCount int     `json:"sample_count"`
}

// ContainerRef identifies a container with recent metric activity.
type ContainerRef struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
}
