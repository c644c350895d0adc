// Package metrics provides the Prometheus collectors used by dermascan.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket parameters.
const (
	BucketStart1ms  = 0.001
	BucketStart10ms = 0.01
	BucketFactor2   = 2
	BucketCount12   = 12
	BucketCount14   = 14
)
