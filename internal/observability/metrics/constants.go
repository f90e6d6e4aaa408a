// Package metrics defines the Prometheus collectors of the pipeline.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Model kind label values.
const (
	KindLive = "live"
	KindEMA  = "ema"
)

// Skip reasons for clips that produced no output.
const (
	SkipNoSegments   = "no_segments"
	SkipCardinality  = "label_cardinality"
	SkipNoSoftLabels = "no_soft_labels"
	SkipLoadFailed   = "load_failed"
)
