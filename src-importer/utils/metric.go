package utils

// Senders must not block on these channels; when the consumer is gone or
// behind, the sample is dropped.
type Metric struct {
	ParseFile      chan float64
	WriteBatch     chan float64
	ImportedEvents chan float64
}

func NewMetric() *Metric {
	return &Metric{
		ParseFile:      make(chan float64, 8),
		WriteBatch:     make(chan float64, 8),
		ImportedEvents: make(chan float64, 8),
	}
}
