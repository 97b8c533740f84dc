package metrics

import "context"

// Point is one keyed sample from a host collector.
// Params: instance key and field->value map.
// Returns: one scrape sample entity, mapped into a record by the pipeline.
type Point struct {
	Key    string
	Fields map[string]float64
}

// Collector scrapes one host subsystem and returns keyed points.
// Params: context for cancellation and deadlines.
// Returns: point list or scrape error.
type Collector interface {
	Name() string
	Scrape(ctx context.Context) ([]Point, error)
}
