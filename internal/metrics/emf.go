// Package metrics provides a lightweight AWS CloudWatch Embedded Metrics Format (EMF)
// utility. EMF metrics are written as structured JSON lines, where CloudWatch
// automatically extracts them when the process runs in Lambda. Locally the
// same lines can go to stdout, stderr, or nowhere.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for every studio metric.
const Namespace = "IgCaptionStudio"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

// metricDef holds the name and unit for a single metric.
type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

// cwMetric defines a CloudWatch metric namespace, dimensions, and metric definitions.
type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Sink is a destination for EMF lines. It is safe for concurrent use; each
// Recorder it creates is not.
type Sink struct {
	namespace string

	mu  sync.Mutex
	out io.Writer
}

// NewSink returns a sink writing namespace metrics to out. A nil out discards.
func NewSink(namespace string, out io.Writer) *Sink {
	if out == nil {
		out = io.Discard
	}
	return &Sink{namespace: namespace, out: out}
}

var (
	defaultMu   sync.RWMutex
	defaultSink = NewSink(Namespace, os.Stdout)
)

// Default returns the process-wide sink (stdout unless replaced).
func Default() *Sink {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultSink
}

// SetDefault replaces the process-wide sink.
func SetDefault(s *Sink) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultSink = s
}

// ParseDestination maps a destination name (stdout, stderr, off) to a
// writer. Unknown names are an error.
func ParseDestination(name string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "off", "none", "":
		return io.Discard, nil
	}
	return nil, fmt.Errorf("unknown metrics destination %q (want stdout, stderr, or off)", name)
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF flush.
// It is NOT safe for concurrent use from multiple goroutines; create one per operation.
type Recorder struct {
	sink       *Sink
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

var (
	// functionName is cached from AWS_LAMBDA_FUNCTION_NAME at init time.
	functionName string
	initOnce     sync.Once
)

func initFunctionName() {
	functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}

// New creates a Recorder on the default sink for the given namespace.
func New(namespace string) *Recorder {
	return NewSink(namespace, Default().writer()).New()
}

// New creates a Recorder that flushes to s. A nil sink discards.
// It automatically adds the FunctionName dimension from the Lambda environment.
func (s *Sink) New() *Recorder {
	if s == nil {
		s = NewSink(Namespace, io.Discard)
	}
	initOnce.Do(initFunctionName)
	r := &Recorder{
		sink:       s,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

func (s *Sink) writer() io.Writer {
	if s == nil {
		return io.Discard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

// Dimension adds a dimension key-value pair. Dimensions are indexed in CloudWatch
// and appear as filterable attributes on the metric.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a CloudWatch unit.
// Use the Unit* constants (UnitMilliseconds, UnitCount, UnitBytes, UnitNone).
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count is a convenience for recording a count metric (value = 1).
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a non-metric field to the EMF document. Properties are searchable
// in CloudWatch Logs Insights but do not create CloudWatch metrics.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush serializes the EMF document as a single JSON line to the sink.
// After flushing, the Recorder should not be reused.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{})

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}

	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.sink.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}

	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.properties {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}

	// EMF must be a single line.
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	fmt.Fprintln(r.sink.out, string(data))
}
