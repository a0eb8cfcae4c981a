// Package observability provides metrics for the executor.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod       = "method"
	attrPath         = "path"
	attrStatus       = "status"
	attrHandler      = "handler"
	attrOrchestrator = "orchestrator"
	attrState        = "state"
	attrSuccess      = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func handlerAttr(handler string) attribute.KeyValue {
	return attribute.String(attrHandler, handler)
}

func orchestratorAttr(kind string) attribute.KeyValue {
	return attribute.String(attrOrchestrator, kind)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// idSegments maps resource prefixes to the placeholder for their id segment.
var idSegments = []struct{ prefix, placeholder string }{
	{"/v1/runs/", "{logId}"},
	{"/v1/jobs/", "{jobId}"},
}

// normalizePath replaces id segments with placeholders to bound cardinality.
// /v1/runs/123/log -> /v1/runs/{logId}/log
func normalizePath(path string) string {
	for _, seg := range idSegments {
		rest, ok := strings.CutPrefix(path, seg.prefix)
		if !ok || rest == "" {
			continue
		}
		if _, tail, found := strings.Cut(rest, "/"); found {
			return seg.prefix + seg.placeholder + "/" + tail
		}
		return seg.prefix + seg.placeholder
	}
	return path
}

// RunAttributes returns the attributes identifying a run's handler and backend.
func RunAttributes(handler, orchestrator string) metric.MeasurementOption {
	return metric.WithAttributes(handlerAttr(handler), orchestratorAttr(orchestrator))
}
