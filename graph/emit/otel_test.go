package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exporter
}

func TestOTelEmitter_Emit(t *testing.T) {
	tp, exporter := newTestTracerProvider(t)
	emitter := NewOTelEmitter(tp.Tracer("test"))

	emitter.Emit(Event{
		InstanceID: "inst-1",
		Step:       3,
		NodeID:     "legal",
		Msg:        "task_created",
		Meta: map[string]interface{}{
			"role":    "legal-team",
			"pending": 2,
			"waited":  1500 * time.Millisecond,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "task_created" {
		t.Errorf("expected span name task_created, got %q", span.Name)
	}

	attrs := attributeMap(span.Attributes)
	checks := map[string]interface{}{
		"approvalflow.instance_id": "inst-1",
		"approvalflow.step":        int64(3),
		"approvalflow.node_id":     "legal",
		"approvalflow.level":       LevelInfo,
		"approvalflow.role":        "legal-team",
		"approvalflow.pending":     int64(2),
		"approvalflow.waited":      int64(1500),
	}
	for key, want := range checks {
		if got := attrs[key]; got != want {
			t.Errorf("%s: expected %v, got %v", key, want, got)
		}
	}
	if span.Status.Code == codes.Error {
		t.Error("info event must not set error status")
	}
}

func TestOTelEmitter_Warning(t *testing.T) {
	tp, exporter := newTestTracerProvider(t)
	NewOTelEmitter(tp.Tracer("test")).Emit(Event{
		InstanceID: "inst-1",
		NodeID:     "gate",
		Msg:        "missing_node",
		Meta:       map[string]interface{}{"level": LevelWarn, "to": "ghost"},
	})

	span := exporter.GetSpans()[0]
	if span.Status.Code == codes.Error {
		t.Error("warning must not fail the span")
	}
	if len(span.Events) != 1 || span.Events[0].Name != "warning" {
		t.Errorf("expected one warning span event, got %+v", span.Events)
	}
	attrs := attributeMap(span.Attributes)
	if attrs["approvalflow.level"] != LevelWarn {
		t.Errorf("expected warn level attribute, got %v", attrs["approvalflow.level"])
	}
	if attrs["approvalflow.to"] != "ghost" {
		t.Errorf("expected to=ghost, got %v", attrs["approvalflow.to"])
	}
}

func TestOTelEmitter_Error(t *testing.T) {
	tp, exporter := newTestTracerProvider(t)
	NewOTelEmitter(tp.Tracer("test")).Emit(Event{
		InstanceID: "inst-1",
		Msg:        "persist_failed",
		Meta:       map[string]interface{}{"level": LevelError, "error": "disk full"},
	})

	span := exporter.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", span.Status.Code)
	}
	if span.Status.Description != "disk full" {
		t.Errorf("expected description %q, got %q", "disk full", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	tp, exporter := newTestTracerProvider(t)
	tracer := tp.Tracer("test")
	emitter := NewOTelEmitter(tracer)

	ctx, parent := tracer.Start(context.Background(), "decide")
	events := []Event{
		{InstanceID: "inst-1", Msg: "task_completed", NodeID: "review"},
		{InstanceID: "inst-1", Msg: "node_completed", NodeID: "end"},
	}
	if err := emitter.EmitBatch(ctx, events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	for _, s := range spans[:2] {
		if s.Parent.SpanID() != parent.SpanContext().SpanID() {
			t.Errorf("span %s is not parented to the batch context", s.Name)
		}
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := emitter.EmitBatch(cancelled, events); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	tp, exporter := newTestTracerProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(Event{InstanceID: "inst-1", Msg: "instance_started"})

	if err := emitter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(exporter.GetSpans()) != 1 {
		t.Errorf("expected 1 exported span, got %d", len(exporter.GetSpans()))
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
