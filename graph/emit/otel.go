package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// Events are points in time, so every span is ended immediately. The span
// is named after event.Msg and carries:
//   - approvalflow.instance_id, approvalflow.step, approvalflow.node_id
//   - approvalflow.level
//   - every Meta entry, prefixed with "approvalflow."
//
// Events carrying Meta["error"] get an error status; warnings are recorded
// as a span event so they stand out in trace viewers without failing the
// trace.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("approvalflow"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records events as spans under ctx, which lets callers parent
// them to an existing trace.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("approvalflow.instance_id", event.InstanceID),
		attribute.Int("approvalflow.step", event.Step),
		attribute.String("approvalflow.node_id", event.NodeID),
		attribute.String("approvalflow.level", event.Level()),
	)
	span.SetAttributes(metaAttributes(event.Meta)...)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
		return
	}
	if event.Level() == LevelWarn {
		span.AddEvent("warning", trace.WithAttributes(attribute.String("approvalflow.msg", event.Msg)))
	}
}

// Flush exports buffered spans when the global tracer provider supports
// it (the SDK provider does; the no-op provider does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func metaAttributes(meta map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(meta))
	for key, value := range meta {
		if key == "level" {
			continue
		}
		k := "approvalflow." + key
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case []string:
			attrs = append(attrs, attribute.StringSlice(k, v))
		case time.Duration:
			attrs = append(attrs, attribute.Int64(k, v.Milliseconds()))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return attrs
}
