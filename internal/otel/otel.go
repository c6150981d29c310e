// Package otel turns lifecycle events into OpenTelemetry spans exported over
// OTLP/gRPC.
package otel

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/hanpama/querygraph/internal/eventbus"
	events "github.com/hanpama/querygraph/internal/events"
	reqid "github.com/hanpama/querygraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentation = "querygraph"

// Setup configures OpenTelemetry and attaches subscribers to the global
// event bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	Attach(eventbus.Default(), tp.Tracer(instrumentation))
	return tp.Shutdown, nil
}

// Attach subscribes span recording to bus b and returns a function removing
// the subscriptions.
func Attach(b *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer}
	return s.register(b)
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	docSpans  sync.Map // rid -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, spans ...*sync.Map) context.Context {
	rid, _ := reqid.FromContext(ctx)
	for _, m := range spans {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func (s *subscriber) register(b *eventbus.Bus) func() {
	offs := []func(){
		eventbus.On(b, func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("request.id", rid),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.On(b, func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			span.End()
		}),

		eventbus.On(b, func(ctx context.Context, e events.DocumentStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, &s.httpSpans), "query.document")
			span.SetAttributes(
				attribute.Int("query.batch_size", e.Batch),
				attribute.Bool("query.transactional", e.Transactional),
			)
			if e.IsolationLevel != "" {
				span.SetAttributes(attribute.String("query.isolation_level", e.IsolationLevel))
			}
			s.docSpans.Store(rid, span)
		}),

		eventbus.On(b, func(ctx context.Context, e events.CompactionDecision) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.docSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("compaction", trace.WithAttributes(
					attribute.String("query.root_field", e.RootField),
					attribute.Bool("query.compacted", e.Compacted),
					attribute.StringSlice("query.keys", e.Keys),
				))
			}
		}),

		eventbus.On(b, func(ctx context.Context, e events.GraphBuilt) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.docSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("graph.built", trace.WithAttributes(
					attribute.String("query.root_field", e.RootField),
					attribute.Int("graph.nodes", e.Nodes),
					attribute.Int("graph.edges", e.Edges),
				))
			}
		}),

		eventbus.On(b, func(ctx context.Context, e events.NodeExecuted) {
			end := time.Now()
			_, span := s.tracer.Start(s.parent(ctx, &s.docSpans, &s.httpSpans), "query.node",
				trace.WithTimestamp(end.Add(-e.Duration)))
			span.SetAttributes(
				attribute.Int("graph.node", e.Node),
				attribute.String("graph.node_kind", e.Kind),
				attribute.String("query.model", e.Model),
				attribute.Int("query.rows", e.Rows),
				attribute.Int("query.count", e.Count),
			)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End(trace.WithTimestamp(end))
		}),

		eventbus.On(b, func(ctx context.Context, e events.DocumentFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.docSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Int("query.error_count", len(e.Errors)))
			for _, err := range e.Errors {
				span.RecordError(err)
			}
			if len(e.Errors) > 0 {
				span.SetStatus(codes.Error, e.Errors[0].Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
