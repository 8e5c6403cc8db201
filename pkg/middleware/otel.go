package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "tablesync"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "tablesync").
	TracerName string

	// IncludePlayerID includes the acting player id in traces.
	// Disabled by default.
	IncludePlayerID bool

	// Filter determines which actions to trace.
	// Return true to trace the action. If nil, all actions are traced.
	Filter func(a Apply) bool

	// AttributeExtractor extracts custom attributes from an action.
	AttributeExtractor func(a Apply) []attribute.KeyValue

	// TracerProvider overrides the global tracer provider.
	TracerProvider trace.TracerProvider

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludePlayerID enables including the player id in traces.
func WithIncludePlayerID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludePlayerID = include
	}
}

// WithActionFilter sets a filter function for actions.
func WithActionFilter(filter func(a Apply) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(a Apply) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every applied action. The
// span is stored in the context passed down the chain; apply errors are
// recorded on it.
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}

	return MiddlewareFunc(func(ctx context.Context, a Apply, next Next) error {
		if config.Filter != nil && !config.Filter(a) {
			return next(ctx)
		}

		attrs := []attribute.KeyValue{
			attribute.String("tablesync.action_type", a.Action.Type),
		}
		if a.SessionID != "" {
			attrs = append(attrs, attribute.String("tablesync.session_id", a.SessionID))
		}
		if a.UpdateID != "" {
			attrs = append(attrs, attribute.String("tablesync.update_id", string(a.UpdateID)))
		}
		if config.IncludePlayerID && a.PlayerID != "" {
			attrs = append(attrs, attribute.String("tablesync.player_id", string(a.PlayerID)))
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(a)...)
		}

		ctx, span := config.tracer.Start(ctx, spanName(a),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	})
}

func spanName(a Apply) string {
	return fmt.Sprintf("tablesync.apply %s", typeLabel(a.Action.Type))
}
