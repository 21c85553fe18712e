package api

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startCommandSpan opens a span for one command dispatch when telemetry is
// enabled; with the default no-op providers (otel.Config.Enabled false)
// this costs nothing beyond the global no-op tracer's own overhead.
func (s *Service) startCommandSpan(ctx context.Context, command string) (context.Context, func()) {
	if s.Otel == nil {
		return ctx, func() {}
	}
	ctx, span := s.Otel.TracerFor("cvdd.api").Start(ctx, "command."+command,
		trace.WithAttributes(attribute.String("cvdd.command", command)))
	return ctx, func() { span.End() }
}
