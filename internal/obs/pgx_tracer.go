package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

// PGXTracer implements pgx.QueryTracer to emit spans for order, session and
// event store queries.
type PGXTracer struct{}

// TraceQueryStart starts a span for the SQL statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query")
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateSQL(data.SQL)),
	)
	if fields := strings.Fields(data.SQL); len(fields) > 0 {
		span.SetAttributes(attribute.String("db.operation", fields[0]))
	}
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

// TraceQueryEnd ends the span and records any error.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if span, ok := ctx.Value(pgxSpanKey{}).(trace.Span); ok {
		if data.Err != nil {
			span.RecordError(data.Err)
		}
		span.End()
	}
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
