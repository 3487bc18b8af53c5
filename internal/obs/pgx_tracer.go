package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	storeTracerName = "github.com/pahana-edu/bookshop-checkout/internal/store"
	maxStatementLen = 300
)

// PGXTracer is a pgx.QueryTracer that opens one client span per statement.
type PGXTracer struct{}

// TraceQueryStart opens the span. pgx hands the returned context back to TraceQueryEnd.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := sqlOperation(data.SQL)
	name := "pgx"
	if op != "" {
		name += " " + op
	}
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBQueryText(clipStatement(data.SQL)),
		),
	)
	if op != "" {
		span.SetAttributes(semconv.DBOperationName(op))
	}
	return ctx
}

// TraceQueryEnd closes the span opened by TraceQueryStart.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}

func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	op := strings.ToUpper(fields[0])
	if op == "WITH" {
		// CTEs report the statement that follows the last common table expression.
		for _, f := range fields[1:] {
			switch up := strings.ToUpper(f); up {
			case "SELECT", "INSERT", "UPDATE", "DELETE":
				op = up
			}
		}
	}
	return op
}

func clipStatement(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > maxStatementLen {
		return s[:maxStatementLen] + "..."
	}
	return s
}
