package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-indexer/internal/observability"
)

type traceKey struct{}

type traceData struct {
	start time.Time
	op    string
}

// queryTracer reports per-statement latency and errors as Prometheus metrics.
type queryTracer struct {
	metrics *observability.Metrics
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{start: time.Now(), op: operationOf(data.SQL)})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}
	t.metrics.RecordDBQuery("postgres", td.op, time.Since(td.start).Seconds(), data.Err)
}

// operationOf returns the lower-cased leading keyword of a statement.
func operationOf(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
