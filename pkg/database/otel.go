package database

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const maxStatementLength = 500

var (
	// 数据库相关指标，未初始化时为 noop
	dbQueriesTotal   metric.Int64Counter     = noop.Int64Counter{}
	dbQueryDuration  metric.Float64Histogram = noop.Float64Histogram{}
	dbZeroRowUpdates metric.Int64Counter     = noop.Int64Counter{}
)

// InitDatabaseMetrics 初始化数据库指标
func InitDatabaseMetrics(meter metric.Meter) error {
	var err error

	dbQueriesTotal, err = meter.Int64Counter(
		"db.queries.total",
		metric.WithDescription("Total number of database statements"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return err
	}

	dbQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database statement duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}

	// 带版本条件的 UPDATE 没有命中行，通常意味着并发写入冲突
	dbZeroRowUpdates, err = meter.Int64Counter(
		"db.updates.zero_rows",
		metric.WithDescription("Conditional updates that matched no rows"),
		metric.WithUnit("{update}"),
	)
	return err
}

type spanKey struct{}

// OTELPlugin 按 gorm 回调类型建 span，表名作为属性
type OTELPlugin struct {
	tracer      trace.Tracer
	serviceName string
}

func NewOTELPlugin(serviceName string) *OTELPlugin {
	if serviceName == "" {
		serviceName = "legacyvault"
	}
	return &OTELPlugin{
		tracer:      otel.Tracer(serviceName + ".gorm"),
		serviceName: serviceName,
	}
}

func (p *OTELPlugin) Name() string {
	return "legacyvault:otel"
}

func (p *OTELPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	regs := []error{
		cb.Query().Before("gorm:query").Register("otel:before_select", p.start("select")),
		cb.Query().After("gorm:query").Register("otel:after_select", p.end("select")),
		cb.Create().Before("gorm:create").Register("otel:before_insert", p.start("insert")),
		cb.Create().After("gorm:create").Register("otel:after_insert", p.end("insert")),
		cb.Update().Before("gorm:update").Register("otel:before_update", p.start("update")),
		cb.Update().After("gorm:update").Register("otel:after_update", p.end("update")),
		cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.start("delete")),
		cb.Delete().After("gorm:delete").Register("otel:after_delete", p.end("delete")),
		cb.Row().Before("gorm:row").Register("otel:before_row", p.start("row")),
		cb.Row().After("gorm:row").Register("otel:after_row", p.end("row")),
		cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.start("raw")),
		cb.Raw().After("gorm:raw").Register("otel:after_raw", p.end("raw")),
	}
	return errors.Join(regs...)
}

type spanState struct {
	span  trace.Span
	start time.Time
}

func (p *OTELPlugin) start(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx, span := p.tracer.Start(db.Statement.Context, "db."+op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				semconv.DBOperation(op),
				attribute.String("db.table", tableOf(db)),
			),
		)
		db.Statement.Context = context.WithValue(ctx, spanKey{}, &spanState{span: span, start: time.Now()})
	}
}

func (p *OTELPlugin) end(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		st, ok := db.Statement.Context.Value(spanKey{}).(*spanState)
		if !ok {
			return
		}
		defer st.span.End()

		// SQL 只含占位符，参数不进入 span
		stmt := db.Statement.SQL.String()
		if len(stmt) > maxStatementLength {
			stmt = stmt[:maxStatementLength] + "..."
		}
		st.span.SetAttributes(
			semconv.DBStatement(stmt),
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
		)

		status := "success"
		switch {
		case db.Error == nil:
			st.span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			status = "not_found"
		default:
			status = "error"
			st.span.SetStatus(codes.Error, db.Error.Error())
			st.span.RecordError(db.Error)
		}

		ctx := db.Statement.Context
		attrs := metric.WithAttributes(
			attribute.String("db.operation", op),
			attribute.String("db.table", tableOf(db)),
			attribute.String("db.status", status),
		)
		dbQueriesTotal.Add(ctx, 1, attrs)
		dbQueryDuration.Record(ctx, time.Since(st.start).Seconds(), attrs)

		if op == "update" && db.Error == nil && db.Statement.RowsAffected == 0 {
			dbZeroRowUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("db.table", tableOf(db))))
		}
	}
}

func tableOf(db *gorm.DB) string {
	if db.Statement.Table != "" {
		return db.Statement.Table
	}
	return "unknown"
}

// Instrument 为 gorm 注册追踪与指标回调
func Instrument(db *gorm.DB, serviceName string) error {
	return db.Use(NewOTELPlugin(serviceName))
}
