package telemetry

import (
	"errors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for store query tracing.
type DBTracingConfig struct {
	Enabled    bool
	LogFullSQL bool   // include query variables; business keys end up in spans
	DBSystem   string // default: "postgresql"
}

// RegisterDBTracing installs the otelgorm plugin on db plus a callback that tags
// create-if-absent inserts that lost their race.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}

	// registered ahead of the plugin so it runs while the otelgorm span is still open
	if err := db.Callback().Create().After("gorm:create").Register("recordlink:create_outcome", tagCreateOutcome); err != nil {
		return err
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.String("db_system", cfg.DBSystem),
	)
	return nil
}

// tagCreateOutcome marks inserts that affected no rows, which for
// ON CONFLICT DO NOTHING means another writer already owned the key.
func tagCreateOutcome(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error == nil || errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetAttributes(attribute.Bool("db.insert_skipped", db.Statement.RowsAffected == 0))
	}
}
