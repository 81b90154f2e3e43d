package repository

import (
	"context"
	"fmt"

	"wisefido-vitals/owl-common/database"
)

// schemaStatements 建表语句，均可重复执行
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS vitals (
		id          BIGSERIAL PRIMARY KEY,
		patient_id  BIGINT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
		heart_rate  DOUBLE PRECISION,
		temperature DOUBLE PRECISION,
		spo2        DOUBLE PRECISION,
		systolic    DOUBLE PRECISION,
		diastolic   DOUBLE PRECISION,
		pulse       DOUBLE PRECISION,
		source      VARCHAR(16) NOT NULL CHECK (source IN ('manual', 'simulated', 'device'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vitals_patient_ts ON vitals (patient_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS disease_thresholds (
		id              BIGSERIAL PRIMARY KEY,
		disease         VARCHAR(128) NOT NULL UNIQUE,
		heart_rate_min  DOUBLE PRECISION,
		heart_rate_max  DOUBLE PRECISION,
		temperature_min DOUBLE PRECISION,
		temperature_max DOUBLE PRECISION,
		spo2_min        DOUBLE PRECISION,
		spo2_max        DOUBLE PRECISION,
		systolic_min    DOUBLE PRECISION,
		systolic_max    DOUBLE PRECISION,
		diastolic_min   DOUBLE PRECISION,
		diastolic_max   DOUBLE PRECISION,
		pulse_min       DOUBLE PRECISION,
		pulse_max       DOUBLE PRECISION,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id            BIGSERIAL PRIMARY KEY,
		patient_id    BIGINT NOT NULL,
		vitals_id     BIGINT NOT NULL REFERENCES vitals(id),
		vital         VARCHAR(32) NOT NULL,
		disease       VARCHAR(128) NOT NULL,
		threshold_min DOUBLE PRECISION NOT NULL,
		threshold_max DOUBLE PRECISION NOT NULL,
		actual_value  DOUBLE PRECISION NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		UNIQUE (vitals_id, vital)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_patient_ts ON anomalies (patient_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id          BIGSERIAL PRIMARY KEY,
		patient_id  BIGINT NOT NULL,
		anomaly_id  BIGINT REFERENCES anomalies(id),
		severity    VARCHAR(16) NOT NULL CHECK (severity IN ('red', 'yellow', 'blue')),
		message     TEXT NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at TIMESTAMPTZ,
		CHECK (is_resolved = (resolved_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_patient_created ON alerts (patient_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts (created_at DESC) WHERE is_resolved = FALSE`,
}

// EnsureSchema 创建表和索引
func EnsureSchema(ctx context.Context, db database.DBTX) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
