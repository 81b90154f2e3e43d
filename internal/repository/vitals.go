package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/owl-common/database"

	"go.uber.org/zap"
)

// VitalsRepository 生命体征样本仓库（vitals 表，只追加）
type VitalsRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

// NewVitalsRepository 创建体征仓库
func NewVitalsRepository(db database.DBTX, logger *zap.Logger) *VitalsRepository {
	return &VitalsRepository{db: db, logger: logger}
}

// WithTx 返回绑定到事务的仓库
func (r *VitalsRepository) WithTx(tx *sql.Tx) *VitalsRepository {
	return &VitalsRepository{db: tx, logger: r.logger}
}

// Insert 写入样本并回填 ID
func (r *VitalsRepository) Insert(ctx context.Context, sample *models.VitalsSample) error {
	if sample == nil {
		return fmt.Errorf("sample is required")
	}

	query := `
		INSERT INTO vitals (
			patient_id, timestamp,
			heart_rate, temperature, spo2,
			systolic, diastolic, pulse,
			source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		sample.PatientID,
		sample.Timestamp,
		nullFloat(sample.HeartRate),
		nullFloat(sample.Temperature),
		nullFloat(sample.SpO2),
		nullFloat(sample.Systolic),
		nullFloat(sample.Diastolic),
		nullFloat(sample.Pulse),
		string(sample.Source),
	).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("failed to insert vitals: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
