package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/owl-common/database"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AnomalyRepository 异常记录仓库（anomalies 表，只追加）
type AnomalyRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

// NewAnomalyRepository 创建异常仓库
func NewAnomalyRepository(db database.DBTX, logger *zap.Logger) *AnomalyRepository {
	return &AnomalyRepository{db: db, logger: logger}
}

const anomalyColumns = `id, patient_id, vitals_id, vital, disease, threshold_min, threshold_max, actual_value, timestamp`

// WithTx 返回绑定到事务的仓库
func (r *AnomalyRepository) WithTx(tx *sql.Tx) *AnomalyRepository {
	return &AnomalyRepository{db: tx, logger: r.logger}
}

// Insert 写入异常并回填 ID
func (r *AnomalyRepository) Insert(ctx context.Context, a *models.Anomaly) error {
	if a == nil {
		return fmt.Errorf("anomaly is required")
	}

	query := `
		INSERT INTO anomalies (
			patient_id, vitals_id, vital, disease,
			threshold_min, threshold_max, actual_value,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		a.PatientID,
		a.VitalsID,
		string(a.Vital),
		a.Category,
		a.ThresholdMin,
		a.ThresholdMax,
		a.ActualValue,
		a.Timestamp,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// GetByIDs 批量获取异常，返回 ID → 异常；不存在的 ID 直接忽略
func (r *AnomalyRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]models.Anomaly, error) {
	result := make(map[int64]models.Anomaly, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT ` + anomalyColumns + `
		FROM anomalies
		WHERE id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get anomalies: %w", err)
	}
	defer rows.Close()

	anomalies, err := scanAnomalies(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		result[a.ID] = a
	}
	return result, nil
}

func scanAnomalies(rows *sql.Rows) ([]models.Anomaly, error) {
	anomalies := []models.Anomaly{}
	for rows.Next() {
		var a models.Anomaly
		var vital string
		if err := rows.Scan(
			&a.ID, &a.PatientID, &a.VitalsID, &vital, &a.Category,
			&a.ThresholdMin, &a.ThresholdMax, &a.ActualValue, &a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Vital = models.Vital(vital)
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anomalies: %w", err)
	}
	return anomalies, nil
}
