package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/owl-common/database"

	"go.uber.org/zap"
)

// ThresholdRepository 疾病阈值仓库（disease_thresholds 表）
type ThresholdRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

// NewThresholdRepository 创建阈值仓库
func NewThresholdRepository(db database.DBTX, logger *zap.Logger) *ThresholdRepository {
	return &ThresholdRepository{db: db, logger: logger}
}

// WithTx 返回绑定到事务的仓库
func (r *ThresholdRepository) WithTx(tx *sql.Tx) *ThresholdRepository {
	return &ThresholdRepository{db: tx, logger: r.logger}
}

const thresholdColumns = `
	id, disease,
	heart_rate_min, heart_rate_max,
	temperature_min, temperature_max,
	spo2_min, spo2_max,
	systolic_min, systolic_max,
	diastolic_min, diastolic_max,
	pulse_min, pulse_max,
	created_at, updated_at
`

// GetActive 返回当前生效的阈值集：id 最小的一条
// 全局唯一一套，不区分病人；没有任何配置时返回 nil, nil
func (r *ThresholdRepository) GetActive(ctx context.Context) (*models.ThresholdSet, error) {
	query := `SELECT ` + thresholdColumns + ` FROM disease_thresholds ORDER BY id ASC LIMIT 1`

	set, err := scanThresholdSet(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active thresholds: %w", err)
	}
	return set, nil
}

// GetByDisease 根据疾病名获取阈值集
func (r *ThresholdRepository) GetByDisease(ctx context.Context, disease string) (*models.ThresholdSet, error) {
	query := `SELECT ` + thresholdColumns + ` FROM disease_thresholds WHERE disease = $1`

	set, err := scanThresholdSet(r.db.QueryRowContext(ctx, query, disease))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("thresholds for %q: %w", disease, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get thresholds: %w", err)
	}
	return set, nil
}

// List 按 id 顺序列出全部阈值集
func (r *ThresholdRepository) List(ctx context.Context) ([]models.ThresholdSet, error) {
	query := `SELECT ` + thresholdColumns + ` FROM disease_thresholds ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	sets := []models.ThresholdSet{}
	for rows.Next() {
		set, err := scanThresholdSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thresholds: %w", err)
		}
		sets = append(sets, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thresholds: %w", err)
	}
	return sets, nil
}

// Upsert 按疾病名插入或原地更新，回填 ID 与时间戳
func (r *ThresholdRepository) Upsert(ctx context.Context, set *models.ThresholdSet) error {
	if set == nil {
		return fmt.Errorf("threshold set is required")
	}
	if err := set.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO disease_thresholds (
			disease,
			heart_rate_min, heart_rate_max,
			temperature_min, temperature_max,
			spo2_min, spo2_max,
			systolic_min, systolic_max,
			diastolic_min, diastolic_max,
			pulse_min, pulse_max
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (disease) DO UPDATE SET
			heart_rate_min  = EXCLUDED.heart_rate_min,
			heart_rate_max  = EXCLUDED.heart_rate_max,
			temperature_min = EXCLUDED.temperature_min,
			temperature_max = EXCLUDED.temperature_max,
			spo2_min        = EXCLUDED.spo2_min,
			spo2_max        = EXCLUDED.spo2_max,
			systolic_min    = EXCLUDED.systolic_min,
			systolic_max    = EXCLUDED.systolic_max,
			diastolic_min   = EXCLUDED.diastolic_min,
			diastolic_max   = EXCLUDED.diastolic_max,
			pulse_min       = EXCLUDED.pulse_min,
			pulse_max       = EXCLUDED.pulse_max,
			updated_at      = now()
		RETURNING id, created_at, updated_at
	`

	args := []interface{}{set.Disease}
	for _, v := range models.AllVitals {
		min, max := rangeArgs(set.RangeFor(v))
		args = append(args, min, max)
	}

	err := r.db.QueryRowContext(ctx, query, args...).Scan(&set.ID, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert thresholds: %w", err)
	}

	r.logger.Info("Threshold set saved",
		zap.Int64("id", set.ID),
		zap.String("disease", set.Disease),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThresholdSet(row rowScanner) (*models.ThresholdSet, error) {
	var set models.ThresholdSet
	bounds := make([]sql.NullFloat64, 2*len(models.AllVitals))

	dest := []interface{}{&set.ID, &set.Disease}
	for i := range bounds {
		dest = append(dest, &bounds[i])
	}
	dest = append(dest, &set.CreatedAt, &set.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	// 上下限都存在才视为配置了该体征
	for i, v := range models.AllVitals {
		min, max := bounds[2*i], bounds[2*i+1]
		if min.Valid && max.Valid {
			set.SetRange(v, &models.Range{Min: min.Float64, Max: max.Float64})
		}
	}
	return &set, nil
}

func rangeArgs(r *models.Range) (sql.NullFloat64, sql.NullFloat64) {
	if r == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r.Min, Valid: true}, sql.NullFloat64{Float64: r.Max, Valid: true}
}
