package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/owl-common/database"

	"go.uber.org/zap"
)

// AlertRepository 报警仓库（alerts 表）
// 报警只会被 MarkResolved 修改，不会被删除
type AlertRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db database.DBTX, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

// WithTx 返回绑定到事务的仓库
func (r *AlertRepository) WithTx(tx *sql.Tx) *AlertRepository {
	return &AlertRepository{db: tx, logger: r.logger}
}

const alertColumns = `id, patient_id, anomaly_id, severity, message, is_resolved, created_at, resolved_at`

// severityRankSQL 与 models.Severity.Rank 保持一致
const severityRankSQL = `CASE severity WHEN 'red' THEN 3 WHEN 'yellow' THEN 2 WHEN 'blue' THEN 1 ELSE 0 END`

// ============================================
// 写操作
// ============================================

// Insert 写入报警并回填 ID 和 created_at
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	query := `
		INSERT INTO alerts (patient_id, anomaly_id, severity, message, is_resolved, resolved_at)
		VALUES ($1, $2, $3, $4, FALSE, NULL)
		RETURNING id, created_at
	`

	var anomalyID sql.NullInt64
	if alert.AnomalyID != nil {
		anomalyID = sql.NullInt64{Int64: *alert.AnomalyID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		alert.PatientID,
		anomalyID,
		string(alert.Severity),
		alert.Message,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	alert.IsResolved = false
	alert.ResolvedAt = nil
	return nil
}

// GetForUpdate 在事务中锁定并读取报警
func (r *AlertRepository) GetForUpdate(ctx context.Context, id int64) (*models.Alert, error) {
	return r.get(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1 FOR UPDATE`, id)
}

// MarkResolved 只更新尚未处理的报警，resolved_at 取数据库时间；未发生更新时返回 nil
func (r *AlertRepository) MarkResolved(ctx context.Context, id int64) (*time.Time, error) {
	query := `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = NOW()
		WHERE id = $1 AND is_resolved = FALSE
		RETURNING resolved_at
	`

	var resolvedAt time.Time
	err := r.db.QueryRowContext(ctx, query, id).Scan(&resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return &resolvedAt, nil
}

// ============================================
// 查询
// ============================================

// GetByID 根据 ID 获取报警
func (r *AlertRepository) GetByID(ctx context.Context, id int64) (*models.Alert, error) {
	return r.get(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
}

func (r *AlertRepository) get(ctx context.Context, query string, id int64) (*models.Alert, error) {
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// buildWhereClause 根据过滤条件构建 WHERE 子句
func (r *AlertRepository) buildWhereClause(filters models.AlertFilters, args *[]interface{}, argN *int) []string {
	where := []string{}

	if filters.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", *argN))
		*args = append(*args, *filters.PatientID)
		*argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", *argN))
		*args = append(*args, string(*filters.Severity))
		*argN++
	}
	if filters.CreatedAfter != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", *argN))
		*args = append(*args, *filters.CreatedAfter)
		*argN++
	}
	if filters.CreatedBefore != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", *argN))
		*args = append(*args, *filters.CreatedBefore)
		*argN++
	}
	if filters.IsResolved != nil {
		where = append(where, fmt.Sprintf("is_resolved = $%d", *argN))
		*args = append(*args, *filters.IsResolved)
		*argN++
	}

	return where
}

func orderByClause(sort models.AlertSort) string {
	switch sort.Normalize() {
	case models.SortCreatedAtAsc:
		return "created_at ASC, id ASC"
	case models.SortSeverityDesc:
		return severityRankSQL + " DESC, created_at DESC, id DESC"
	case models.SortSeverityAsc:
		return severityRankSQL + " ASC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

// List 按条件分页查询报警；没有匹配时返回空切片
func (r *AlertRepository) List(ctx context.Context, filters models.AlertFilters) ([]models.Alert, error) {
	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	skip := filters.Skip
	if skip < 0 {
		skip = 0
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereClause, orderByClause(filters.Sort), argN, argN+1)
	args = append(args, limit, skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// CountOpen 统计未处理报警数，patientID 为 nil 时统计全部
func (r *AlertRepository) CountOpen(ctx context.Context, patientID *int64) (int, error) {
	resolved := false
	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(models.AlertFilters{PatientID: patientID, IsResolved: &resolved}, &args, &argN)

	query := "SELECT COUNT(*) FROM alerts WHERE " + strings.Join(where, " AND ")

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open alerts: %w", err)
	}
	return count, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert      models.Alert
		anomalyID  sql.NullInt64
		severity   string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(
		&alert.ID,
		&alert.PatientID,
		&anomalyID,
		&severity,
		&alert.Message,
		&alert.IsResolved,
		&alert.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	if anomalyID.Valid {
		id := anomalyID.Int64
		alert.AnomalyID = &id
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	alert.Severity = models.Severity(severity)
	return &alert, nil
}
