package service

import (
	"context"
	"database/sql"

	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/notifier"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/owl-common/database"

	"go.uber.org/zap"
)

// AlertService 报警查询与处理
// 调用方负责鉴权，这里不校验角色
type AlertService struct {
	db           *sql.DB
	repo         *repository.AlertRepository
	notifier     notifier.Notifier
	metrics      *metrics.Metrics
	logger       *zap.Logger
	defaultLimit int
	maxLimit     int
}

// NewAlertService 创建报警服务
func NewAlertService(
	db *sql.DB,
	repo *repository.AlertRepository,
	n notifier.Notifier,
	m *metrics.Metrics,
	defaultLimit, maxLimit int,
	logger *zap.Logger,
) *AlertService {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(100, maxLimit)
	}
	return &AlertService{
		db:           db,
		repo:         repo,
		notifier:     n,
		metrics:      m,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// List 按条件查询；未指定条数用默认值，超过上限截断
func (s *AlertService) List(ctx context.Context, filters models.AlertFilters) ([]models.Alert, error) {
	if filters.Severity != nil && !filters.Severity.Valid() {
		return nil, models.NewValidationError("severity", "unknown severity "+string(*filters.Severity))
	}
	if filters.CreatedAfter != nil && filters.CreatedBefore != nil && filters.CreatedAfter.After(*filters.CreatedBefore) {
		return nil, models.NewValidationError("created_after", "must not be later than created_before")
	}

	if filters.Skip < 0 {
		filters.Skip = 0
	}
	switch {
	case filters.Limit <= 0:
		filters.Limit = s.defaultLimit
	case filters.Limit > s.maxLimit:
		filters.Limit = s.maxLimit
	}
	filters.Sort = filters.Sort.Normalize()

	return s.repo.List(ctx, filters)
}

// ListForPatient 某个病人的报警，最新在前；activeOnly 只返回未处理的
func (s *AlertService) ListForPatient(ctx context.Context, patientID int64, activeOnly bool, skip, limit int) ([]models.Alert, error) {
	filters := models.AlertFilters{
		PatientID: &patientID,
		Sort:      models.SortCreatedAtDesc,
		Skip:      skip,
		Limit:     limit,
	}
	if activeOnly {
		unresolved := false
		filters.IsResolved = &unresolved
	}
	return s.List(ctx, filters)
}

// Get 根据 ID 获取报警
func (s *AlertService) Get(ctx context.Context, id int64) (*models.Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// CountOpen 未处理报警数
func (s *AlertService) CountOpen(ctx context.Context, patientID *int64) (int, error) {
	return s.repo.CountOpen(ctx, patientID)
}

// Resolve 处理报警
// 未处理 → 已处理并写入服务器时间；已处理的原样返回；不存在返回 ErrNotFound
func (s *AlertService) Resolve(ctx context.Context, id int64) (*models.Alert, error) {
	var (
		alert   *models.Alert
		changed bool
	)

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		alert = current
		if current.IsResolved {
			return nil
		}

		resolvedAt, err := repo.MarkResolved(ctx, id)
		if err != nil {
			return err
		}
		if resolvedAt != nil {
			alert.IsResolved = true
			alert.ResolvedAt = resolvedAt
			changed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.AlertResolved()
		s.logger.Info("Alert resolved",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("patient_id", alert.PatientID),
		)
		s.notifyResolved(ctx, *alert)
	}
	return alert, nil
}

func (s *AlertService) notifyResolved(ctx context.Context, alert models.Alert) {
	if s.notifier == nil {
		return
	}
	event := notifier.NewEvent(notifier.EventAlertResolved, alert, nil)
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.metrics.NotificationFailed(s.notifier.Name())
		s.logger.Warn("Failed to deliver resolve notification",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}
