package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/notifier"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/owl-common/database"

	"go.uber.org/zap"
)

// IngestService 样本接入：检测 → 升级 → 单事务落库 → 提交后通知
type IngestService struct {
	db          *sql.DB
	thresholds  *ThresholdService
	vitalsRepo  *repository.VitalsRepository
	anomalyRepo *repository.AnomalyRepository
	alertRepo   *repository.AlertRepository
	detector    *evaluator.Detector
	escalator   *evaluator.Escalator
	notifier    notifier.Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewIngestService 创建接入服务；notifier 和 metrics 可以为 nil
func NewIngestService(
	db *sql.DB,
	thresholds *ThresholdService,
	vitalsRepo *repository.VitalsRepository,
	anomalyRepo *repository.AnomalyRepository,
	alertRepo *repository.AlertRepository,
	detector *evaluator.Detector,
	escalator *evaluator.Escalator,
	n notifier.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		db:          db,
		thresholds:  thresholds,
		vitalsRepo:  vitalsRepo,
		anomalyRepo: anomalyRepo,
		alertRepo:   alertRepo,
		detector:    detector,
		escalator:   escalator,
		notifier:    n,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Ingest 写入一个样本
// 样本、异常、报警在同一事务中写入，任一步失败整体回滚；通知失败只记录日志
func (s *IngestService) Ingest(ctx context.Context, sample models.VitalsSample) (*models.IngestResult, error) {
	start := s.now()
	if sample.Source == "" {
		sample.Source = models.SourceManual
	}
	source := string(sample.Source)

	if err := sample.Validate(); err != nil {
		s.metrics.IngestFailed(source)
		return nil, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = start
	}

	thresholds, err := s.thresholds.Active(ctx)
	if err != nil {
		s.metrics.IngestFailed(source)
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}

	drafts := s.detector.Detect(&sample, thresholds)
	result := &models.IngestResult{
		Anomalies: make([]models.Anomaly, 0, len(drafts)),
		Alerts:    make([]models.Alert, 0, len(drafts)),
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.vitalsRepo.WithTx(tx).Insert(ctx, &sample); err != nil {
			return err
		}

		anomalies := s.anomalyRepo.WithTx(tx)
		alerts := s.alertRepo.WithTx(tx)
		for _, d := range drafts {
			anomaly := d.ToAnomaly(sample.ID)
			if err := anomalies.Insert(ctx, &anomaly); err != nil {
				return err
			}

			alert := s.escalator.Escalate(anomaly)
			if err := alerts.Insert(ctx, &alert); err != nil {
				return err
			}

			result.Anomalies = append(result.Anomalies, anomaly)
			result.Alerts = append(result.Alerts, alert)
		}
		return nil
	})
	if err != nil {
		s.metrics.IngestFailed(source)
		s.logger.Error("Failed to ingest vitals sample",
			zap.Int64("patient_id", sample.PatientID),
			zap.String("source", source),
			zap.Error(err),
		)
		return nil, err
	}
	result.Sample = sample

	s.metrics.ObserveIngest(source, s.now().Sub(start))
	for i := range result.Alerts {
		s.metrics.AnomalyDetected(string(result.Anomalies[i].Vital))
		s.metrics.AlertCreated(string(result.Alerts[i].Severity))
	}

	if len(result.Alerts) > 0 {
		s.logger.Info("Vitals anomalies detected",
			zap.Int64("patient_id", sample.PatientID),
			zap.Int64("vitals_id", sample.ID),
			zap.String("thresholds", thresholds.Disease),
			zap.Int("alert_count", len(result.Alerts)),
		)
		s.notifyCreated(ctx, result)
	}

	return result, nil
}

func (s *IngestService) notifyCreated(ctx context.Context, result *models.IngestResult) {
	if s.notifier == nil {
		return
	}
	for i := range result.Alerts {
		anomaly := result.Anomalies[i]
		event := notifier.NewEvent(notifier.EventAlertCreated, result.Alerts[i], &anomaly)
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.metrics.NotificationFailed(s.notifier.Name())
			s.logger.Warn("Failed to deliver alert notification",
				zap.Int64("alert_id", result.Alerts[i].ID),
				zap.String("notification_id", event.NotificationID),
				zap.Error(err),
			)
		}
	}
}
