package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/notifier"
	"wisefido-vitals/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var thresholdRowColumns = []string{
	"id", "disease",
	"heart_rate_min", "heart_rate_max",
	"temperature_min", "temperature_max",
	"spo2_min", "spo2_max",
	"systolic_min", "systolic_max",
	"diastolic_min", "diastolic_max",
	"pulse_min", "pulse_max",
	"created_at", "updated_at",
}

var alertRowColumns = []string{
	"id", "patient_id", "anomaly_id", "severity", "message", "is_resolved", "created_at", "resolved_at",
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, event notifier.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newIngestService(db *sql.DB, n notifier.Notifier) *IngestService {
	logger := zap.NewNop()
	thresholds := NewThresholdService(repository.NewThresholdRepository(db, logger), config.DefaultThresholdSet(), logger)
	policy := evaluator.SeverityPolicy{
		ByCategory: config.DefaultSeverityPolicy(),
		Fallback:   models.SeverityYellow,
	}
	return NewIngestService(
		db,
		thresholds,
		repository.NewVitalsRepository(db, logger),
		repository.NewAnomalyRepository(db, logger),
		repository.NewAlertRepository(db, logger),
		evaluator.NewDetector(),
		evaluator.NewEscalator(policy),
		n,
		nil,
		logger,
	)
}

func expectNoThresholds(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM disease_thresholds`).WillReturnRows(sqlmock.NewRows(thresholdRowColumns))
}

// ============================================
// IngestService
// ============================================

func TestIngest_InRangeSample(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{}
	svc := newIngestService(db, n)

	expectNoThresholds(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID: 1,
		HeartRate: models.Float64Ptr(72),
		SpO2:      models.Float64Ptr(98),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Sample.ID)
	assert.Equal(t, models.SourceManual, result.Sample.Source)
	assert.False(t, result.Sample.Timestamp.IsZero())
	assert.Empty(t, result.Anomalies)
	assert.Empty(t, result.Alerts)
	assert.Empty(t, n.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_HighHeartRateCreatesAlert(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{}
	svc := newIngestService(db, n)

	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	expectNoThresholds(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(`INSERT INTO anomalies`).
		WithArgs(int64(5), int64(10), "heart_rate", models.CategoryGeneralHealth, 60.0, 100.0, 125.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(30, created))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID:   5,
		HeartRate:   models.Float64Ptr(125),
		Temperature: models.Float64Ptr(37.0),
		Source:      models.SourceSimulated,
	})
	require.NoError(t, err)
	require.Len(t, result.Anomalies, 1)
	require.Len(t, result.Alerts, 1)

	anomaly := result.Anomalies[0]
	assert.Equal(t, int64(20), anomaly.ID)
	assert.Equal(t, models.VitalHeartRate, anomaly.Vital)
	assert.Equal(t, 125.0, anomaly.ActualValue)

	alert := result.Alerts[0]
	assert.Equal(t, int64(30), alert.ID)
	require.NotNil(t, alert.AnomalyID)
	assert.Equal(t, int64(20), *alert.AnomalyID)
	assert.Equal(t, models.SeverityYellow, alert.Severity)
	assert.Contains(t, alert.Message, "125")
	assert.False(t, alert.IsResolved)
	assert.Equal(t, created, alert.CreatedAt)

	require.Len(t, n.events, 1)
	assert.Equal(t, notifier.EventAlertCreated, n.events[0].Type)
	require.NotNil(t, n.events[0].Anomaly)
	assert.Equal(t, int64(20), n.events[0].Anomaly.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_DiseaseThresholdsUseCategorySeverity(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newIngestService(db, nil)

	now := time.Now()
	mock.ExpectQuery(`FROM disease_thresholds`).WillReturnRows(sqlmock.NewRows(thresholdRowColumns).
		AddRow(1, "COPD", nil, nil, nil, nil, 92.0, 100.0, nil, nil, nil, nil, nil, nil, now, now))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(`INSERT INTO anomalies`).
		WithArgs(int64(2), int64(11), "spo2", models.CategoryRespiratory, 92.0, 100.0, 88.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs(int64(2), sqlmock.AnyArg(), "red", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(31, now))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID: 2,
		SpO2:      models.Float64Ptr(88),
		HeartRate: models.Float64Ptr(140),
		Source:    models.SourceDevice,
	})
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, models.SeverityRed, result.Alerts[0].Severity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_MissingVitalIsNotAnomalous(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newIngestService(db, nil)

	expectNoThresholds(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID:   3,
		Temperature: models.Float64Ptr(37.0),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_ValidationError(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newIngestService(db, nil)

	_, err := svc.Ingest(context.Background(), models.VitalsSample{PatientID: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Ingest(context.Background(), models.VitalsSample{PatientID: 0, HeartRate: models.Float64Ptr(70)})
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_RollsBackOnAlertFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{}
	svc := newIngestService(db, n)

	expectNoThresholds(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))
	mock.ExpectQuery(`INSERT INTO anomalies`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(23))
	mock.ExpectQuery(`INSERT INTO alerts`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID: 4,
		HeartRate: models.Float64Ptr(150),
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, n.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_NotificationFailureDoesNotFailIngest(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{err: errors.New("webhook down")}
	svc := newIngestService(db, n)

	expectNoThresholds(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(14))
	mock.ExpectQuery(`INSERT INTO anomalies`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(24))
	mock.ExpectQuery(`INSERT INTO alerts`).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(34, time.Now()))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), models.VitalsSample{
		PatientID: 4,
		Pulse:     models.Float64Ptr(40),
	})
	require.NoError(t, err)
	assert.Len(t, result.Alerts, 1)
	assert.Len(t, n.events, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_ThresholdLookupError(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newIngestService(db, nil)

	mock.ExpectQuery(`FROM disease_thresholds`).WillReturnError(errors.New("connection reset"))

	_, err := svc.Ingest(context.Background(), models.VitalsSample{PatientID: 1, HeartRate: models.Float64Ptr(70)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load thresholds")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// AlertService
// ============================================

func newAlertService(db *sql.DB, n notifier.Notifier) *AlertService {
	logger := zap.NewNop()
	return NewAlertService(db, repository.NewAlertRepository(db, logger), n, nil, 100, 500, logger)
}

func TestResolve_OpenAlert(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{}
	svc := newAlertService(db, n)
	fixed := time.Date(2024, 3, 2, 10, 0, 0, 123456000, time.UTC)

	created := fixed.Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow(7, 1, 20, "yellow", "msg", false, created, nil))
	mock.ExpectQuery(`RETURNING resolved_at`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"resolved_at"}).AddRow(fixed))
	mock.ExpectCommit()

	alert, err := svc.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, alert.IsResolved)
	require.NotNil(t, alert.ResolvedAt)
	assert.Equal(t, fixed, *alert.ResolvedAt)
	require.Len(t, n.events, 1)
	assert.Equal(t, notifier.EventAlertResolved, n.events[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_AlreadyResolvedIsIdempotent(t *testing.T) {
	db, mock := setupMockDB(t)
	n := &recordingNotifier{}
	svc := newAlertService(db, n)

	created := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	resolved := created.Add(10 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow(8, 1, 20, "red", "msg", true, created, resolved))
	mock.ExpectCommit()

	alert, err := svc.Resolve(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, alert.IsResolved)
	assert.Equal(t, resolved, *alert.ResolvedAt)
	assert.Empty(t, n.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newAlertService(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectRollback()

	_, err := svc.Resolve(context.Background(), 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertList_ClampsLimit(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newAlertService(db, nil)

	mock.ExpectQuery(`FROM alerts`).WithArgs(500, 0).WillReturnRows(sqlmock.NewRows(alertRowColumns))
	alerts, err := svc.List(context.Background(), models.AlertFilters{Limit: 10000, Skip: -3})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	mock.ExpectQuery(`FROM alerts`).WithArgs(100, 20).WillReturnRows(sqlmock.NewRows(alertRowColumns))
	_, err = svc.List(context.Background(), models.AlertFilters{Skip: 20})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertList_Validation(t *testing.T) {
	db, _ := setupMockDB(t)
	svc := newAlertService(db, nil)

	bad := models.Severity("purple")
	_, err := svc.List(context.Background(), models.AlertFilters{Severity: &bad})
	assert.ErrorIs(t, err, models.ErrValidation)

	after := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	before := after.Add(-time.Hour)
	_, err = svc.List(context.Background(), models.AlertFilters{CreatedAfter: &after, CreatedBefore: &before})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListForPatient_ActiveOnly(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := newAlertService(db, nil)

	created := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`patient_id = \$1 AND is_resolved = \$2`).
		WithArgs(int64(5), false, 50, 0).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow(1, 5, nil, "yellow", "msg", false, created, nil))

	alerts, err := svc.ListForPatient(context.Background(), 5, true, 0, 50)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Nil(t, alerts[0].AnomalyID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// ThresholdService
// ============================================

func TestThresholdService_ActiveFallsBackToDefaults(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewThresholdService(repository.NewThresholdRepository(db, zap.NewNop()), config.DefaultThresholdSet(), zap.NewNop())

	expectNoThresholds(mock)
	set, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.True(t, set.IsDefault)
	assert.Equal(t, models.DefaultThresholdName, set.Disease)

	// 返回副本，修改不影响默认值
	set.HeartRate = &models.Range{Min: 1, Max: 2}
	expectNoThresholds(mock)
	again, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60.0, again.HeartRate.Min)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThresholdService_UpsertRejectsReservedName(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewThresholdService(repository.NewThresholdRepository(db, zap.NewNop()), config.DefaultThresholdSet(), zap.NewNop())

	err := svc.Upsert(context.Background(), &models.ThresholdSet{
		Disease:   models.DefaultThresholdName,
		HeartRate: &models.Range{Min: 50, Max: 110},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, svc.Upsert(context.Background(), nil), models.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThresholdService_Seed(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewThresholdService(repository.NewThresholdRepository(db, zap.NewNop()), config.DefaultThresholdSet(), zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO disease_thresholds`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))
	mock.ExpectQuery(`INSERT INTO disease_thresholds`).
		WillReturnError(errors.New("unique violation"))

	err := svc.Seed(context.Background(), []models.ThresholdSet{
		{Disease: "Hypertension", Systolic: &models.Range{Min: 90, Max: 130}},
		{Disease: "COPD", SpO2: &models.Range{Min: 88, Max: 100}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPD")
	require.NoError(t, mock.ExpectationsWereMet())
}
