package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/notifier"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/simulator"
	"wisefido-vitals/owl-common/database"
	mqttcommon "wisefido-vitals/owl-common/mqtt"
	rediscommon "wisefido-vitals/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VitalsService 生命体征服务（整合各层）
type VitalsService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger
	metrics     *metrics.Metrics

	// 各层组件
	thresholds    *ThresholdService
	ingest        *IngestService
	alerts        *AlertService
	anomalyRepo   *repository.AnomalyRepository
	feed          *simulator.Feed
	mqttConsumer  *consumer.MQTTConsumer
	metricsServer *http.Server
}

// NewVitalsService 连接数据库、Redis、MQTT 并创建服务
// Redis 只在启用报警流时连接，MQTT 只在启用设备接入时连接
func NewVitalsService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	var redisClient *redis.Client
	if cfg.Alerts.StreamEnabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			redisClient.Close()
			database.Close(db)
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	// 3. 连接 MQTT
	var mqttClient *mqttcommon.Client
	if cfg.Vitals.MQTTEnabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			rediscommon.Close(redisClient)
			database.Close(db)
			return nil, err
		}
	}

	s, err := newVitalsService(cfg, db, redisClient, logger)
	if err != nil {
		if mqttClient != nil {
			mqttClient.Disconnect()
		}
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, err
	}

	if mqttClient != nil {
		s.mqttClient = mqttClient
		s.mqttConsumer = consumer.NewMQTTConsumer(mqttClient, s.ingest, cfg.Vitals.Topics.Data, cfg.MQTT.QoS, logger)
	}
	return s, nil
}

// newVitalsService 在已建立的连接上组装各层；redisClient 可以为 nil
func newVitalsService(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) (*VitalsService, error) {
	m := metrics.New()

	// 1. Repository 层
	vitalsRepo := repository.NewVitalsRepository(db, logger)
	anomalyRepo := repository.NewAnomalyRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	thresholdRepo := repository.NewThresholdRepository(db, logger)

	// 2. 通知渠道
	var channels []notifier.Notifier
	if redisClient != nil {
		channels = append(channels, notifier.NewStreamNotifier(redisClient, cfg.Alerts.Stream, cfg.Alerts.StreamMaxLen, logger))
	}
	if cfg.Alerts.WebhookURL != "" {
		channels = append(channels, notifier.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout, logger))
	}
	var n notifier.Notifier
	if multi := notifier.NewMulti(channels...); multi.Len() > 0 {
		n = multi
	}

	// 3. Evaluator 层
	detector := evaluator.NewDetector()
	escalator := evaluator.NewEscalator(evaluator.SeverityPolicy{
		ByCategory: cfg.Alerts.SeverityByCategory,
		Fallback:   cfg.Alerts.FallbackSeverity,
	})

	// 4. Service 层
	thresholds := NewThresholdService(thresholdRepo, cfg.Thresholds.Default, logger)
	ingest := NewIngestService(db, thresholds, vitalsRepo, anomalyRepo, alertRepo, detector, escalator, n, m, logger)
	alerts := NewAlertService(db, alertRepo, n, m, cfg.Alerts.ListDefaultLimit, cfg.Alerts.ListMaxLimit, logger)

	// 5. 模拟数据源
	patterns, err := simulator.ParsePatterns(cfg.Simulator.DefaultPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid simulator patterns: %w", err)
	}
	seed := uint64(time.Now().UnixNano())
	generator := simulator.NewGenerator(rand.New(rand.NewPCG(seed, seed>>1|1)), cfg.Simulator.AnomalyProbability)
	feed := simulator.NewFeed(generator, ingest, simulator.Options{
		ScanInterval:    cfg.Simulator.ScanInterval,
		DefaultInterval: cfg.Simulator.DefaultInterval,
		DefaultPatterns: patterns,
	}, m, logger)

	s := &VitalsService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		metrics:     m,
		thresholds:  thresholds,
		ingest:      ingest,
		alerts:      alerts,
		anomalyRepo: anomalyRepo,
		feed:        feed,
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		s.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// Thresholds 阈值服务
func (s *VitalsService) Thresholds() *ThresholdService { return s.thresholds }

// Ingest 接入服务
func (s *VitalsService) Ingest() *IngestService { return s.ingest }

// Alerts 报警服务
func (s *VitalsService) Alerts() *AlertService { return s.alerts }

// Anomalies 异常仓库（只读查询）
func (s *VitalsService) Anomalies() *repository.AnomalyRepository { return s.anomalyRepo }

// Feed 模拟数据源
func (s *VitalsService) Feed() *simulator.Feed { return s.feed }

// Prepare 建表并导入阈值种子文件
func (s *VitalsService) Prepare(ctx context.Context) error {
	if err := repository.EnsureSchema(ctx, s.db); err != nil {
		return err
	}

	if s.config.Thresholds.SeedFile == "" {
		return nil
	}
	sets, err := config.LoadThresholdSeed(s.config.Thresholds.SeedFile)
	if err != nil {
		return err
	}
	return s.thresholds.Seed(ctx, sets)
}

// Start 启动服务，阻塞到 ctx 取消
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service",
		zap.Bool("mqtt_enabled", s.mqttConsumer != nil),
		zap.Bool("simulator_autostart", s.config.Simulator.AutoStart),
	)

	if err := s.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to prepare storage: %w", err)
	}

	errChan := make(chan error, 1)
	if s.metricsServer != nil {
		go func() {
			s.logger.Info("Metrics server listening", zap.String("addr", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT consumer: %w", err)
		}
	}

	if s.config.Simulator.AutoStart {
		for _, id := range s.config.Simulator.Patients {
			if _, err := s.feed.AddPatient(id, 0, nil); err != nil {
				return fmt.Errorf("failed to add simulated patient %d: %w", id, err)
			}
		}
		s.feed.Start(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务
func (s *VitalsService) Stop() error {
	s.logger.Info("Stopping vitals service")

	if s.feed.IsRunning() {
		s.feed.Stop()
	}

	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	if s.mqttClient != nil {
		if s.mqttClient.IsConnected() {
			s.mqttClient.Disconnect()
		} else {
			s.logger.Warn("MQTT client already disconnected")
		}
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shut down metrics server", zap.Error(err))
		}
	}

	// 关闭 Redis 连接
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	// 关闭数据库连接
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}
