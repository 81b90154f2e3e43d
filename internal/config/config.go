package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/owl-common/config"
)

// Config 生命体征服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 设备数据接入
	Vitals struct {
		MQTTEnabled bool
		Topics      struct {
			Data string // 设备体征主题，如 "vitals/+/data"
		}
	}

	Thresholds ThresholdConfig

	Alerts struct {
		// 分类 → 级别，未命中使用 FallbackSeverity
		SeverityByCategory map[string]models.Severity
		FallbackSeverity   models.Severity

		ListDefaultLimit int // 列表默认条数，默认 100
		ListMaxLimit     int // 列表最大条数，默认 500

		// 通知
		Stream         string // Redis Stream 名称
		StreamMaxLen   int64
		StreamEnabled  bool
		WebhookURL     string // 为空则不推送
		WebhookTimeout time.Duration
	}

	Simulator struct {
		ScanInterval       time.Duration // 调度检查间隔，默认 5 秒
		DefaultInterval    time.Duration // 单个病人默认采样间隔，默认 60 秒
		DefaultPatterns    []string
		AnomalyProbability float64 // 每次采样注入越界值的概率，默认 0.03
		AutoStart          bool
		Patients           []int64 // 启动时自动加入模拟的病人
	}

	Metrics struct {
		Addr string // Prometheus 监听地址，为空则不启动
	}

	Log struct {
		Level  string
		Format string
	}
}

// ThresholdConfig 阈值配置
type ThresholdConfig struct {
	// Default 数据库中没有任何疾病阈值时使用
	Default models.ThresholdSet
	// SeedFile 启动时导入的 YAML 阈值文件
	SeedFile string
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vitals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-vitals")
	cfg.MQTT.QoS = 1
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	if cfg.Vitals.MQTTEnabled, err = getEnvBool("VITALS_MQTT_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Vitals.Topics.Data = getEnv("VITALS_MQTT_TOPIC", "vitals/+/data")

	// 阈值
	cfg.Thresholds.Default = DefaultThresholdSet()
	for _, v := range models.AllVitals {
		key := "THRESHOLD_DEFAULT_" + strings.ToUpper(string(v))
		r, err := getEnvRange(key)
		if err != nil {
			return nil, err
		}
		if r != nil {
			cfg.Thresholds.Default.SetRange(v, r)
		}
	}
	if err := cfg.Thresholds.Default.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default thresholds: %w", err)
	}
	cfg.Thresholds.SeedFile = getEnv("THRESHOLD_SEED_FILE", "")

	// 报警
	cfg.Alerts.SeverityByCategory = DefaultSeverityPolicy()
	for _, category := range []string{
		models.CategoryCardiovascular,
		models.CategoryRespiratory,
		models.CategorySystemic,
		models.CategoryGeneralHealth,
	} {
		key := "ALERT_SEVERITY_" + strings.ToUpper(strings.ReplaceAll(category, " ", "_"))
		if raw := os.Getenv(key); raw != "" {
			sev, err := models.ParseSeverity(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			cfg.Alerts.SeverityByCategory[category] = sev
		}
	}
	cfg.Alerts.FallbackSeverity = models.SeverityYellow
	if raw := os.Getenv("ALERT_SEVERITY_FALLBACK"); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			return nil, fmt.Errorf("ALERT_SEVERITY_FALLBACK: %w", err)
		}
		cfg.Alerts.FallbackSeverity = sev
	}
	if cfg.Alerts.ListDefaultLimit, err = getEnvInt("ALERT_LIST_DEFAULT_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.Alerts.ListMaxLimit, err = getEnvInt("ALERT_LIST_MAX_LIMIT", 500); err != nil {
		return nil, err
	}
	if cfg.Alerts.ListDefaultLimit > cfg.Alerts.ListMaxLimit {
		cfg.Alerts.ListDefaultLimit = cfg.Alerts.ListMaxLimit
	}
	cfg.Alerts.Stream = getEnv("ALERT_STREAM", "vitals:alerts:stream")
	cfg.Alerts.StreamMaxLen = 10000
	if cfg.Alerts.StreamEnabled, err = getEnvBool("ALERT_STREAM_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	if cfg.Alerts.WebhookTimeout, err = getEnvDuration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	// 模拟数据
	if cfg.Simulator.ScanInterval, err = getEnvDuration("SIMULATOR_SCAN_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Simulator.DefaultInterval, err = getEnvDuration("SIMULATOR_DEFAULT_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	cfg.Simulator.DefaultPatterns = splitList(getEnv("SIMULATOR_DEFAULT_PATTERNS", "diurnal"))
	if cfg.Simulator.AnomalyProbability, err = getEnvFloat("SIMULATOR_ANOMALY_PROBABILITY", 0.03); err != nil {
		return nil, err
	}
	if cfg.Simulator.AnomalyProbability < 0 || cfg.Simulator.AnomalyProbability > 1 {
		return nil, fmt.Errorf("SIMULATOR_ANOMALY_PROBABILITY must be within [0, 1]")
	}
	if cfg.Simulator.AutoStart, err = getEnvBool("SIMULATOR_AUTOSTART", false); err != nil {
		return nil, err
	}
	for _, raw := range splitList(getEnv("SIMULATOR_PATIENTS", "")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("SIMULATOR_PATIENTS: invalid patient id %q", raw)
		}
		cfg.Simulator.Patients = append(cfg.Simulator.Patients, id)
	}

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9108")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// DefaultThresholdSet 通用阈值（未配置疾病阈值时使用）
func DefaultThresholdSet() models.ThresholdSet {
	return models.ThresholdSet{
		Disease:     models.DefaultThresholdName,
		IsDefault:   true,
		HeartRate:   &models.Range{Min: 60, Max: 100},
		Temperature: &models.Range{Min: 36.5, Max: 37.5},
		SpO2:        &models.Range{Min: 95, Max: 100},
		Systolic:    &models.Range{Min: 90, Max: 140},
		Diastolic:   &models.Range{Min: 60, Max: 90},
		Pulse:       &models.Range{Min: 60, Max: 100},
	}
}

// DefaultSeverityPolicy 疾病分类为红色，通用健康为黄色
func DefaultSeverityPolicy() map[string]models.Severity {
	return map[string]models.Severity{
		models.CategoryCardiovascular: models.SeverityRed,
		models.CategoryRespiratory:    models.SeverityRed,
		models.CategorySystemic:       models.SeverityRed,
		models.CategoryGeneralHealth:  models.SeverityYellow,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return v, nil
}

// getEnvRange 解析 "min,max"，未设置返回 nil
func getEnvRange(key string) (*models.Range, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%s: expected \"min,max\", got %q", key, raw)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid min %q", key, parts[0])
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid max %q", key, parts[1])
	}
	return &models.Range{Min: min, Max: max}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
