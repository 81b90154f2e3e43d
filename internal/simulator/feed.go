package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Ingester 样本接入，与真实设备数据走同一条流水线
type Ingester interface {
	Ingest(ctx context.Context, sample models.VitalsSample) (*models.IngestResult, error)
}

// Options 模拟器参数
type Options struct {
	ScanInterval    time.Duration // 调度检查间隔
	DefaultInterval time.Duration // 未指定时的采样间隔
	DefaultPatterns []Pattern     // 未指定时的模式
}

// PatientConfig 单个病人的模拟配置
type PatientConfig struct {
	Interval  time.Duration `json:"interval"`
	Patterns  []Pattern     `json:"patterns"`
	StartedAt time.Time     `json:"started_at"`
}

// PatientStatus 单个病人的运行状态
type PatientStatus struct {
	ID              int64         `json:"id"`
	Config          PatientConfig `json:"config"`
	RunningTime     time.Duration `json:"running_time"`
	Generated       int64         `json:"generated"`
	Failed          int64         `json:"failed"`
	LastGeneratedAt *time.Time    `json:"last_generated_at,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
}

// Status 模拟器状态
type Status struct {
	IsRunning    bool            `json:"is_running"`
	PatientCount int             `json:"patient_count"`
	Patients     []PatientStatus `json:"patients"`
}

type patientState struct {
	config          PatientConfig
	lastRun         time.Time
	inFlight        bool
	generated       int64
	failed          int64
	lastGeneratedAt *time.Time
	lastError       string
}

// Feed 模拟数据源
// 注册表由读写锁保护，运行标志为原子变量；每个到期病人一个 goroutine，互不影响
type Feed struct {
	generator *Generator
	ingester  Ingester
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
	now       func() time.Time

	running atomic.Bool

	mu       sync.RWMutex
	patients map[int64]*patientState

	lifecycle sync.Mutex
	loopCtx   context.Context
	stopCh    chan struct{}
	loopDone  chan struct{}
	inFlight  sync.WaitGroup
}

// NewFeed 创建模拟数据源
func NewFeed(generator *Generator, ingester Ingester, opts Options, m *metrics.Metrics, logger *zap.Logger) *Feed {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 5 * time.Second
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 60 * time.Second
	}
	if len(opts.DefaultPatterns) == 0 {
		opts.DefaultPatterns = []Pattern{PatternDiurnal}
	}
	return &Feed{
		generator: generator,
		ingester:  ingester,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		patients:  make(map[int64]*patientState),
	}
}

// ParsePatterns 校验模式名
func ParsePatterns(names []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(names))
	for _, n := range names {
		p := Pattern(n)
		if !p.Valid() {
			return nil, models.NewValidationError("patterns", fmt.Sprintf("unknown pattern %q", n))
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// ============================================
// 生命周期
// ============================================

// Start 启动调度循环；已在运行时返回 false
// 上一轮的 ctx 已取消但循环尚未退出时，先等它退出再启动
func (f *Feed) Start(ctx context.Context) bool {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	if f.running.Load() && f.loopCtx != nil && f.loopCtx.Err() != nil {
		<-f.loopDone
	}

	if !f.running.CompareAndSwap(false, true) {
		f.logger.Warn("Simulated feed is already running")
		return false
	}

	f.loopCtx = ctx
	f.stopCh = make(chan struct{})
	f.loopDone = make(chan struct{})
	go f.loop(ctx, f.stopCh, f.loopDone)

	f.logger.Info("Simulated feed started",
		zap.Duration("scan_interval", f.opts.ScanInterval),
	)
	return true
}

// Stop 停止调度并等待进行中的采样完成，然后清空注册表；已停止时返回 false
func (f *Feed) Stop() bool {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	if !f.running.CompareAndSwap(true, false) {
		f.logger.Warn("Simulated feed is not running")
		return false
	}

	close(f.stopCh)
	<-f.loopDone
	f.inFlight.Wait()

	f.mu.Lock()
	f.patients = make(map[int64]*patientState)
	f.mu.Unlock()
	f.metrics.SetSimulatorPatients(0)

	f.logger.Info("Simulated feed stopped")
	return true
}

// IsRunning 是否在运行
func (f *Feed) IsRunning() bool {
	return f.running.Load()
}

func (f *Feed) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.opts.ScanInterval)
	defer ticker.Stop()

	f.dispatchDue(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			// 外部取消视同停止，但保留注册表
			f.running.Store(false)
			f.inFlight.Wait()
			f.logger.Info("Simulated feed cancelled")
			return
		case <-ticker.C:
			if !f.running.Load() {
				return
			}
			f.dispatchDue(ctx)
		}
	}
}

type job struct {
	patientID int64
	patterns  []Pattern
	at        time.Time
}

// dispatchDue 为每个到期且没有进行中采样的病人启动一次采样
func (f *Feed) dispatchDue(ctx context.Context) {
	now := f.now()

	f.mu.Lock()
	jobs := make([]job, 0, len(f.patients))
	for id, st := range f.patients {
		if st.inFlight {
			continue
		}
		if !st.lastRun.IsZero() && now.Sub(st.lastRun) < st.config.Interval {
			continue
		}
		st.inFlight = true
		st.lastRun = now
		jobs = append(jobs, job{
			patientID: id,
			patterns:  append([]Pattern(nil), st.config.Patterns...),
			at:        now,
		})
	}
	f.mu.Unlock()

	for _, j := range jobs {
		f.inFlight.Add(1)
		go f.tick(ctx, j)
	}
}

func (f *Feed) tick(ctx context.Context, j job) {
	defer f.inFlight.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		f.finish(j, err)
	}()

	sample, injected := f.generator.Generate(j.patientID, j.at, j.patterns)
	if injected != "" {
		f.logger.Info("Injected simulated anomaly",
			zap.Int64("patient_id", j.patientID),
			zap.String("vital", string(injected)),
			zap.Float64("value", *sample.Value(injected)),
		)
	}

	_, err = f.ingester.Ingest(ctx, sample)
}

func (f *Feed) finish(j job, err error) {
	f.mu.Lock()
	if st, ok := f.patients[j.patientID]; ok {
		st.inFlight = false
		if err != nil {
			st.failed++
			st.lastError = err.Error()
		} else {
			at := j.at
			st.generated++
			st.lastGeneratedAt = &at
			st.lastError = ""
		}
	}
	f.mu.Unlock()

	f.metrics.SimulatorTick(err == nil)
	if err != nil {
		f.logger.Error("Failed to generate simulated vitals",
			zap.Int64("patient_id", j.patientID),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("Generated simulated vitals", zap.Int64("patient_id", j.patientID))
}

// ============================================
// 注册表
// ============================================

// AddPatient 加入模拟；已存在返回 false。interval 为 0、patterns 为空时使用默认值
func (f *Feed) AddPatient(patientID int64, interval time.Duration, patterns []Pattern) (bool, error) {
	if patientID <= 0 {
		return false, models.NewValidationError("patient_id", "must be positive")
	}
	if interval < 0 {
		return false, models.NewValidationError("interval", "must not be negative")
	}
	for _, p := range patterns {
		if !p.Valid() {
			return false, models.NewValidationError("patterns", fmt.Sprintf("unknown pattern %q", p))
		}
	}
	if interval == 0 {
		interval = f.opts.DefaultInterval
	}
	if len(patterns) == 0 {
		patterns = f.opts.DefaultPatterns
	}

	f.mu.Lock()
	if _, exists := f.patients[patientID]; exists {
		f.mu.Unlock()
		f.logger.Warn("Patient is already being simulated", zap.Int64("patient_id", patientID))
		return false, nil
	}
	f.patients[patientID] = &patientState{
		config: PatientConfig{
			Interval:  interval,
			Patterns:  append([]Pattern(nil), patterns...),
			StartedAt: f.now(),
		},
	}
	count := len(f.patients)
	f.mu.Unlock()

	f.metrics.SetSimulatorPatients(count)
	f.logger.Info("Added patient to simulation",
		zap.Int64("patient_id", patientID),
		zap.Duration("interval", interval),
	)
	return true, nil
}

// RemovePatient 移出模拟；不存在返回 false。进行中的采样会正常完成
func (f *Feed) RemovePatient(patientID int64) bool {
	f.mu.Lock()
	if _, exists := f.patients[patientID]; !exists {
		f.mu.Unlock()
		f.logger.Warn("Patient is not being simulated", zap.Int64("patient_id", patientID))
		return false
	}
	delete(f.patients, patientID)
	count := len(f.patients)
	f.mu.Unlock()

	f.metrics.SetSimulatorPatients(count)
	f.logger.Info("Removed patient from simulation", zap.Int64("patient_id", patientID))
	return true
}

// Status 当前状态，病人按 ID 排序
func (f *Feed) Status() Status {
	now := f.now()

	f.mu.RLock()
	patients := make([]PatientStatus, 0, len(f.patients))
	for id, st := range f.patients {
		ps := PatientStatus{
			ID:          id,
			Config:      st.config,
			RunningTime: now.Sub(st.config.StartedAt),
			Generated:   st.generated,
			Failed:      st.failed,
			LastError:   st.lastError,
		}
		ps.Config.Patterns = append([]Pattern(nil), st.config.Patterns...)
		if st.lastGeneratedAt != nil {
			at := *st.lastGeneratedAt
			ps.LastGeneratedAt = &at
		}
		patients = append(patients, ps)
	}
	f.mu.RUnlock()

	sort.Slice(patients, func(i, j int) bool { return patients[i].ID < patients[j].ID })

	return Status{
		IsRunning:    f.running.Load(),
		PatientCount: len(patients),
		Patients:     patients,
	}
}
