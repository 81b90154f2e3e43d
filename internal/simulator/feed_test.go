package simulator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngester struct {
	mu      sync.Mutex
	calls   map[int64]int
	failFor map[int64]bool
	block   chan struct{}
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{calls: map[int64]int{}, failFor: map[int64]bool{}}
}

func (f *fakeIngester) Ingest(_ context.Context, sample models.VitalsSample) (*models.IngestResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sample.PatientID]++
	if f.failFor[sample.PatientID] {
		return nil, errors.New("database unavailable")
	}
	if sample.Source != models.SourceSimulated {
		return nil, errors.New("unexpected source")
	}
	return &models.IngestResult{Sample: sample}, nil
}

func (f *fakeIngester) count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestFeed(ing Ingester, scan time.Duration) *Feed {
	gen := NewGenerator(rand.New(rand.NewPCG(1, 2)), 0)
	return NewFeed(gen, ing, Options{ScanInterval: scan}, nil, zap.NewNop())
}

func TestFeed_AddPatientIdempotent(t *testing.T) {
	f := newTestFeed(newFakeIngester(), time.Hour)

	added, err := f.AddPatient(1, 0, nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.AddPatient(1, time.Second, []Pattern{PatternExercise})
	require.NoError(t, err)
	assert.False(t, added)

	st := f.Status()
	require.Equal(t, 1, st.PatientCount)
	// 第二次调用不覆盖配置
	assert.Equal(t, 60*time.Second, st.Patients[0].Config.Interval)
	assert.Equal(t, []Pattern{PatternDiurnal}, st.Patients[0].Config.Patterns)
}

func TestFeed_AddPatientValidation(t *testing.T) {
	f := newTestFeed(newFakeIngester(), time.Hour)

	_, err := f.AddPatient(0, 0, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.AddPatient(1, -time.Second, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.AddPatient(1, 0, []Pattern{"sleep"})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 0, f.Status().PatientCount)
}

func TestFeed_RemovePatient(t *testing.T) {
	f := newTestFeed(newFakeIngester(), time.Hour)

	assert.False(t, f.RemovePatient(5))

	_, err := f.AddPatient(5, 0, nil)
	require.NoError(t, err)
	assert.True(t, f.RemovePatient(5))
	assert.False(t, f.RemovePatient(5))
	assert.Equal(t, 0, f.Status().PatientCount)
}

func TestFeed_StartStopNoops(t *testing.T) {
	f := newTestFeed(newFakeIngester(), time.Hour)

	assert.False(t, f.Stop())
	assert.True(t, f.Start(context.Background()))
	assert.True(t, f.IsRunning())
	assert.False(t, f.Start(context.Background()))
	assert.True(t, f.Stop())
	assert.False(t, f.IsRunning())
	assert.False(t, f.Stop())
}

func TestFeed_DispatchesDuePatients(t *testing.T) {
	ing := newFakeIngester()
	f := newTestFeed(ing, 10*time.Millisecond)

	_, err := f.AddPatient(1, 20*time.Millisecond, nil)
	require.NoError(t, err)
	_, err = f.AddPatient(2, time.Hour, nil)
	require.NoError(t, err)

	require.True(t, f.Start(context.Background()))
	defer f.Stop()

	assert.Eventually(t, func() bool { return ing.count(1) >= 3 }, 2*time.Second, 5*time.Millisecond)
	// 间隔一小时的病人只在启动时采样一次
	assert.Equal(t, 1, ing.count(2))

	st := f.Status()
	require.Len(t, st.Patients, 2)
	assert.True(t, st.IsRunning)
	assert.GreaterOrEqual(t, st.Patients[0].Generated, int64(1))
	assert.NotNil(t, st.Patients[0].LastGeneratedAt)
}

func TestFeed_FailureIsolatedPerPatient(t *testing.T) {
	ing := newFakeIngester()
	ing.failFor[1] = true
	f := newTestFeed(ing, 10*time.Millisecond)

	_, _ = f.AddPatient(1, 10*time.Millisecond, nil)
	_, _ = f.AddPatient(2, 10*time.Millisecond, nil)

	require.True(t, f.Start(context.Background()))
	defer f.Stop()

	assert.Eventually(t, func() bool { return ing.count(2) >= 3 && ing.count(1) >= 3 }, 2*time.Second, 5*time.Millisecond)

	st := f.Status()
	require.Len(t, st.Patients, 2)
	assert.Greater(t, st.Patients[0].Failed, int64(0))
	assert.Contains(t, st.Patients[0].LastError, "database unavailable")
	assert.Equal(t, int64(0), st.Patients[1].Failed)
}

func TestFeed_StopWaitsForInFlightTicks(t *testing.T) {
	ing := newFakeIngester()
	ing.block = make(chan struct{})
	f := newTestFeed(ing, 10*time.Millisecond)

	_, _ = f.AddPatient(1, time.Hour, nil)
	require.True(t, f.Start(context.Background()))

	// 等待第一次采样进入 Ingest
	time.Sleep(30 * time.Millisecond)

	stopped := make(chan bool)
	go func() { stopped <- f.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before in-flight tick finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(ing.block)
	select {
	case ok := <-stopped:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, 1, ing.count(1))
	// 停止后注册表清空
	assert.Equal(t, 0, f.Status().PatientCount)
	assert.False(t, f.Status().IsRunning)
}

func TestFeed_ContextCancelStopsLoop(t *testing.T) {
	ing := newFakeIngester()
	f := newTestFeed(ing, 10*time.Millisecond)
	_, _ = f.AddPatient(1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, f.Start(ctx))
	assert.Eventually(t, func() bool { return ing.count(1) >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return !f.IsRunning() }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	n := ing.count(1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, ing.count(1))
	// 外部取消保留注册表，可以重新启动
	assert.Equal(t, 1, f.Status().PatientCount)
	assert.True(t, f.Start(context.Background()))
	assert.True(t, f.Stop())
}

func TestFeed_RestartImmediatelyAfterCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newTestFeed(newFakeIngester(), time.Hour)
		_, _ = f.AddPatient(1, time.Hour, nil)

		ctx, cancel := context.WithCancel(context.Background())
		require.True(t, f.Start(ctx))
		cancel()

		// 旧循环还没退出时重新启动，不能被当成已在运行
		require.True(t, f.Start(context.Background()))
		time.Sleep(2 * time.Millisecond)
		assert.True(t, f.IsRunning())
		assert.Equal(t, 1, f.Status().PatientCount)
		require.True(t, f.Stop())
	}
}

func TestFeed_StatusRunningTime(t *testing.T) {
	f := newTestFeed(newFakeIngester(), time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return base }

	_, _ = f.AddPatient(3, 0, nil)
	_, _ = f.AddPatient(1, 0, nil)

	f.now = func() time.Time { return base.Add(90 * time.Second) }
	st := f.Status()
	require.Len(t, st.Patients, 2)
	assert.Equal(t, int64(1), st.Patients[0].ID)
	assert.Equal(t, int64(3), st.Patients[1].ID)
	assert.Equal(t, 90*time.Second, st.Patients[0].RunningTime)
	assert.Equal(t, base, st.Patients[0].Config.StartedAt)
}
