package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/fund-crawler/internal/crawl"
	"github.com/sells-group/fund-crawler/internal/model"
)

type fakeRunner struct {
	calls   atomic.Int32
	err     error
	panics  bool
	delay   time.Duration
	trigger atomic.Value
}

func (f *fakeRunner) Run(_ context.Context, trigger model.CrawlTrigger) (*model.CrawlRun, error) {
	f.calls.Add(1)
	f.trigger.Store(trigger)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("scheduled crash")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.CrawlRun{ID: "r1", Status: model.CrawlStatusComplete}, nil
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(undo)
	return logs
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&fakeRunner{}, "not a cron spec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule: invalid spec")
}

func TestNew_DefaultSpec(t *testing.T) {
	s, err := New(&fakeRunner{}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, s.spec)
}

func TestFire_UsesScheduleTrigger(t *testing.T) {
	logs := observe(t)
	r := &fakeRunner{}
	s, err := New(r, DefaultSpec)
	require.NoError(t, err)

	s.fire()
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, model.CrawlTriggerSchedule, r.trigger.Load())
	assert.Equal(t, 1, logs.FilterMessageSnippet("pages=0").Len())
}

func TestFire_AlreadyRunningIsSkipped(t *testing.T) {
	logs := observe(t)
	s, err := New(&fakeRunner{err: crawl.ErrAlreadyRunning}, DefaultSpec)
	require.NoError(t, err)

	s.fire()
	assert.Equal(t, 1, logs.FilterMessage("schedule: crawl already running, skipping").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestFire_ErrorIsLogged(t *testing.T) {
	logs := observe(t)
	s, err := New(&fakeRunner{err: errors.New("crawl: page 1: 503")}, DefaultSpec)
	require.NoError(t, err)

	assert.NotPanics(t, s.fire)
	assert.Equal(t, 1, logs.FilterMessage("schedule: crawl failed").Len())
}

func TestFire_PanicIsRecovered(t *testing.T) {
	logs := observe(t)
	s, err := New(&fakeRunner{panics: true}, DefaultSpec)
	require.NoError(t, err)

	assert.NotPanics(t, s.fire)
	assert.Equal(t, 1, logs.FilterMessage("schedule: crawl panicked").Len())
}

func TestStartStop_FiresAndWaits(t *testing.T) {
	zap.ReplaceGlobals(zap.NewNop())
	r := &fakeRunner{delay: 200 * time.Millisecond}
	s, err := New(r, "@every 1s")
	require.NoError(t, err)

	s.Start()
	assert.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	start := time.Now()
	s.Stop()
	// Stop returned only after the in-flight run finished.
	assert.Less(t, time.Since(start), 2*time.Second)
	calls := r.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, r.calls.Load())
}

func TestFire_AfterStopIsIgnored(t *testing.T) {
	r := &fakeRunner{}
	s, err := New(r, DefaultSpec)
	require.NoError(t, err)

	s.Stop()
	s.fire()
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestStop_WaitsForConcurrentFire(t *testing.T) {
	r := &fakeRunner{delay: 50 * time.Millisecond}
	s, err := New(r, DefaultSpec)
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		close(started)
		s.fire()
	}()
	<-started
	s.Stop()

	// Either the run was registered before Stop and finished, or it was
	// refused; a run is never left in flight.
	calls := r.calls.Load()
	s.fire()
	assert.Equal(t, calls, r.calls.Load())
	assert.LessOrEqual(t, calls, int32(1))
}
