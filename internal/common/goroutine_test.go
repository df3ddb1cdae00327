package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	ran := false
	SafeGo(nil, "test", func() {
		defer wg.Done()
		ran = true
	})

	wg.Wait()
	assert.True(t, ran)
}

func TestSafeGo_RecoversPanicWithoutCrashingTest(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	SafeGo(nil, "panicking", func() {
		defer wg.Done()
		panic("boom")
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete")
	}
}

func TestSafeGoWithContext_SkipsWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	SafeGoWithContext(ctx, nil, "cancelled", func() {
		ran.Store(true)
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestGetGoroutineCount_IncrementsOnSpawn(t *testing.T) {
	before := GetGoroutineCount()

	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo(nil, "count", func() { wg.Done() })
	wg.Wait()

	assert.Greater(t, GetGoroutineCount(), before)
}

func TestRegisterActiveStep_VisibleUntilReleased(t *testing.T) {
	release := RegisterActiveStep("build-artifact")
	assert.Contains(t, ActiveSteps(), "build-artifact")

	release()
	assert.NotContains(t, ActiveSteps(), "build-artifact")
}

func TestRegisterActiveStep_ReleaseIsIdempotent(t *testing.T) {
	release := RegisterActiveStep("idempotent-step")
	release()
	release() // must not underflow the refcount or panic

	assert.NotContains(t, ActiveSteps(), "idempotent-step")
}

func TestRegisterActiveStep_SameNameTracksIndependentInstances(t *testing.T) {
	releaseA := RegisterActiveStep("shared-name")
	releaseB := RegisterActiveStep("shared-name")

	assert.Contains(t, ActiveSteps(), "shared-name")
	releaseA()
	assert.Contains(t, ActiveSteps(), "shared-name", "still held by the second registration")
	releaseB()
	assert.NotContains(t, ActiveSteps(), "shared-name")
}

func TestWriteCrashLog_RecordsRecentGoroutinePanic(t *testing.T) {
	writeCrashLog("scan-logs", "unexpected nil scanner", "")
	panics := RecentGoroutinePanics()
	require.NotEmpty(t, panics)
	last := panics[len(panics)-1]
	assert.Contains(t, last, "scan-logs")
	assert.Contains(t, last, "unexpected nil scanner")
}
