package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
)

func TestBulkhead_AllowsUpToMaxConcurrent(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 3,
		MaxWait:       time.Second,
	}, logger, metrics)

	var releases []func()
	for i := 0; i < 3; i++ {
		release, err := bulkhead.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}

	snapshot := bulkhead.Metrics()
	assert.Equal(t, int64(3), snapshot["active_calls"])

	for _, release := range releases {
		release()
	}
	assert.Equal(t, int64(0), bulkhead.Metrics()["active_calls"])
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("write_operations", BulkheadConfig{
		MaxConcurrent: 1,
		MaxWait:       50 * time.Millisecond,
	}, logger, metrics)

	release, err := bulkhead.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = bulkhead.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ClassBulkheadFull, apperrors.ClassOf(err))
	assert.Equal(t, int64(1), bulkhead.Metrics()["rejected_calls"])
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 1,
		MaxWait:       time.Second,
	}, logger, metrics)

	release, err := bulkhead.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	second, err := bulkhead.Acquire(context.Background())
	require.NoError(t, err)
	second()
}

func TestBulkhead_ReleaseIsIdempotent(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 2,
		MaxWait:       time.Second,
	}, logger, metrics)

	release, err := bulkhead.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, int64(0), bulkhead.Metrics()["active_calls"])
}

func TestBulkhead_ContextCancellation(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 1,
		MaxWait:       time.Minute,
	}, logger, metrics)

	release, err := bulkhead.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = bulkhead.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBulkhead_Execute(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 5,
		MaxWait:       time.Second,
	}, logger, metrics)

	result, err := bulkhead.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestBulkhead_ConcurrentLoad(t *testing.T) {
	logger, metrics := testObservability()
	bulkhead := NewBulkhead("read_operations", BulkheadConfig{
		MaxConcurrent: 10,
		MaxWait:       time.Second,
	}, logger, metrics)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = bulkhead.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
				time.Sleep(time.Millisecond)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	snapshot := bulkhead.Metrics()
	assert.Equal(t, int64(0), snapshot["active_calls"])
	assert.Equal(t, int64(50), snapshot["total_calls"])
}

func TestBulkheadManager(t *testing.T) {
	logger, metrics := testObservability()
	manager := NewBulkheadManager(DefaultBulkheadConfigs, logger, metrics)

	read := manager.GetBulkhead(BulkheadRead)
	require.NotNil(t, read)
	assert.Same(t, read, manager.GetBulkhead(BulkheadRead))

	all := manager.AllMetrics()
	assert.Contains(t, all, BulkheadRead)
	assert.Contains(t, all, BulkheadWrite)
	assert.Contains(t, all, BulkheadAudit)
}
