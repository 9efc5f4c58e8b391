package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
)

func TestDrainer_TracksInFlight(t *testing.T) {
	logger, metrics := testObservability()
	drainer := NewDrainer("api_server", DefaultDrainerConfig, logger, metrics)

	exit1, err := drainer.Enter(context.Background())
	require.NoError(t, err)
	exit2, err := drainer.Enter(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), drainer.InFlight())

	exit1()
	exit2()
	assert.Equal(t, int64(0), drainer.InFlight())
}

func TestDrainer_RejectsWhileDraining(t *testing.T) {
	logger, metrics := testObservability()
	drainer := NewDrainer("api_server", DefaultDrainerConfig, logger, metrics)

	drainer.StartDraining()
	assert.True(t, drainer.IsDraining())

	_, err := drainer.Enter(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ClassDraining, apperrors.ClassOf(err))
}

func TestDrainer_WaitForDrain(t *testing.T) {
	logger, metrics := testObservability()
	drainer := NewDrainer("api_server", DrainerConfig{
		DrainTimeout:  time.Second,
		CheckInterval: 10 * time.Millisecond,
	}, logger, metrics)

	exit, err := drainer.Enter(context.Background())
	require.NoError(t, err)

	drainer.StartDraining()
	go func() {
		time.Sleep(50 * time.Millisecond)
		exit()
	}()

	assert.True(t, drainer.WaitForDrain(context.Background()))
}

func TestDrainer_WaitForDrainTimeout(t *testing.T) {
	logger, metrics := testObservability()
	drainer := NewDrainer("api_server", DrainerConfig{
		DrainTimeout:  50 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	}, logger, metrics)

	// A request that never finishes
	_, err := drainer.Enter(context.Background())
	require.NoError(t, err)

	drainer.StartDraining()
	assert.False(t, drainer.WaitForDrain(context.Background()))
}

func TestDrainer_Metrics(t *testing.T) {
	logger, metrics := testObservability()
	drainer := NewDrainer("api_server", DefaultDrainerConfig, logger, metrics)

	exit, err := drainer.Enter(context.Background())
	require.NoError(t, err)
	defer exit()

	snapshot := drainer.Metrics()
	assert.Equal(t, false, snapshot["draining"])
	assert.Equal(t, int64(1), snapshot["in_flight"])
}
