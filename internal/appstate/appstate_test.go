package appstate

import (
	"testing"

	"github.com/ocentra/tabagentd/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Version:    "test",
		DistRoot:   t.TempDir(),
		ModelsRoot: t.TempDir(),
		Scheduler: config.SchedulerConfig{
			HighActivityRequestsPerMin: 30,
			QueueCapacity:              64,
		},
	}
}

func TestNewWiresSubsystemsWithoutMLRPC(t *testing.T) {
	as, err := New(testConfig(t), zerolog.Nop(), WithoutMLRPC())
	require.NoError(t, err)
	require.NotNil(t, as.Storage)
	require.NotNil(t, as.Cache)
	require.NotNil(t, as.Loader)
	require.NotNil(t, as.Scheduler)
	require.NotNil(t, as.Weaver)
	require.Nil(t, as.ML)
	require.NoError(t, as.Close())
}
