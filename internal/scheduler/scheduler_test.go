package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Workers:                    2,
		QueueCapacity:              16,
		HighActivityRequestsPerMin: 3,
		LowActivityIdleFor:         time.Hour, // never trip in a fast test
		SleepModeIdleFor:           2 * time.Hour,
	}
}

func TestUrgentRunsInline(t *testing.T) {
	var ran int32
	s := New(testConfig(), func(ctx context.Context, tsk Task) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, zerolog.Nop())

	err := s.Submit(context.Background(), Task{Kind: PayloadGenerateEmbedding, Priority: Urgent})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestCoalescesSameIdentity(t *testing.T) {
	s := New(testConfig(), func(ctx context.Context, tsk Task) error { return nil }, zerolog.Nop())

	t1 := Task{Kind: PayloadMigrateTier, Priority: Batch, NodeID: "n1"}
	t2 := Task{Kind: PayloadMigrateTier, Priority: Batch, NodeID: "n1", ToTier: "archive"}

	require.NoError(t, s.Submit(context.Background(), t1))
	require.NoError(t, s.Submit(context.Background(), t2))
	require.Equal(t, 1, s.QueueDepth())
}

func TestSleepModeAdmitsEverything(t *testing.T) {
	s := New(testConfig(), func(ctx context.Context, tsk Task) error { return nil }, zerolog.Nop())
	s.level.Store(SleepMode)
	require.True(t, admitted(s.ActivityLevel(), Batch))
}

func TestHighActivityOnlyAdmitsUrgent(t *testing.T) {
	require.True(t, admitted(HighActivity, Urgent))
	require.False(t, admitted(HighActivity, Normal))
	require.False(t, admitted(HighActivity, Batch))
}

func TestEmbeddingPriorityContract(t *testing.T) {
	fast := NewGenerateEmbedding("conversations", "n1", "hi", "Fast")
	accurate := NewGenerateEmbedding("conversations", "n1", "hi", "Accurate")
	require.Equal(t, Urgent, fast.Priority)
	require.Equal(t, Normal, accurate.Priority)
}
