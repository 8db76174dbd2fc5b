package weaver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ocentra/tabagentd/internal/eventbus"
	"github.com/ocentra/tabagentd/internal/scheduler"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (r *recordingSubmitter) Submit(ctx context.Context, t scheduler.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestWeaverDispatchesToModules(t *testing.T) {
	sub := &recordingSubmitter{}
	w := New(sub, zerolog.Nop(), SemanticIndexer{Class: models.EmbeddingFast}, EntityLinker{}, AssociativeLinker{})

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx, bus)

	bus.Publish(eventbus.Event{Kind: eventbus.NodeCreated, NodeType: models.NodeMessage, NodeID: "n1"})

	require.Eventually(t, func() bool { return sub.count() == 3 }, time.Second, 10*time.Millisecond)
	cancel()
}

func TestWeaverDropsBeyondCauseChainDepth(t *testing.T) {
	sub := &recordingSubmitter{}
	w := New(sub, zerolog.Nop(), SemanticIndexer{Class: models.EmbeddingFast})

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, bus)

	bus.Publish(eventbus.Event{Kind: eventbus.NodeCreated, NodeType: models.NodeMessage, NodeID: "n1", CauseChainDepth: MaxCauseChainDepth})

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sub.count())
}
