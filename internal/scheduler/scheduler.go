package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ActivityLevel is global process state governing admission (§4.8).
type ActivityLevel string

const (
	HighActivity ActivityLevel = "HighActivity"
	LowActivity  ActivityLevel = "LowActivity"
	SleepMode    ActivityLevel = "SleepMode"
)

// Handler executes one Task. It must poll ctx at well-defined
// checkpoints and return promptly when ctx is cancelled (§5
// "cooperative checkpoints").
type Handler func(ctx context.Context, t Task) error

// Config configures the admission thresholds from §4.8.
type Config struct {
	Workers                    int
	QueueCapacity              int
	HighActivityRequestsPerMin int
	LowActivityIdleFor         time.Duration
	SleepModeIdleFor           time.Duration
}

// Scheduler is the priority-aware, activity-aware task executor.
type Scheduler struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger

	level atomic.Value // ActivityLevel

	mu       sync.Mutex
	queued   map[string]Task // coalesced by Identity()
	order    []string        // FIFO identities, for stable drain order
	reqTimes []time.Time     // rolling window of recent request arrivals
	lastReq  time.Time

	admit    chan struct{}
	shutdown chan struct{}
}

// New builds a Scheduler. Call Start to begin draining in the
// background.
func New(cfg Config, handler Handler, log zerolog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	s := &Scheduler{
		cfg:      cfg,
		handler:  handler,
		log:      log,
		queued:   make(map[string]Task),
		admit:    make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
	s.level.Store(LowActivity)
	return s
}

// ActivityLevel returns the current global activity level.
func (s *Scheduler) ActivityLevel() ActivityLevel {
	return s.level.Load().(ActivityLevel)
}

// NoteRequest records an inbound request arrival, feeding the activity
// classifier (§4.8). Neither the Dispatcher nor any transport calls it,
// so the classifier sees no request traffic and the level moves only
// through idleTick's elapsed-idle checks.
func (s *Scheduler) NoteRequest() {
	now := time.Now()
	s.mu.Lock()
	s.lastReq = now
	s.reqTimes = append(s.reqTimes, now)
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(s.reqTimes) && s.reqTimes[i].Before(cutoff) {
		i++
	}
	s.reqTimes = s.reqTimes[i:]
	rpm := len(s.reqTimes)
	s.mu.Unlock()

	s.recomputeActivity(rpm, now)
}

func (s *Scheduler) recomputeActivity(rpm int, now time.Time) {
	prev := s.ActivityLevel()

	var next ActivityLevel
	switch {
	case rpm >= s.cfg.HighActivityRequestsPerMin:
		next = HighActivity
	case now.Sub(s.idleSince()) >= s.cfg.SleepModeIdleFor:
		next = SleepMode
	case now.Sub(s.idleSince()) >= s.cfg.LowActivityIdleFor:
		next = LowActivity
	default:
		next = LowActivity
	}

	if next != prev {
		s.level.Store(next)
		s.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("activity level transition")
		s.wake()
	}
}

func (s *Scheduler) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

// idleTick periodically reclassifies activity purely from elapsed
// idle time, since NoteRequest alone never demotes HighActivity back
// down without further request volume to sample.
func (s *Scheduler) idleTick(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			rpm := len(s.reqTimes)
			s.mu.Unlock()
			s.recomputeActivity(rpm, time.Now())
		}
	}
}

// admitted implements the admission table from §4.8.
func admitted(level ActivityLevel, prio Priority) bool {
	switch level {
	case HighActivity:
		return prio == Urgent
	case LowActivity:
		return prio == Urgent || prio == Normal
	case SleepMode:
		return true
	default:
		return prio == Urgent
	}
}

// Submit enqueues a task, coalescing with any queued task sharing the
// same Identity() (§4.8 "coalesced rather than rejected"). Urgent
// tasks run inline rather than queuing, per the admission table's
// "run" entries for every level.
func (s *Scheduler) Submit(ctx context.Context, t Task) error {
	if t.Priority == Urgent {
		return s.handler(ctx, t)
	}

	s.mu.Lock()
	if _, exists := s.queued[t.Identity()]; !exists {
		if len(s.order) >= s.cfg.QueueCapacity {
			// Queue full and no same-identity task to coalesce into:
			// drop the oldest Batch task (or the oldest task when none
			// is Batch) to make room rather than rejecting (queue is
			// bounded, not a hard reject per §4.8).
			if len(s.order) > 0 {
				victim := 0
				for i, id := range s.order {
					if s.queued[id].Priority == Batch {
						victim = i
						break
					}
				}
				delete(s.queued, s.order[victim])
				s.order = append(s.order[:victim], s.order[victim+1:]...)
			}
		}
		s.order = append(s.order, t.Identity())
	}
	s.queued[t.Identity()] = t
	s.mu.Unlock()

	s.wake()
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.admit <- struct{}{}:
	default:
	}
}

// Start launches the worker pool and the idle-activity ticker. It
// blocks until ctx is cancelled, then waits for in-flight tasks to
// observe cancellation at their next checkpoint.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.idleTick(ctx)
		return nil
	})

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			s.drainLoop(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.admit:
		case <-ticker.C:
		}

		for {
			t, ok := s.pop()
			if !ok {
				break
			}
			if err := s.handler(ctx, t); err != nil {
				s.log.Warn().Err(err).Str("task_kind", string(t.Kind)).Msg("scheduled task failed")
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

func (s *Scheduler) pop() (Task, bool) {
	level := s.ActivityLevel()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.order {
		t, ok := s.queued[id]
		if !ok {
			continue
		}
		if !admitted(level, t.Priority) {
			continue
		}
		s.order = append(s.order[:i], s.order[i+1:]...)
		delete(s.queued, id)
		return t, true
	}
	return Task{}, false
}

// QueueDepth reports the number of coalesced tasks currently queued,
// surfaced by the Stats route.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
