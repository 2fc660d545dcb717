package call

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a handle on a repeating scheduled callback.
type Task interface {
	// Stop cancels the task. It does not wait for a callback already
	// running; callers must treat a late callback as stale. Idempotent.
	Stop()
}

// Scheduler runs fn every interval until the returned task is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// TickerScheduler schedules tasks on time.Ticker.
type TickerScheduler struct{}

// Every starts a goroutine calling fn on each tick.
func (TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

type tickerTask struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.done) })
}

// ManualScheduler runs tasks only when Fire is called. Used by tests and
// by callers that drive the cadence themselves.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
	last  time.Duration
}

type manualTask struct {
	fn      func()
	stopped atomic.Bool
}

func (t *manualTask) Stop() {
	t.stopped.Store(true)
}

// Every registers fn without starting any timer.
func (s *ManualScheduler) Every(interval time.Duration, fn func()) Task {
	t := &manualTask{fn: fn}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.last = interval
	s.mu.Unlock()
	return t
}

// Fire runs one tick of every live task and returns how many ran.
// Stopped tasks are released.
func (s *ManualScheduler) Fire() int {
	s.mu.Lock()
	s.tasks = slices.DeleteFunc(s.tasks, func(t *manualTask) bool {
		return t.stopped.Load()
	})
	live := slices.Clone(s.tasks)
	s.mu.Unlock()

	n := 0
	for _, t := range live {
		if t.stopped.Load() {
			continue
		}
		t.fn()
		n++
	}
	return n
}

// Active returns the number of tasks not yet stopped.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

// LastInterval returns the interval of the most recently registered task,
// zero if none.
func (s *ManualScheduler) LastInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Len returns the number of tasks held, stopped ones included until the
// next Fire.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
