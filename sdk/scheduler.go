package sdk

import (
	"sync"
	"time"
)

// repeatingTask runs fn on a fixed interval until stopped. Stop is safe to
// call more than once and waits for the goroutine to exit, so no tick can
// fire after Stop returns.
type repeatingTask struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startRepeatingTask launches the ticker goroutine.
func startRepeatingTask(interval time.Duration, fn func()) *repeatingTask {
	t := &repeatingTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for the goroutine to exit.
func (t *repeatingTask) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// taskSlot holds at most one repeating task. Replace stops the old task
// before starting the new one, so a configuration change can never leave
// two concurrent timers running.
type taskSlot struct {
	mu      sync.Mutex
	current *repeatingTask
}

// Replace atomically swaps in a new repeating task.
func (s *taskSlot) Replace(interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
	}
	s.current = startRepeatingTask(interval, fn)
}

// Stop cancels the current task, if any.
func (s *taskSlot) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
}
