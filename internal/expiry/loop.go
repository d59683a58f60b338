package expiry

import (
	"log"
	"sync"
	"time"
)

// Loop runs fn on a fixed interval between Start and Stop.
type Loop struct {
	interval time.Duration
	fn       func(now time.Time)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLoop returns a stopped loop. An interval <= 0 yields a loop whose Start
// is a no-op.
func NewLoop(interval time.Duration, fn func(now time.Time)) *Loop {
	return &Loop{interval: interval, fn: fn}
}

func (l *Loop) Start() {
	if l == nil || l.interval <= 0 || l.fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.wg.Add(1)
	go l.run(l.stopCh)
}

// Stop cancels the loop and waits for an in-progress tick to finish.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(stopCh <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

func (l *Loop) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("expiry loop tick panic: %v", r)
		}
	}()
	l.fn(now)
}
