package ratelimit

import (
	"sync"
	"time"
)

// janitor runs a sweep function on a fixed interval until stopped.
type janitor struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startJanitor(interval time.Duration, sweep func()) *janitor {
	j := &janitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if interval <= 0 {
		close(j.done)
		return j
	}

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-j.stop:
				return
			}
		}
	}()

	return j
}

// Stop halts the sweep loop and waits for it to exit. Safe to call more
// than once.
func (j *janitor) Stop() {
	j.once.Do(func() {
		close(j.stop)
	})
	<-j.done
}
