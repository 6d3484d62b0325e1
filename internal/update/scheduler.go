// SPDX-License-Identifier: MPL-2.0

package update

import (
	"sync"
	"time"
)

type (
	// Scheduler defers a callback by a delay. The orchestrator uses it for
	// the one-shot post-success readiness re-check; hosts with their own
	// event loop supply an implementation that runs the callback there.
	Scheduler interface {
		Schedule(delay time.Duration, fn func())
	}

	// TimerScheduler runs callbacks on ordinary timer goroutines. Wait
	// blocks until every scheduled callback has finished, which short-lived
	// processes use to avoid exiting before the re-check fires.
	TimerScheduler struct {
		wg sync.WaitGroup
	}
)

// Schedule implements Scheduler using time.AfterFunc.
func (s *TimerScheduler) Schedule(delay time.Duration, fn func()) {
	s.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer s.wg.Done()
		fn()
	})
}

// Wait blocks until all callbacks scheduled so far have completed.
func (s *TimerScheduler) Wait() {
	s.wg.Wait()
}
