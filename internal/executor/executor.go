// Package executor is the node's worker pool: a bounded-concurrency pool
// built on goroutines and a channel-backed semaphore, with per-job panic
// recovery and a diagnostic label per submission.
package executor

import (
	"sync"

	"sskinsert/internal/telemetry"
)

// Job is one unit of executor-run work. Jobs are expected to do their own
// internal error handling; Execute only guards against panics so one job's
// bug cannot take down the pool.
type Job func()

// Pool runs jobs on a bounded number of goroutines.
type Pool struct {
	sem    chan struct{}
	logger telemetry.Logger
	wg     sync.WaitGroup
}

// New creates a pool allowing at most maxConcurrent jobs to run at once.
// maxConcurrent <= 0 means unbounded.
func New(maxConcurrent int, logger telemetry.Logger) *Pool {
	p := &Pool{logger: logger}
	if maxConcurrent > 0 {
		p.sem = make(chan struct{}, maxConcurrent)
	}
	return p
}

// Execute runs job on its own goroutine, labeled for diagnostics. Every
// insert job's Start goes through here.
func (p *Pool) Execute(job Job, label string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		defer func() {
			if r := recover(); r != nil && p.logger != nil {
				p.logger.Printf("executor: job %q panicked: %v", label, r)
			}
		}()
		job()
	}()
}

// Wait blocks until every job submitted so far has returned. Intended for
// tests and clean shutdown, not for steady-state operation.
func (p *Pool) Wait() { p.wg.Wait() }
