// Package batch fans a list of independent chat requests out across the
// Dispatcher with bounded concurrency, preserving input order in the
// successful results and collecting failures separately.
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alcray/trainforge-conductor/internal/conductor"
)

// dispatcher is the subset of *dispatcher.Dispatcher the coordinator needs.
type dispatcher interface {
	Handle(ctx context.Context, req *conductor.ChatRequest) (*conductor.ChatResponse, error)
}

// Failure describes one batch position that did not complete successfully.
type Failure struct {
	Index        int    `json:"index"`
	ErrorMessage string `json:"error_message"`
}

// Result is the aggregated outcome of one batch call.
type Result struct {
	Responses   []*conductor.ChatResponse `json:"responses"`
	Failed      []Failure                 `json:"failed"`
	TotalTimeMs int64                     `json:"total_time_ms"`
}

// Coordinator fans requests out to a Dispatcher with a concurrency ceiling.
type Coordinator struct {
	dispatcher dispatcher
	now        func() time.Time
}

// New builds a Coordinator over the given Dispatcher.
func New(d dispatcher, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{dispatcher: d, now: now}
}

// Handle dispatches every request in reqs concurrently, bounded by a
// semaphore sized totalKeys*2 (oversubscribed slightly against combined RPM
// capacity). If waitForAll is true, it blocks until every request settles.
// If false, it returns as soon as a strict majority (>50%) have completed,
// cancelling the context shared by the remaining in-flight calls; those
// calls settle their reservations on cancellation rather than releasing
// them, since tokens may already have been spent upstream.
func (c *Coordinator) Handle(ctx context.Context, reqs []*conductor.ChatRequest, waitForAll bool, totalKeys int) Result {
	start := c.now()
	n := len(reqs)
	responses := make([]*conductor.ChatResponse, n)
	errs := make([]error, n)

	ceiling := int64(max(totalKeys*2, 1))
	sem := semaphore.NewWeighted(ceiling)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	completed := 0
	majority := n/2 + 1
	done := make(chan struct{})
	var doneOnce sync.Once

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *conductor.ChatRequest) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				errs[i] = err
				completed++
				if !waitForAll && completed >= majority {
					doneOnce.Do(func() { close(done) })
				}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			resp, err := c.dispatcher.Handle(ctx, req)

			mu.Lock()
			if err != nil {
				errs[i] = err
			} else {
				responses[i] = resp
			}
			completed++
			if !waitForAll && completed >= majority {
				doneOnce.Do(func() { close(done) })
			}
			mu.Unlock()
		}(i, req)
	}

	if waitForAll {
		wg.Wait()
	} else {
		allDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(allDone)
		}()
		select {
		case <-done:
			cancel() // stop the rest; their reservations settle on cancellation.
			<-allDone // cancelled calls return fast; wait so no goroutine still writes errs/responses below.
		case <-allDone:
		}
	}

	result := Result{Responses: responses, TotalTimeMs: c.now().Sub(start).Milliseconds()}
	mu.Lock()
	for i, err := range errs {
		if err != nil {
			result.Failed = append(result.Failed, Failure{Index: i, ErrorMessage: err.Error()})
		}
	}
	mu.Unlock()
	return result
}
