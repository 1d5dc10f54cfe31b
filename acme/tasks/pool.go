// Package tasks implements the bounded background task dispatcher described
// in spec §5: handlers enqueue work identified by (kid, resourceID) and
// return synchronously; the task itself opens its own Store session and
// commits independently, never sharing the originating request's session.
package tasks

import (
	"context"
	"fmt"
	"log"
)

// DefaultConcurrency bounds the number of background tasks running at once,
// a conservative default for a reference deployment.
const DefaultConcurrency = 16

// Pool is a bounded worker pool keyed by (kid, resourceID). It is a plain
// buffered-channel token bucket over goroutines rather than
// golang.org/x/sync/semaphore, avoiding an otherwise-unused transitive
// dependency purely to gate concurrency (see DESIGN.md).
type Pool struct {
	tokens chan struct{}
}

// NewPool creates a Pool allowing at most concurrency tasks to run at once.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{tokens: make(chan struct{}, concurrency)}
}

// Enqueue runs fn in its own goroutine once a token is available. key
// identifies the (kid, resourceID) pair for logging; the pool does not
// serialize tasks sharing a key beyond what the Store's own transaction
// isolation provides.
func (p *Pool) Enqueue(kid, resourceID string, fn func(context.Context)) {
	key := fmt.Sprintf("%s/%s", kid, resourceID)
	p.tokens <- struct{}{}
	go func() {
		defer func() { <-p.tokens }()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("tasks: panic in background task %s: %v", key, r)
			}
		}()
		log.Printf("tasks: starting background task %s", key)
		fn(context.Background())
		log.Printf("tasks: finished background task %s", key)
	}()
}
