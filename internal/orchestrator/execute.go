package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/nidhogg/nuka-relay/internal/a2a"
)

// Execute calls every worker of plan and returns one result per worker in
// plan order. Failures are recorded and never stop later calls.
func (o *Orchestrator) Execute(ctx context.Context, query string, plan Plan) []a2a.WorkerResult {
	results := make([]a2a.WorkerResult, len(plan.Workers))

	if plan.Mode != Parallel {
		for i, id := range plan.Workers {
			results[i] = o.callWorker(ctx, id, query)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, id := range plan.Workers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = o.callWorker(ctx, id, query)
		}(i, id)
	}
	wg.Wait()
	return results
}

// callWorker bounds one call by the worker timeout. A caller that ignores
// cancellation is abandoned; its result, if it ever arrives, is dropped.
func (o *Orchestrator) callWorker(ctx context.Context, id, query string) a2a.WorkerResult {
	ctx, cancel := context.WithTimeout(ctx, o.workerTimeout)
	defer cancel()

	ch := make(chan a2a.WorkerResult, 1)
	go func() {
		ch <- o.workers.Call(ctx, id, query)
	}()

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		select {
		case r := <-ch:
			return r
		default:
		}
		return a2a.Failure(id, a2a.Timeout, fmt.Sprintf("no response within %s", o.workerTimeout))
	}
}
