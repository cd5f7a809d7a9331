package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Job is a unit of work. It should honour ctx cancellation.
type Job func(ctx context.Context) error

// Run executes jobs on at most numWorkers goroutines and returns one error
// slot per job, in input order. A panicking job reports an error instead of
// crashing the process. Jobs not yet started when ctx is cancelled get
// ctx.Err().
func Run(ctx context.Context, numWorkers int, jobs []Job, logger *slog.Logger) []error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	errs := make([]error, len(jobs))
	queue := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range queue {
				errs[idx] = execute(ctx, workerID, jobs[idx], logger)
			}
		}(w)
	}

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(jobs); j++ {
				errs[j] = err
			}
			break
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				errs[j] = ctx.Err()
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()

	logger.Debug("worker batch finished", "jobs", len(jobs), "workers", numWorkers)
	return errs
}

func execute(ctx context.Context, workerID int, job Job, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "worker_id", workerID, "panic", fmt.Sprintf("%v", r))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}
