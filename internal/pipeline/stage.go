package pipeline

import (
	"context"
	"sync"
)

// startStage runs fn on its own goroutine with a context that is cancelled
// either by the parent ctx or by stopStage. Idempotent while running.
func startStage(mu *sync.Mutex, stopCh *chan struct{}, wg *sync.WaitGroup, ctx context.Context, fn func(context.Context)) {
	mu.Lock()
	if *stopCh != nil {
		mu.Unlock()
		return
	}
	stop := make(chan struct{})
	*stopCh = stop
	mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		fn(runCtx)
	}()
}

func stopStage(mu *sync.Mutex, stopCh *chan struct{}, wg *sync.WaitGroup) {
	mu.Lock()
	if *stopCh == nil {
		mu.Unlock()
		return
	}
	close(*stopCh)
	*stopCh = nil
	mu.Unlock()
	wg.Wait()
}
