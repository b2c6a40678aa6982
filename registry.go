package psd2img

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Registry tracks running projects so they can be queried and cancelled.
// Starting a project that is already running cancels the previous run and
// waits for it to finish first.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*runHandle)}
}

// Run executes fn under a cancellable context registered as projectID and
// blocks until fn returns.
func (r *Registry) Run(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}

	for {
		r.mu.Lock()
		prev, busy := r.runs[projectID]
		if !busy {
			r.runs[projectID] = h
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
	}

	defer func() {
		cancel()
		r.mu.Lock()
		if r.runs[projectID] == h {
			delete(r.runs, projectID)
		}
		r.mu.Unlock()
		close(h.done)
	}()
	return fn(runCtx)
}

// Process runs proc.Process for project through the registry.
func (r *Registry) Process(ctx context.Context, proc *Processor, project *Project) (*Summary, error) {
	if project == nil {
		return nil, fmt.Errorf("%w: nil project", ErrInvalidProject)
	}
	var sum *Summary
	err := r.Run(ctx, project.ID, func(ctx context.Context) error {
		var err error
		sum, err = proc.Process(ctx, project)
		return err
	})
	return sum, err
}

// Stop cancels the run of projectID and waits for it to return.
func (r *Registry) Stop(projectID string) error {
	r.mu.Lock()
	h, ok := r.runs[projectID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, projectID)
	}
	h.cancel()
	<-h.done
	return nil
}

// StopAll cancels every run and waits for all of them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*runHandle, 0, len(r.runs))
	for _, h := range r.runs {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// IsRunning reports whether projectID has an active run.
func (r *Registry) IsRunning(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[projectID]
	return ok
}

// Running returns the ids of active runs, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
