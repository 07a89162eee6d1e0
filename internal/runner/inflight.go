package runner

import (
	"context"
	"strings"
	"sync"
)

type inflightCall struct {
	cancel context.CancelFunc
}

// Inflight tracks cancellable chat calls by a client-chosen request id.
type Inflight struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func NewInflight() *Inflight {
	return &Inflight{calls: map[string]*inflightCall{}}
}

// Begin derives a cancellable ctx registered under id. A blank id gives an
// unregistered ctx. Reusing a live id cancels the older call.
// release must be called when the call finishes.
func (f *Inflight) Begin(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx, cancel
	}

	call := &inflightCall{cancel: cancel}
	f.mu.Lock()
	if prev, ok := f.calls[id]; ok {
		prev.cancel()
	}
	f.calls[id] = call
	f.mu.Unlock()

	return ctx, func() {
		cancel()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.calls[id] == call {
			delete(f.calls, id)
		}
	}
}

// Cancel aborts the call registered under id and reports whether one existed.
func (f *Inflight) Cancel(id string) bool {
	id = strings.TrimSpace(id)
	f.mu.Lock()
	call, ok := f.calls[id]
	if ok {
		delete(f.calls, id)
	}
	f.mu.Unlock()
	if ok {
		call.cancel()
	}
	return ok
}

func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
