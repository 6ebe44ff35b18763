package media

import "sync"

// inflight collapses concurrent resolutions of the same attachment into one
// upload. Callers that arrive while a call is running wait for its result.
type inflight[V any] struct {
	mu    sync.Mutex
	calls map[string]*inflightCall[V]
}

type inflightCall[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

func (g *inflight[V]) do(key string, fn func() (V, error)) (V, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*inflightCall[V])
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}
	c := &inflightCall[V]{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		c.wg.Done()
	}()
	c.val, c.err = fn()
	return c.val, c.err, false
}
