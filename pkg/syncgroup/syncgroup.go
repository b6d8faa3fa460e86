package syncgroup

import "sync"

// Group wraps sync.WaitGroup so that Add/Done bookkeeping cannot be missed:
// callers register functions, Run starts them all, Wait blocks for completion.
type Group struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running int
}

// New creates an empty Group.
func New() *Group {
	return &Group{}
}

// Add registers a function to run as a goroutine on the next Run call.
// Adding while a previous batch is still running is ignored.
func (g *Group) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run starts every registered function in its own goroutine and clears the
// registration list so a batch cannot be started twice.
func (g *Group) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do func()) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Go starts fn immediately in its own goroutine, joining the current batch;
// Wait blocks for it like any Run-started goroutine.
func (g *Group) Go(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.running++
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer func() {
			g.wg.Done()
			g.mu.Lock()
			g.running--
			g.mu.Unlock()
		}()
		fn()
	}()
}

// Wait blocks until all goroutines of the current batch have returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
