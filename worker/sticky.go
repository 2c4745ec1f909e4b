package worker

import (
	"sync"

	"k8s.io/utils/lru"

	"github.com/corverroos/loom/workflow"
)

// stickyCache keeps live executors per run so subsequent decision tasks
// skip the already-replayed history prefix. Entries are pinned while their
// shard processes a task: eviction only closes idle executors, a pinned one
// is closed by its owning shard on release. Eviction and removal still drop
// the entry, so the next task for that run replays from scratch.
type stickyCache struct {
	mu sync.Mutex
	c  *lru.Cache
}

type stickyEntry struct {
	ex     *workflow.Executor
	pinned bool
}

func newStickyCache(size int) *stickyCache {
	return &stickyCache{
		c: lru.NewWithEvictionFunc(size, func(key lru.Key, value interface{}) {
			e := value.(*stickyEntry)
			if e.pinned {
				// Mid task on its shard. Release finds the entry gone and
				// closes the executor then.
				return
			}
			e.ex.Close()
		}),
	}
}

// acquire returns the run's executor pinned against eviction. Every
// successful acquire must be paired with a release.
func (c *stickyCache) acquire(runID string) (*workflow.Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.c.Get(runID)
	if !ok {
		return nil, false
	}
	e := v.(*stickyEntry)
	e.pinned = true
	return e.ex, true
}

// add caches a new executor, already pinned for the caller's task.
func (c *stickyCache) add(runID string, ex *workflow.Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Add(runID, &stickyEntry{ex: ex, pinned: true})
}

// release unpins the run's executor after its task. If the entry was
// evicted or removed while pinned, the executor is closed now.
func (c *stickyCache) release(runID string, ex *workflow.Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.c.Get(runID); ok {
		if e := v.(*stickyEntry); e.ex == ex {
			e.pinned = false
			return
		}
	}
	ex.Close()
}

// remove drops the run's executor, closing it unless it is pinned.
func (c *stickyCache) remove(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Remove(runID)
}

// close evicts all executors.
func (c *stickyCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Clear()
}
