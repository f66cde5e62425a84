package browser

import (
	"sync"
	"time"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// pageRegistry tracks every page the pool has issued so abandoned ones
// can be found and reclaimed.
type pageRegistry struct {
	mu    sync.Mutex
	pages map[nfce.Page]struct{}
}

func newPageRegistry() *pageRegistry {
	return &pageRegistry{pages: make(map[nfce.Page]struct{})}
}

func (r *pageRegistry) add(p nfce.Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[p] = struct{}{}
}

func (r *pageRegistry) remove(p nfce.Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pages, p)
}

func (r *pageRegistry) list() []nfce.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nfce.Page, 0, len(r.pages))
	for p := range r.pages {
		out = append(out, p)
	}
	return out
}

// sweepOlderThan closes and drops every page created before the cutoff
// and returns how many were closed. Jobs that failed to close their own
// page would otherwise leak a tab per failure.
func (r *pageRegistry) sweepOlderThan(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	r.mu.Lock()
	var stale []nfce.Page
	for p := range r.pages {
		if p.CreatedAt().Before(cutoff) {
			stale = append(stale, p)
			delete(r.pages, p)
		}
	}
	r.mu.Unlock()

	for _, p := range stale {
		_ = p.Close()
	}
	return len(stale)
}

func (r *pageRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}
