package crawl

import (
	"sync"
	"time"
)

type frontierItem struct {
	URL   string // normalized
	Depth int
}

// Frontier is the BFS work queue for one crawl job. Admission checks the
// domain allowlist, depth bound, page budget, and the visit set; the check
// and the VisitRecord insert happen under one lock so no URL is ever
// admitted twice. Next blocks while the queue is empty but fetches are still
// in flight, since those fetches may discover more links.
type Frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []frontierItem
	visited map[string]*VisitRecord
	order   []string

	maxDepth int
	maxPages int
	allowed  map[string]struct{}

	inflight int
	closed   bool
}

// NewFrontier creates a frontier for spec. The allowlist is required; the
// crawler seeds it with the root host when the caller leaves it empty.
func NewFrontier(spec JobSpec) *Frontier {
	allowed := make(map[string]struct{}, len(spec.AllowedDomains))
	for _, d := range spec.AllowedDomains {
		allowed[normalizeHost(d)] = struct{}{}
	}
	f := &Frontier{
		visited:  make(map[string]*VisitRecord),
		maxDepth: spec.MaxDepth,
		maxPages: spec.MaxPages,
		allowed:  allowed,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Enqueue admits rawURL at depth. It reports whether the URL was accepted;
// rejected URLs (off-domain, too deep, over budget, already seen, or
// unparseable) are dropped silently per BFS semantics.
func (f *Frontier) Enqueue(rawURL string, depth int) bool {
	norm, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if depth > f.maxDepth {
		return false
	}
	if _, ok := f.allowed[hostOf(norm)]; !ok {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.maxPages > 0 && len(f.visited) >= f.maxPages {
		return false
	}
	if _, seen := f.visited[norm]; seen {
		return false
	}
	f.visited[norm] = &VisitRecord{URL: norm, Depth: depth, Status: VisitPending}
	f.order = append(f.order, norm)
	f.queue = append(f.queue, frontierItem{URL: norm, Depth: depth})
	f.cond.Signal()
	return true
}

// Next pops the oldest queued URL, blocking while the queue is empty but
// work is still in flight. It returns ok=false when the frontier is drained
// (empty queue, nothing in flight) or closed. Every successful Next must be
// paired with a Done call.
func (f *Frontier) Next() (string, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed {
			return "", 0, false
		}
		if len(f.queue) > 0 {
			item := f.queue[0]
			f.queue = f.queue[1:]
			f.inflight++
			return item.URL, item.Depth, true
		}
		if f.inflight == 0 {
			return "", 0, false
		}
		f.cond.Wait()
	}
}

// Done marks one in-flight fetch as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if f.inflight == 0 && len(f.queue) == 0 {
		f.cond.Broadcast()
	}
}

// Close wakes all blocked workers and rejects further admissions.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// MarkFetched records a successful fetch for the normalized URL.
func (f *Frontier) MarkFetched(norm string, statusCode int, contentHash string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.visited[norm]; ok {
		rec.Status = VisitFetched
		rec.StatusCode = statusCode
		rec.ContentHash = contentHash
		rec.FetchedAt = at
	}
}

// MarkFailed records a permanently failed fetch for the normalized URL.
func (f *Frontier) MarkFailed(norm string, statusCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.visited[norm]; ok {
		rec.Status = VisitFailed
		rec.StatusCode = statusCode
	}
}

// Records returns the visit set in admission order.
func (f *Frontier) Records() []VisitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]VisitRecord, 0, len(f.order))
	for _, norm := range f.order {
		out = append(out, *f.visited[norm])
	}
	return out
}
