package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress reports how many documents have been rebuilt on a single,
// rewritten status line.
type Progress struct {
	mu       sync.Mutex
	w        io.Writer
	total    int
	done     int
	failed   int
	every    int
	reported int
	began    time.Time
}

// NewProgress returns a tracker for total documents that writes a status
// line every `every` documents. The clock starts immediately.
func NewProgress(w io.Writer, total, every int) *Progress {
	if every < 1 {
		every = 1
	}
	return &Progress{w: w, total: total, every: every, began: time.Now()}
}

// Record counts one finished document.
func (p *Progress) Record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done >= p.total {
		return
	}
	p.done++
	if !ok {
		p.failed++
	}
	if p.done-p.reported >= p.every || p.done == p.total {
		p.writeLocked()
	}
}

// Finish writes the final status line and ends it.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != p.reported {
		p.writeLocked()
	}
	fmt.Fprintln(p.w)
}

// Counts returns the number of documents recorded and how many failed.
func (p *Progress) Counts() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// Elapsed is the time since the tracker was created.
func (p *Progress) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.began)
}

func (p *Progress) writeLocked() {
	p.reported = p.done
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total) * 100
	}
	fmt.Fprintf(p.w, "\rReembedded %d/%d documents (%.1f%%), %d failed", p.done, p.total, pct, p.failed)
}
