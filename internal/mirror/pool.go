package mirror

import (
	"context"
	"database/sql"
	"sync"
)

// Pool bounds the number of retained read handles against the mirror
// database. Acquire reuses an idle handle when one is available and
// allocates a fresh one otherwise; Release keeps at most max handles idle
// and discards the rest. Callers must release on every exit path.
type Pool struct {
	db     *sql.DB
	mu     sync.Mutex
	idle   []*sql.Conn
	max    int
	closed bool
}

// NewPool creates a pool retaining up to max idle handles.
func NewPool(db *sql.DB, max int) *Pool {
	if max <= 0 {
		max = 5
	}
	return &Pool{db: db, max: max}
}

// Acquire returns a database handle, blocking only if the underlying
// database has to establish a new connection.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	return p.db.Conn(ctx)
}

// Release returns a handle to the pool, closing it if the pool is already
// holding max idle handles or has been closed.
func (p *Pool) Release(c *sql.Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.max {
		p.idle = append(p.idle, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = c.Close()
}

// IdleCount reports the number of currently retained handles.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close discards all retained handles. Subsequent releases close their
// handles immediately.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, c := range idle {
		_ = c.Close()
	}
}
