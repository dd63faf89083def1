package dbtest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/semaphore"

	"github.com/LerianStudio/lib-dbtest/commons/observability"
)

// DefaultMaxConnections is the connection budget when none is configured.
const DefaultMaxConnections = 20

// Governor bounds the number of connections open to test databases across every
// session of the process. Acquire blocks until a permit is free; Release never blocks.
type Governor struct {
	sem     *semaphore.Weighted
	limit   int64
	inUse   atomic.Int64
	peak    atomic.Int64
	metrics *observability.DatabaseMetrics
}

// NewGovernor returns a Governor allowing limit concurrent connections. A non-positive
// limit selects DefaultMaxConnections.
func NewGovernor(limit int) *Governor {
	if limit <= 0 {
		limit = DefaultMaxConnections
	}

	return &Governor{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Acquire takes one permit, waiting until one is free or ctx is done.
func (g *Governor) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a connection permit: %w", err)
	}

	g.acquired(ctx, time.Since(start))

	return nil
}

// TryAcquire takes one permit only if one is free right now.
func (g *Governor) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}

	g.acquired(context.Background(), 0)

	return true
}

// Release returns one permit.
func (g *Governor) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
	g.metrics.RecordConnectionReleased(context.Background())
}

// Limit is the configured budget.
func (g *Governor) Limit() int {
	return int(g.limit)
}

// InUse is the number of permits currently held.
func (g *Governor) InUse() int {
	return int(g.inUse.Load())
}

// Peak is the highest number of permits ever held at once.
func (g *Governor) Peak() int {
	return int(g.peak.Load())
}

func (g *Governor) acquired(ctx context.Context, wait time.Duration) {
	n := g.inUse.Add(1)

	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	g.metrics.RecordConnectionAcquired(ctx, wait)
}

// DialFunc wraps base so every network connection holds one permit from dial until
// close. Configs of every handle kind dial through it, which makes the budget apply to
// the sum of connections regardless of how they are pooled.
func (g *Governor) DialFunc(base pgconn.DialFunc) pgconn.DialFunc {
	if base == nil {
		dialer := &net.Dialer{KeepAlive: 5 * time.Minute}
		base = dialer.DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if err := g.Acquire(ctx); err != nil {
			return nil, err
		}

		conn, err := base(ctx, network, addr)
		if err != nil {
			g.Release()
			return nil, err
		}

		return &governedConn{Conn: conn, release: g.Release}, nil
	}
}

// governedConn returns its permit exactly once, on the first Close.
type governedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *governedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)

	return err
}
