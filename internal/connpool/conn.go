package connpool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Conn is a pooled connection record. It is owned by exactly one caller
// between Acquire and Release.
type Conn struct {
	pool     *Pool
	id       uint64
	nc       net.Conn
	lastUsed time.Time
	inUse    bool
	failed   bool
}

// ID identifies the record within its pool.
func (c *Conn) ID() uint64 { return c.id }

// NetConn returns the backend socket, or nil before Connect succeeds.
func (c *Conn) NetConn() net.Conn { return c.nc }

// Connect makes sure the record carries a live socket, dialing a new one
// when it has none or the old one was closed by the backend. Failures wrap
// ErrConnect and mark the record failed so Release destroys it.
func (c *Conn) Connect(ctx context.Context) error {
	p := c.pool
	if c.nc != nil {
		if p.dialer.IsAlive(c.nc) {
			return nil
		}
		p.logger.Debug("pooled connection closed by backend, redialing", slog.Uint64("conn", c.id))
		_ = c.nc.Close()
		c.nc = nil
	}

	nc, err := p.dialer.Connect(ctx, p.opts.Address, p.opts.ConnTimeout)
	if err != nil {
		c.failed = true
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	c.nc = nc
	c.failed = false
	return nil
}

// MarkFailed flags the record as broken so Release destroys it.
func (c *Conn) MarkFailed() { c.failed = true }

// Failed reports whether the record was marked broken.
func (c *Conn) Failed() bool { return c.failed }

func (c *Conn) closeSocket() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}
