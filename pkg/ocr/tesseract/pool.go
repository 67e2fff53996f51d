package tesseract

import (
	"context"
	"errors"
	"sync"
)

var errPoolClosed = errors.New("engine closed")

type closer interface {
	Close() error
}

// clientPool hands out up to size clients, creating them on demand. Clients
// released after close are closed instead of pooled.
type clientPool[C closer] struct {
	size   int
	create func() (C, error)

	mu      sync.Mutex
	free    chan C
	done    chan struct{}
	created int
	closed  bool
}

func newClientPool[C closer](size int, create func() (C, error)) *clientPool[C] {
	return &clientPool[C]{
		size:   size,
		create: create,
		free:   make(chan C, size),
		done:   make(chan struct{}),
	}
}

// acquire returns an idle client, creating one while the pool is below size,
// or waits for a release.
func (p *clientPool[C]) acquire(ctx context.Context) (C, error) {
	var zero C
	select {
	case c := <-p.free:
		return c, nil
	default:
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, errPoolClosed
	}
	if p.created < p.size {
		p.created++
		p.mu.Unlock()
		c, err := p.create()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return zero, err
		}
		return c, nil
	}
	p.mu.Unlock()
	select {
	case c := <-p.free:
		return c, nil
	case <-p.done:
		return zero, errPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// release hands c back. The send happens under mu so close cannot drain the
// pool in between; free has room for every created client.
func (p *clientPool[C]) release(c C) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Close()
		return
	}
	p.free <- c
}

// close closes the idle clients; busy ones are closed on release.
func (p *clientPool[C]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case c := <-p.free:
			_ = c.Close()
		default:
			return
		}
	}
}
