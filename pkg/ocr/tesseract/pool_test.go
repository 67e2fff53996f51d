package tesseract

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	closed atomic.Bool
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	err     error
}

func (f *fakeFactory) create() (*fakeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{}
	f.clients = append(f.clients, c)
	return c, nil
}

func TestClientPool_BoundsClients(t *testing.T) {
	f := &fakeFactory{}
	p := newClientPool(2, f.create)

	a, err := p.acquire(context.Background())
	require.NoError(t, err)
	b, err := p.acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.release(a)
	c, err := p.acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, c)
	assert.Len(t, f.clients, 2)
}

func TestClientPool_CreateFailureFreesSlot(t *testing.T) {
	f := &fakeFactory{err: errors.New("missing traineddata")}
	p := newClientPool(1, f.create)

	_, err := p.acquire(context.Background())
	require.Error(t, err)

	f.err = nil
	_, err = p.acquire(context.Background())
	assert.NoError(t, err)
}

func TestClientPool_CloseWakesWaiters(t *testing.T) {
	p := newClientPool(1, (&fakeFactory{}).create)
	_, err := p.acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.acquire(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	p.close()
	assert.ErrorIs(t, <-errc, errPoolClosed)
}

func TestClientPool_ReleaseRacingCloseClosesEveryClient(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := &fakeFactory{}
		p := newClientPool(4, f.create)
		var held []*fakeClient
		for j := 0; j < 4; j++ {
			c, err := p.acquire(context.Background())
			require.NoError(t, err)
			held = append(held, c)
		}

		var wg sync.WaitGroup
		for _, c := range held {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.release(c)
			}()
		}
		p.close()
		wg.Wait()

		for _, c := range f.clients {
			require.True(t, c.closed.Load(), "iteration %d leaked a client", i)
		}
	}
}
