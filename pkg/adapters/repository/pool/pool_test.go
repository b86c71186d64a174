package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeConn struct {
	id     int64
	closed atomic.Bool
}

type factory struct {
	next atomic.Int64
	fail atomic.Bool
}

func (f *factory) open(context.Context) (*fakeConn, error) {
	if f.fail.Load() {
		return nil, errors.New("datastore unreachable")
	}
	return &fakeConn{id: f.next.Add(1)}, nil
}

func closeConn(c *fakeConn) error {
	c.closed.Store(true)
	return nil
}

func TestAcquireReusesReleased(t *testing.T) {
	f := &factory{}
	p := New(2, f.open, closeConn)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)

	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 != c1 {
		t.Errorf("expected released connection to be reused")
	}
	if got := p.Stats().Opened; got != 1 {
		t.Errorf("Opened = %d, want 1", got)
	}
}

func TestAcquireOverflowsWithoutBlocking(t *testing.T) {
	f := &factory{}
	p := New(1, f.open, closeConn)
	ctx := context.Background()

	a, _ := p.Acquire(ctx)
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("overflow Acquire: %v", err)
	}
	if a == b {
		t.Fatal("overflow returned the same connection twice")
	}

	st := p.Stats()
	if st.InUse != 2 || st.Overflow != 1 {
		t.Errorf("Stats = %+v, want InUse=2 Overflow=1", st)
	}

	p.Release(a)
	p.Release(b)

	if !b.closed.Load() {
		t.Error("release beyond capacity should close the connection")
	}
	if a.closed.Load() {
		t.Error("release within capacity should keep the connection open")
	}
	if st := p.Stats(); st.Idle != 1 || st.InUse != 0 {
		t.Errorf("Stats after release = %+v, want Idle=1 InUse=0", st)
	}
}

func TestAcquireOpenError(t *testing.T) {
	f := &factory{}
	f.fail.Store(true)
	p := New(2, f.open, closeConn)

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected error from failing factory")
	}
	if st := p.Stats(); st.InUse != 0 {
		t.Errorf("InUse = %d after failed open, want 0", st.InUse)
	}
}

func TestDiscardClosesConnection(t *testing.T) {
	f := &factory{}
	p := New(2, f.open, closeConn)

	c, _ := p.Acquire(context.Background())
	p.Discard(c)

	if !c.closed.Load() {
		t.Error("Discard should close the connection")
	}
	if st := p.Stats(); st.Idle != 0 || st.InUse != 0 {
		t.Errorf("Stats = %+v, want empty pool", st)
	}
}

func TestWarm(t *testing.T) {
	f := &factory{}
	p := New(3, f.open, closeConn)

	if err := p.Warm(context.Background(), 10); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if st := p.Stats(); st.Idle != 3 {
		t.Errorf("Idle = %d, want 3", st.Idle)
	}
}

func TestClose(t *testing.T) {
	f := &factory{}
	p := New(2, f.open, closeConn)
	ctx := context.Background()

	idle, _ := p.Acquire(ctx)
	busy, _ := p.Acquire(ctx)
	p.Release(idle)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !idle.closed.Load() {
		t.Error("Close should close idle connections")
	}
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}

	p.Release(busy)
	if !busy.closed.Load() {
		t.Error("Release after Close should close the connection")
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	f := &factory{}
	p := New(4, f.open, closeConn)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, err := p.Acquire(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				p.Release(c)
			}
		}()
	}
	wg.Wait()

	st := p.Stats()
	if st.InUse != 0 {
		t.Errorf("InUse = %d, want 0", st.InUse)
	}
	if st.Idle > st.Capacity {
		t.Errorf("Idle = %d exceeds capacity %d", st.Idle, st.Capacity)
	}
	if st.Opened-st.Closed != int64(st.Idle) {
		t.Errorf("open connections %d != idle %d", st.Opened-st.Closed, st.Idle)
	}
}

func TestOnOverflowHook(t *testing.T) {
	f := &factory{}
	p := New(1, f.open, closeConn)
	var calls atomic.Int32
	p.OnOverflow = func() { calls.Add(1) }

	ctx := context.Background()
	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)
	c, _ := p.Acquire(ctx)
	p.Release(a)
	p.Release(b)
	p.Release(c)

	if got := calls.Load(); got != 2 {
		t.Errorf("OnOverflow calls = %d, want 2", got)
	}
}
