package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStopAndWait(t *testing.T) {
	p := newPool(context.Background())

	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Go(func(ctx context.Context) {
			started <- struct{}{}
			<-ctx.Done()
		}))
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	assert.Equal(t, 3, p.Count())

	p.StopAndWait()
	assert.Equal(t, 0, p.Count())
	assert.ErrorIs(t, p.Go(func(context.Context) {}), ErrPoolStopped)
}

func TestPoolStopClosesTracked(t *testing.T) {
	p := newPool(context.Background())

	conn := &mockTrackerConn{}
	untrack, err := p.Track(conn)
	require.NoError(t, err)
	require.NotNil(t, untrack)

	p.Stop()
	assert.True(t, conn.isClosed())

	late := &mockTrackerConn{}
	_, err = p.Track(late)
	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.True(t, late.isClosed())
}

func TestPoolUntrack(t *testing.T) {
	p := newPool(context.Background())

	conn := &mockTrackerConn{}
	untrack, err := p.Track(conn)
	require.NoError(t, err)
	untrack()

	p.StopAndWait()
	assert.False(t, conn.isClosed())
}

func TestPoolRestart(t *testing.T) {
	p := newPool(context.Background())

	done := make(chan struct{})
	require.NoError(t, p.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	}))

	p.Stop()
	p.Restart()
	<-done

	ctx := p.Context()
	assert.NoError(t, ctx.Err())

	ran := make(chan struct{})
	require.NoError(t, p.Go(func(context.Context) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run after restart")
	}
	p.StopAndWait()
}

func TestPoolFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	p := newPool(parent)

	exited := make(chan struct{})
	require.NoError(t, p.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	}))

	cancel()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pool context not canceled with its parent")
	}
	p.Wait()
}
