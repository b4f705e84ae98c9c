package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskFIFO(t *testing.T) {
	var mu sync.Mutex
	var got []int

	task := NewTask("fifo", func(v int) error {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return nil
	})
	defer task.Destroy()

	// Queued while stopped.
	var toks []*Token
	for i := 0; i < 10; i++ {
		tok, err := task.Enqueue(i)
		require.NoError(t, err)
		toks = append(toks, tok)
	}

	time.Sleep(10 * time.Millisecond)
	assert.False(t, toks[0].Done(), "stopped task must not process")

	task.Start()
	for _, tok := range toks {
		require.NoError(t, tok.Sync(time.Second))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestTaskResult(t *testing.T) {
	task := NewTask("result", func(v int) error {
		if v < 0 {
			return ErrCanceled
		}
		return nil
	})
	defer task.Destroy()
	task.Start()

	tok, err := task.Enqueue(-1)
	require.NoError(t, err)
	assert.ErrorIs(t, tok.Sync(0), ErrCanceled)
	assert.True(t, tok.Done())
	assert.ErrorIs(t, tok.Err(), ErrCanceled)
}

func TestTokenCancelQueued(t *testing.T) {
	task := NewTask("cancel", func(int) error { return nil })
	defer task.Destroy()

	tok, err := task.Enqueue(1)
	require.NoError(t, err)

	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.Done())
	assert.ErrorIs(t, tok.Err(), ErrCanceled)

	// The canceled element never runs.
	task.Start()
	assert.ErrorIs(t, tok.Sync(time.Second), ErrCanceled)
}

func TestTokenCancelRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	task := NewTask("running", func(int) error {
		close(started)
		<-release
		return nil
	})
	defer task.Destroy()
	task.Start()

	tok, err := task.Enqueue(1)
	require.NoError(t, err)
	<-started

	tok.Cancel()
	assert.False(t, tok.Done(), "running element must not be canceled")

	close(release)
	assert.NoError(t, tok.Sync(time.Second))
}

func TestTokenSyncTimeout(t *testing.T) {
	task := NewTask("timeout", func(int) error { return nil })
	defer task.Destroy()

	// Never started, so the element stays queued.
	tok, err := task.Enqueue(1)
	require.NoError(t, err)

	start := time.Now()
	err = tok.Sync(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTokenSyncWaitsForRunning(t *testing.T) {
	task := NewTask("slow", func(int) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	defer task.Destroy()
	task.Start()

	tok, err := task.Enqueue(1)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// Times out while running, then waits for the result.
	assert.NoError(t, tok.Sync(10*time.Millisecond))
}

func TestTaskStopWaitsIdle(t *testing.T) {
	var mu sync.Mutex
	finished := false

	started := make(chan struct{})
	task := NewTask("stop", func(int) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	})
	defer task.Destroy()
	task.Start()

	_, err := task.Enqueue(1)
	require.NoError(t, err)
	<-started

	task.Stop()
	assert.False(t, task.Running())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "Stop returned before the element completed")
}

func TestTaskFlush(t *testing.T) {
	task := NewTask("flush", func(int) error { return nil })
	defer task.Destroy()

	tok1, _ := task.Enqueue(1)
	tok2, _ := task.Enqueue(2)
	task.Flush()

	assert.ErrorIs(t, tok1.Err(), ErrFlushed)
	assert.ErrorIs(t, tok2.Err(), ErrFlushed)
}

func TestTaskDestroy(t *testing.T) {
	task := NewTask("destroy", func(int) error { return nil })

	tok, err := task.Enqueue(1)
	require.NoError(t, err)

	task.Destroy()
	assert.ErrorIs(t, tok.Err(), ErrFlushed)

	_, err = task.Enqueue(2)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, task.EnqueueAutoclear(3), ErrClosed)
}
