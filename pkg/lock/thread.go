package lock

// Thread is a named goroutine whose result can be collected with Join.
type Thread struct {
	name string
	done chan struct{}
	err  error
}

// Go starts fn in a new goroutine.
func Go(name string, fn func() error) *Thread {
	t := &Thread{
		name: name,
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		t.err = fn()
	}()
	return t
}

// Name returns the name given to Go.
func (t *Thread) Name() string {
	return t.name
}

// Done returns a channel closed when the goroutine has returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Join waits for the goroutine to return and returns its error.
func (t *Thread) Join() error {
	<-t.done
	return t.err
}
