package service

import (
	"io"
	"sort"
	"sync"
	"time"
)

// SessionInfo describes one connected client.
type SessionInfo struct {
	ConnID     string
	RemoteAddr string
	Since      time.Time
}

// trackedConn is a session stream. *transport.Stream implements it.
type trackedConn interface {
	io.Closer
	ConnID() string
	RemoteAddr() string
}

// connTracker keeps the streams of live sessions so that they can be
// listed and closed together.
type connTracker struct {
	mu    sync.Mutex
	conns map[trackedConn]time.Time
	now   func() time.Time
}

func newConnTracker() *connTracker {
	return &connTracker{
		conns: make(map[trackedConn]time.Time),
		now:   time.Now,
	}
}

// Add registers a connection.
func (ct *connTracker) Add(conn trackedConn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[conn] = ct.now()
}

// Remove deregisters a connection. Safe to call on absent connections.
func (ct *connTracker) Remove(conn trackedConn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, conn)
}

// CloseAll closes and removes all tracked connections.
func (ct *connTracker) CloseAll() int {
	ct.mu.Lock()
	conns := make([]trackedConn, 0, len(ct.conns))
	for conn := range ct.conns {
		conns = append(conns, conn)
	}
	clear(ct.conns)
	ct.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}

// Snapshot lists the tracked connections, oldest first.
func (ct *connTracker) Snapshot() []SessionInfo {
	ct.mu.Lock()
	infos := make([]SessionInfo, 0, len(ct.conns))
	for conn, since := range ct.conns {
		infos = append(infos, SessionInfo{
			ConnID:     conn.ConnID(),
			RemoteAddr: conn.RemoteAddr(),
			Since:      since,
		})
	}
	ct.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Since.Equal(infos[j].Since) {
			return infos[i].ConnID < infos[j].ConnID
		}
		return infos[i].Since.Before(infos[j].Since)
	})
	return infos
}
