// Package netstatus holds the connectivity flag and turns level changes
// into edge-triggered notifications.
package netstatus

import (
	"sync"

	appLog "famcal/internal/log"
)

// Monitor is the current online/offline state.
type Monitor struct {
	mu     sync.Mutex
	online bool
	next   int
	subs   map[int]chan bool
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and reports whether it changed. Subscribers are
// only notified on a change.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	appLog.Info("connectivity changed", "online", online)

	for _, ch := range m.subs {
		// Keep only the latest state for a subscriber that is behind.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// Subscribe returns a channel of transitions. Each channel holds at most one
// pending value: the most recent state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
