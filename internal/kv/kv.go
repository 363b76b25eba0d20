// Package kv is the key/value medium behind local persistence. Every backend
// replaces a value atomically: readers observe the old or the new bytes,
// never a partial write.
package kv

import (
	"context"
	"errors"
	"regexp"
	"sync"
)

var (
	ErrNotFound   = errors.New("kv: key not found")
	ErrInvalidKey = errors.New("kv: invalid key")
	ErrClosed     = errors.New("kv: store closed")
)

// Store is a string-keyed blob store with change notification for writers
// sharing the same Store value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Watch delivers the key of every successful Set. Notifications to a
	// slow reader coalesce; Set never blocks on a watcher.
	Watch() (<-chan string, func())
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidKey reports whether key is usable by every backend (it doubles as a
// file name for FileStore).
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

const watchBuffer = 16

// notifier fans key changes out to watchers.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan string
}

func (n *notifier) watch() (<-chan string, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]chan string)
	}
	id := n.next
	n.next++
	ch := make(chan string, watchBuffer)
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (n *notifier) notify(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- key:
		default:
			// buffer full: the watcher will reload anyway
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
