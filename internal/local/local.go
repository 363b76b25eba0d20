// Package local persists the whole event collection under one key of a
// kv.Store as a JSON array.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"famcal/internal/kv"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// DefaultKey is the key holding the event array.
const DefaultKey = "familyCalendarEvents"

// Adapter reads and writes the snapshot stored under a single key.
type Adapter struct {
	store kv.Store
	key   string
}

func New(store kv.Store, key string) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	return &Adapter{store: store, key: key}
}

func (a *Adapter) Key() string {
	return a.key
}

// Load is the strict read. A missing key is an empty collection; an
// unreadable medium or unparseable value is an error. Records that fail
// validation are dropped.
func (a *Adapter) Load(ctx context.Context) ([]model.Event, error) {
	data, err := a.store.Get(ctx, a.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []model.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local: read %s: %w", a.key, err)
	}
	return Decode(data, a.key)
}

// LoadSnapshot never fails: any error yields an empty collection.
func (a *Adapter) LoadSnapshot(ctx context.Context) []model.Event {
	events, err := a.Load(ctx)
	if err != nil {
		appLog.Error("local snapshot unreadable; starting empty", err, "key", a.key)
		return []model.Event{}
	}
	return events
}

// SaveSnapshot overwrites the stored snapshot.
func (a *Adapter) SaveSnapshot(ctx context.Context, events []model.Event) error {
	data, err := Encode(events)
	if err != nil {
		return err
	}
	if err := a.store.Set(ctx, a.key, data); err != nil {
		return fmt.Errorf("local: write %s: %w", a.key, err)
	}
	appLog.Debug("local snapshot saved", "key", a.key, "count", len(events))
	return nil
}

// Watch signals whenever this adapter's key changes through the shared store.
func (a *Adapter) Watch() (<-chan struct{}, func()) {
	keys, cancelKeys := a.store.Watch()
	out := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case key, ok := <-keys:
				if !ok {
					return
				}
				if key != a.key {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			cancelKeys()
		})
	}
	return out, cancel
}

// Encode renders events as the stored JSON array. A nil slice encodes as [].
func Encode(events []model.Event) ([]byte, error) {
	if events == nil {
		events = []model.Event{}
	}
	return json.Marshal(events)
}

// Decode parses a stored JSON array, dropping invalid records.
func Decode(data []byte, key string) ([]model.Event, error) {
	var raw []model.Event
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("local: parse %s: %w", key, err)
	}
	events := make([]model.Event, 0, len(raw))
	for _, ev := range raw {
		if err := ev.Validate(); err != nil {
			appLog.Warn("dropping invalid stored event", "key", key, "id", ev.ID, "err", err.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
