package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"famcal/internal/kv"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// DefaultBackupKey holds the mirrored envelope in the local medium.
const DefaultBackupKey = "familyCalendarBackup"

// Mirror stands in for a network store by writing the envelope to a second
// key of a kv.Store.
type Mirror struct {
	store    kv.Store
	key      string
	deviceID string
	timeout  time.Duration
	now      func() time.Time
}

func NewMirror(store kv.Store, key, deviceID string, timeout time.Duration) *Mirror {
	if key == "" {
		key = DefaultBackupKey
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mirror{
		store:    store,
		key:      key,
		deviceID: deviceID,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (m *Mirror) FetchSnapshot(ctx context.Context) ([]model.Event, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := m.store.Get(ctx, m.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		appLog.Warn("mirror fetch failed", "key", m.key, "err", err.Error())
		return nil, false
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		appLog.Warn("mirror fetch: malformed snapshot", "key", m.key, "err", err.Error())
		return nil, false
	}
	return env.Events, true
}

func (m *Mirror) PushSnapshot(ctx context.Context, events []model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := json.Marshal(newEnvelope(events, m.deviceID, m.now()))
	if err != nil {
		return err
	}
	return m.store.Set(ctx, m.key, data)
}
