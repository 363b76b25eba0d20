// Package remote exchanges whole-collection snapshots with a remote blob
// store. All operations are best-effort: failures are logged and reported as
// "absent" (fetch) or a returned error the caller only logs (push).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"famcal/internal/model"
)

// DefaultTimeout bounds a single fetch or push.
const DefaultTimeout = 10 * time.Second

// Envelope is the remote snapshot format.
type Envelope struct {
	Events      []model.Event `json:"events"`
	LastUpdated time.Time     `json:"lastUpdated"`
	DeviceID    string        `json:"deviceId"`
}

// Store is implemented by every remote adapter.
type Store interface {
	FetchSnapshot(ctx context.Context) ([]model.Event, bool)
	PushSnapshot(ctx context.Context, events []model.Event) error
}

func newEnvelope(events []model.Event, deviceID string, now time.Time) Envelope {
	if events == nil {
		events = []model.Event{}
	}
	return Envelope{
		Events:      events,
		LastUpdated: now.UTC(),
		DeviceID:    deviceID,
	}
}

// decodeEnvelope parses a snapshot body and drops invalid records.
func decodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("remote: parse snapshot: %w", err)
	}
	valid := make([]model.Event, 0, len(env.Events))
	for _, ev := range env.Events {
		if ev.IsValid() {
			valid = append(valid, ev)
		}
	}
	env.Events = valid
	return env, nil
}

var errEmptyBody = errors.New("remote: empty snapshot body")
