package models

import "time"

// EventKind identifies a sync notification
type EventKind string

const (
	EventConnectivityChanged EventKind = "connectivity_changed"
	EventPushCycleComplete   EventKind = "push_cycle_complete"
	EventPullDataUpdated     EventKind = "pull_data_updated"
)

// SyncEvent is the fire-and-forget notification observed by UI layers
// Only the fields relevant to Kind are populated
type SyncEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// connectivity_changed
	Online bool   `json:"online,omitempty"`
	Reason string `json:"reason,omitempty"`

	// push_cycle_complete
	Synced  int  `json:"synced,omitempty"`
	Failed  int  `json:"failed,omitempty"`
	Aborted bool `json:"aborted,omitempty"`

	// pull_data_updated
	Inserted int `json:"inserted,omitempty"`
	Updated  int `json:"updated,omitempty"`
}

// RoutingKey maps the event kind to the broker topic used by the forwarder
func (e SyncEvent) RoutingKey() string {
	switch e.Kind {
	case EventConnectivityChanged:
		return "sync.connectivity"
	case EventPushCycleComplete:
		return "sync.push.complete"
	case EventPullDataUpdated:
		return "sync.pull.updated"
	default:
		return "sync.unknown"
	}
}
