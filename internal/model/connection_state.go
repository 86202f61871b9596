package model

import "time"

// ConnectionState describes the subscription manager's link to the chain
// endpoint. It is owned exclusively by the manager; transitions are emitted
// as status events and never mutated externally.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// ConnectionStatus is one emitted state transition. Attempt is only
// meaningful while reconnecting.
type ConnectionStatus struct {
	State     ConnectionState `json:"state"`
	Attempt   int             `json:"attempt,omitempty"`
	ChangedAt time.Time       `json:"changed_at"`
}
