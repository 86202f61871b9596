package model

import "time"

// DispatchResult records the outcome of the most recent dispatch.
type DispatchResult struct {
	TxHash         string    `json:"tx_hash"`
	PersistError   string    `json:"persist_error,omitempty"`
	NotifyError    string    `json:"notify_error,omitempty"`
	NotifyAttempts int       `json:"notify_attempts"`
	DispatchedAt   time.Time `json:"dispatched_at"`
}

// StatusSnapshot is the read-only health view exposed to monitoring
// consumers.
type StatusSnapshot struct {
	Connection   ConnectionStatus `json:"connection"`
	Filter       FilterStats      `json:"filter"`
	LastDispatch *DispatchResult  `json:"last_dispatch,omitempty"`
	Subscribers  int              `json:"subscribers"`
}
