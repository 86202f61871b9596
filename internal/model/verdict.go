package model

// FilterReason is the machine-readable outcome of a filter pass.
type FilterReason string

const (
	ReasonDuplicate      FilterReason = "duplicate"
	ReasonBelowThreshold FilterReason = "below_threshold"
	ReasonNotWatched     FilterReason = "not_watched"
	ReasonCooldown       FilterReason = "cooldown"
	ReasonMatched        FilterReason = "matched"
)

// FilterVerdict is the result of running one event through the filter chain.
// Duplicates are never shown in the feed; every other reason may be.
type FilterVerdict struct {
	Passed     bool         `json:"passed"`
	Reason     FilterReason `json:"reason"`
	ShowInFeed bool         `json:"show_in_feed"`
}

// FilterStats counts verdicts by reason since startup.
type FilterStats struct {
	Processed      uint64 `json:"processed"`
	Duplicates     uint64 `json:"duplicates"`
	BelowThreshold uint64 `json:"below_threshold"`
	NotWatched     uint64 `json:"not_watched"`
	Cooldowns      uint64 `json:"cooldowns"`
	Matched        uint64 `json:"matched"`
}
