package domain

import "time"

// HealthSample is an append-only observation reported with a heartbeat.
// Only the latest per instance is consulted by the classifier.
type HealthSample struct {
	Instance          string    `json:"instance"`
	TS                time.Time `json:"ts"`
	VSCodeResponsive  *bool     `json:"vscode_responsive,omitempty"`
	LastActivityEpoch *int64    `json:"last_activity_epoch,omitempty"`
	CPUPercent        *float64  `json:"cpu_pct,omitempty"`
	MemBytes          *int64    `json:"mem_bytes,omitempty"`
	HasCodeServer     *bool     `json:"has_code_server,omitempty"`
}

// StatusHistoryEntry is an append-only record of an instance status
// transition, used to compute uptime and visualize incidents (I6).
type StatusHistoryEntry struct {
	Instance string    `json:"instance"`
	TS       time.Time `json:"ts"`
	Status   Status    `json:"status"`
	Reason   string    `json:"reason"`
}

// Classification is the deterministic output of the status classifier
// (§4.3): a unique (status, reason) for any (instance, now, sample) — P4.
type Classification struct {
	Status Status
	Reason string
}
