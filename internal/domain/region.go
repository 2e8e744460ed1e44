// Package domain — region labeling.
// Regions are an opaque, operator-defined label attached to an instance at
// creation time. The core does not route on region beyond storing and
// echoing it back; cross-region latency tables and routing decisions are
// explicitly out of scope (see Non-goals).
package domain

// Region is a free-form location label (e.g. "us-east", "eu-west").
// Empty string means unset.
type Region string

// String returns the region as a human-readable string.
func (r Region) String() string { return string(r) }
