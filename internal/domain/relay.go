package domain

import "time"

// Relay is an externally-deployed edge tunnel server. Load is updated
// only by the relay's own load reports; selecting a relay does not change
// it. The registry (internal/relay) mirrors this in the Store.
type Relay struct {
	ID              string      `json:"id"`
	Host            string      `json:"host"`
	Port            int         `json:"port"`
	Location        string      `json:"location,omitempty"`
	MaxTunnels      int         `json:"max_tunnels"`
	MaxBandwidthMbps float64    `json:"max_bw_mbps"`
	CurrentLoad     int         `json:"current_load"`
	CurrentBWMbps   float64     `json:"current_bw_mbps"`
	Status          RelayStatus `json:"status"`
	LastHealthCheck time.Time   `json:"last_health_check"`
}

// Utilization returns the relay's utilization percentage: the worse of
// tunnel-slot and bandwidth occupancy (§4.6 selection policy).
func (r Relay) Utilization() float64 {
	slotPct := 0.0
	if r.MaxTunnels > 0 {
		slotPct = float64(r.CurrentLoad) / float64(r.MaxTunnels) * 100
	}
	bwPct := 0.0
	if r.MaxBandwidthMbps > 0 {
		bwPct = r.CurrentBWMbps / r.MaxBandwidthMbps * 100
	}
	if bwPct > slotPct {
		return bwPct
	}
	return slotPct
}

// FleetStats is the derived aggregate over active relays used by
// admission and ops dashboards (§4.6). Must be zero-valued, not
// division-by-zero, for an empty fleet.
type FleetStats struct {
	ServerCount      int             `json:"server_count"`
	TotalCapacity    int             `json:"total_capacity"`
	TotalLoad        int             `json:"total_load"`
	UtilizationPct   float64         `json:"utilization_pct"`
	TotalBWGbps      float64         `json:"total_bw_gbps"`
	UsedBWGbps       float64         `json:"used_bw_gbps"`
	BWUtilizationPct float64         `json:"bw_utilization_pct"`
	Servers          []RelayDetail   `json:"per_server_details"`
}

// RelayDetail is one relay's contribution to FleetStats.
type RelayDetail struct {
	ID             string  `json:"id"`
	Load           int     `json:"load"`
	Capacity       int     `json:"capacity"`
	UtilizationPct float64 `json:"utilization_pct"`
	Status         RelayStatus `json:"status"`
}
