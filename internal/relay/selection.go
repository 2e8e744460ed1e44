package relay

import "github.com/tunnelnet/controlplane/internal/domain"

// Select implements the "best relay" policy (§4.6): among relays with
// status=active, compute utilization = max(load/max_tunnels,
// bw/max_bw_mbps) × 100, return the minimum, ties broken by
// lexicographic id. Returns nil if no candidate exists.
func (r *Registry) Select() *domain.Relay {
	candidates := r.List() // already sorted by id, giving deterministic tie-break order

	var best *domain.Relay
	var bestUtil float64
	for i := range candidates {
		rl := candidates[i]
		if rl.Status != domain.RelayActive {
			continue
		}
		util := rl.Utilization()
		if best == nil || util < bestUtil {
			best = &candidates[i]
			bestUtil = util
		}
	}
	return best
}

// FleetStats computes the derived aggregate over active relays (§4.6).
// Handles an empty fleet as all zeros, never division-by-zero.
func (r *Registry) FleetStats() domain.FleetStats {
	relays := r.List()

	var stats domain.FleetStats
	for _, rl := range relays {
		if rl.Status != domain.RelayActive {
			continue
		}
		stats.ServerCount++
		stats.TotalCapacity += rl.MaxTunnels
		stats.TotalLoad += rl.CurrentLoad
		stats.TotalBWGbps += rl.MaxBandwidthMbps / 1000
		stats.UsedBWGbps += rl.CurrentBWMbps / 1000
		stats.Servers = append(stats.Servers, domain.RelayDetail{
			ID:             rl.ID,
			Load:           rl.CurrentLoad,
			Capacity:       rl.MaxTunnels,
			UtilizationPct: rl.Utilization(),
			Status:         rl.Status,
		})
	}

	if stats.TotalCapacity > 0 {
		stats.UtilizationPct = float64(stats.TotalLoad) / float64(stats.TotalCapacity) * 100
	}
	if stats.TotalBWGbps > 0 {
		stats.BWUtilizationPct = stats.UsedBWGbps / stats.TotalBWGbps * 100
	}
	return stats
}
