package hub

import (
	"time"

	"pitwall/pkg/pubsub"
)

// interval is the minimum spacing of high frequency events for a role, zero for no limit.
func (h *Hub) interval(role Role) time.Duration {
	var hz float64
	switch role {
	case RoleBroadcast:
		hz = h.cfg.BroadcastRateHz
	case RolePublic:
		hz = h.cfg.PublicRateHz
	}
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// gate down-samples high frequency events for one subscription. Other event
// types always pass. The gate runs under the bus lock, one message at a time.
func (h *Hub) gate(role Role) pubsub.Gate[Envelope] {
	every := h.interval(role)
	if every == 0 {
		return nil
	}
	var last time.Time
	return func(env Envelope) (bool, pubsub.DropReason) {
		if !highFrequency[env.Type] {
			return true, ""
		}
		now := h.now()
		if !last.IsZero() && now.Sub(last) < every {
			return false, pubsub.DropRateLimit
		}
		last = now
		return true, ""
	}
}
