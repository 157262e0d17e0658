// v0
// internal/engine/snapshot.go
package engine

import (
	"time"

	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/registry"
)

// ChannelStatus is the observer view of one role.
type ChannelStatus struct {
	Role       string     `json:"role"`
	Active     int        `json:"activeNode"`
	Ring       []int      `json:"ring"`
	Misses     int        `json:"misses"`
	Phase      string     `json:"phase"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	Rotations  int        `json:"rotations"`
}

// Snapshot is published by the loop after every cycle. Observers only ever see whole
// snapshots.
type Snapshot struct {
	Running       bool                     `json:"running"`
	Cycle         uint64                   `json:"cycle"`
	ParticipantID string                   `json:"participantId,omitempty"`
	RegisteredAt  *time.Time               `json:"registeredAt,omitempty"`
	Temperature   *float64                 `json:"temperature"`
	Humidity      *float64                 `json:"humidity"`
	Decision      control.Decision         `json:"decision"`
	Channels      []ChannelStatus          `json:"channels"`
	Ranges        map[string]control.Range `json:"ranges"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Channel returns the status of a role.
func (s Snapshot) Channel(r registry.Role) ChannelStatus {
	for _, c := range s.Channels {
		if c.Role == r.Key() {
			return c
		}
	}
	return ChannelStatus{}
}

func channelStatuses(states [registry.RoleCount]health.ChannelState) []ChannelStatus {
	out := make([]ChannelStatus, 0, len(states))
	for _, st := range states {
		cs := ChannelStatus{
			Role:      st.Role.Key(),
			Active:    st.Active,
			Ring:      st.Ring,
			Misses:    st.Misses,
			Phase:     st.Phase().String(),
			Rotations: st.Rotations,
		}
		if !st.LastUpdate.IsZero() {
			t := st.LastUpdate
			cs.LastUpdate = &t
		}
		out = append(out, cs)
	}
	return out
}

func sampleValue(s control.Sample) *float64 {
	if !s.Known {
		return nil
	}
	v := s.Value
	return &v
}
