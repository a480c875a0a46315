package routing

import (
	"github.com/google/uuid"

	"leadflow_backend/internal/workspaces"
)

// sanitizeAgents keeps only ids that map to a routable membership, preserving
// the configured order. Stale ids referencing removed or disabled members are
// silently dropped.
func sanitizeAgents(agents []uuid.UUID, members []workspaces.Membership) []uuid.UUID {
	routable := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		if m.Routable() {
			routable[m.UserID] = true
		}
	}

	out := make([]uuid.UUID, 0, len(agents))
	for _, id := range agents {
		if routable[id] {
			out = append(out, id)
		}
	}
	return out
}

// sanitizeFallback validates the fallback owner against routable memberships.
func sanitizeFallback(fallback *uuid.UUID, members []workspaces.Membership) *uuid.UUID {
	if fallback == nil {
		return nil
	}
	for _, m := range members {
		if m.UserID == *fallback && m.Routable() {
			return fallback
		}
	}
	return nil
}

func mod(n, m int) int {
	if m <= 0 {
		return 0
	}
	r := n % m
	if r < 0 {
		r += m
	}
	return r
}

// pickRoundRobin selects the candidate at cursor mod len and advances the
// cursor by the positions consumed. With avoid set, it scans forward up to
// len positions past the avoided id; when every candidate is the avoided id
// it returns that id anyway (only candidate).
func pickRoundRobin(agents []uuid.UUID, cursor int, avoid *uuid.UUID) (*uuid.UUID, int) {
	if len(agents) == 0 {
		return nil, cursor
	}

	if avoid == nil {
		owner := agents[mod(cursor, len(agents))]
		return &owner, cursor + 1
	}

	for i := 0; i < len(agents); i++ {
		candidate := agents[mod(cursor+i, len(agents))]
		if candidate != *avoid {
			return &candidate, cursor + i + 1
		}
	}

	owner := agents[mod(cursor, len(agents))]
	return &owner, cursor + 1
}
