package snapshot

import "strings"

// Role is a device's position in the election ring.
type Role string

const (
	RoleUnknown Role = ""
	RoleLeader  Role = "Leader"
	RoleWorker  Role = "Worker"
)

// String returns "Unknown" for the zero Role.
func (r Role) String() string {
	if r == RoleUnknown {
		return "Unknown"
	}
	return string(r)
}

// ParseRole maps the backend's role strings onto Role, case-insensitively.
// Anything unrecognized is RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leader":
		return RoleLeader
	case "worker":
		return RoleWorker
	default:
		return RoleUnknown
	}
}

// Identity is the (name, ip) pair that identifies a device within one snapshot.
type Identity struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

func (id Identity) String() string { return id.Name + "@" + id.IP }

// IsZero reports whether neither half of the identity is known.
func (id Identity) IsZero() bool { return id.Name == "" && id.IP == "" }

// Device is one normalized entry of a device snapshot. Devices are replaced
// wholesale on every poll and never mutated in place.
type Device struct {
	Name          string  `json:"name"`
	IP            string  `json:"ip"`
	ResourceScore float64 `json:"resource_score"`
	// LastSeenMs is the heartbeat time in epoch milliseconds.
	LastSeenMs int64 `json:"last_seen_ms"`
}

// Key returns the device's identity.
func (d Device) Key() Identity { return Identity{Name: d.Name, IP: d.IP} }

// RingNode is one member of the election ring as reported by the backend.
type RingNode struct {
	IP            string  `json:"ip"`
	Name          string  `json:"name"`
	Role          Role    `json:"role"`
	SuccessorIP   string  `json:"successor_ip"`
	ResourceScore float64 `json:"resource_score"`
	IsSelf        bool    `json:"is_self"`
}

// Consensus reports whether the ring agrees on its leader.
type Consensus struct {
	Reached    bool `json:"reached"`
	TotalNodes int  `json:"total_nodes"`
}

// Election is a normalized election snapshot. Like Device it is replaced
// wholesale per poll; fields of an older snapshot never leak into a newer one.
type Election struct {
	Consensus *Consensus `json:"consensus,omitempty"`
	// LeaderIP is empty when no leader is known.
	LeaderIP string `json:"leader_ip"`
	// MyRole is RoleUnknown when the local election client has not decided.
	MyRole Role       `json:"my_role"`
	Method string     `json:"method"`
	Ring   []RingNode `json:"ring"`
	Active bool       `json:"active"`
}

// RingNodeByIP returns the ring entry for ip, if any.
func (e *Election) RingNodeByIP(ip string) (RingNode, bool) {
	if e == nil || ip == "" {
		return RingNode{}, false
	}
	for _, n := range e.Ring {
		if n.IP == ip {
			return n, true
		}
	}
	return RingNode{}, false
}
