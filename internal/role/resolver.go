// Package role resolves a device's role from sources that update
// independently and may briefly disagree during an election round.
//
// Sources are ranked by freshness and directness, not by arrival order:
//
//  1. SourceLeaderIP: the device's ip equals the election's current leader.
//  2. SourceLocalRole: the device is the local node and the local election
//     client already reports its own role.
//  3. SourceRing: the device appears in the election ring topology.
//  4. SourceDefault: nothing is known, assume Worker.
//
// The first source that yields an answer wins. Resolution is a pure function
// of its inputs and is recomputed on every reconciliation pass.
package role

import (
	"github.com/dreamware/rendermesh/internal/snapshot"
)

// Source names the signal a resolution was taken from.
type Source int

const (
	SourceLeaderIP Source = iota
	SourceLocalRole
	SourceRing
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceLeaderIP:
		return "leader_ip"
	case SourceLocalRole:
		return "local_role"
	case SourceRing:
		return "ring"
	default:
		return "default"
	}
}

// MarshalText renders the source by name in JSON views.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Resolution is a resolved role together with the source that decided it.
type Resolution struct {
	Role   snapshot.Role `json:"role"`
	Source Source        `json:"source"`
}

// Strategy is one ranked source. It reports ok=false when it has no opinion.
type Strategy struct {
	Resolve func(d snapshot.Device, e *snapshot.Election, isSelf bool) (snapshot.Role, bool)
	Source  Source
}

// DefaultChain returns the standard precedence order.
func DefaultChain() []Strategy {
	return []Strategy{
		{Source: SourceLeaderIP, Resolve: byLeaderIP},
		{Source: SourceLocalRole, Resolve: byLocalRole},
		{Source: SourceRing, Resolve: byRing},
	}
}

func byLeaderIP(d snapshot.Device, e *snapshot.Election, _ bool) (snapshot.Role, bool) {
	if e == nil || e.LeaderIP == "" || d.IP != e.LeaderIP {
		return snapshot.RoleUnknown, false
	}
	return snapshot.RoleLeader, true
}

func byLocalRole(_ snapshot.Device, e *snapshot.Election, isSelf bool) (snapshot.Role, bool) {
	if !isSelf || e == nil || e.MyRole == snapshot.RoleUnknown {
		return snapshot.RoleUnknown, false
	}
	return e.MyRole, true
}

func byRing(d snapshot.Device, e *snapshot.Election, _ bool) (snapshot.Role, bool) {
	n, ok := e.RingNodeByIP(d.IP)
	if !ok || n.Role == snapshot.RoleUnknown {
		return snapshot.RoleUnknown, false
	}
	return n.Role, true
}

// Resolver applies a strategy chain relative to the local identity.
type Resolver struct {
	chain []Strategy
	self  snapshot.Identity
}

// NewResolver returns a Resolver using DefaultChain.
func NewResolver(self snapshot.Identity) *Resolver {
	return &Resolver{self: self, chain: DefaultChain()}
}

// WithChain returns a copy of r that consults chain instead.
func (r *Resolver) WithChain(chain []Strategy) *Resolver {
	return &Resolver{self: r.self, chain: chain}
}

// Resolve returns d's role under e. It is total: when no strategy has an
// answer the device is a Worker. A nil election is allowed.
func (r *Resolver) Resolve(d snapshot.Device, e *snapshot.Election) Resolution {
	isSelf := !r.self.IsZero() && d.Key() == r.self
	for _, s := range r.chain {
		if role, ok := s.Resolve(d, e, isSelf); ok {
			return Resolution{Role: role, Source: s.Source}
		}
	}
	return Resolution{Role: snapshot.RoleWorker, Source: SourceDefault}
}

// Local resolves the local node's own role. The local node may be missing
// from the device list, so it is resolved from its identity alone.
func (r *Resolver) Local(e *snapshot.Election) Resolution {
	return r.Resolve(snapshot.Device{Name: r.self.Name, IP: r.self.IP}, e)
}
