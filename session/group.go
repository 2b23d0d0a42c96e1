// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

// resourceGroup tracks the sessions of a single user, keyed by resource,
// together with a priority-ordered list of resources. Each group carries
// its own lock so that mutating one user's resources never contends with
// another user's.
type resourceGroup struct {
	resources map[string]*Session
	order     []string // resource names, presence priority descending
}

func newResourceGroup() *resourceGroup {
	return &resourceGroup{resources: make(map[string]*Session)}
}

// add registers a session under its resourcepart and slots it into the
// priority order. The caller holds the group lock.
func (g *resourceGroup) add(s *Session) {
	resource := s.Address().Resourcepart()
	g.resources[resource] = s
	g.sort(resource, s.Priority())
}

// sort inserts resource into the order before the first entry with a
// priority not greater than the given one.
func (g *resourceGroup) sort(resource string, priority int) {
	g.removeFromOrder(resource)
	for i, r := range g.order {
		if g.resources[r].Priority() <= priority {
			g.order = append(g.order[:i], append([]string{resource}, g.order[i:]...)...)
			return
		}
	}
	g.order = append(g.order, resource)
}

// changePriority re-slots a resource after its presence priority changed.
func (g *resourceGroup) changePriority(resource string, priority int) {
	if _, ok := g.resources[resource]; !ok {
		return
	}
	g.sort(resource, priority)
}

// remove deletes a resource from the group.
func (g *resourceGroup) remove(resource string) {
	delete(g.resources, resource)
	g.removeFromOrder(resource)
}

func (g *resourceGroup) removeFromOrder(resource string) {
	for i, r := range g.order {
		if r == resource {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// get returns the session bound to the given resource, or nil.
func (g *resourceGroup) get(resource string) *Session {
	return g.resources[resource]
}

// snapshot returns a defensive copy of the group's sessions in priority
// order. Callers iterate the copy, never the live structure.
func (g *resourceGroup) snapshot() []*Session {
	out := make([]*Session, 0, len(g.order))
	for _, r := range g.order {
		if s, ok := g.resources[r]; ok {
			out = append(out, s)
		}
	}
	return out
}

// defaultSession returns the session that should receive traffic addressed
// to the user's bare JID: the highest-priority resource whose priority is
// not negative, ties broken by most recent activity at read time. Returns
// nil when every resource opted out with a negative priority.
func (g *resourceGroup) defaultSession() *Session {
	var best *Session
	for _, r := range g.order {
		s, ok := g.resources[r]
		if !ok || s.Priority() < 0 {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		if s.Priority() > best.Priority() ||
			(s.Priority() == best.Priority() && s.LastActive().After(best.LastActive())) {
			best = s
		}
	}
	return best
}

// empty reports whether the group holds no sessions.
func (g *resourceGroup) empty() bool {
	return len(g.resources) == 0
}
