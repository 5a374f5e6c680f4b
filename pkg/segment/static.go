package segment

import (
	"context"
	"fmt"
	"sync"
)

// StaticResolver serves memberships and attributes from in-memory maps.
// It backs local development and tests until the platform's segment
// service transport lands.
type StaticResolver struct {
	mu         sync.RWMutex
	members    map[string]map[string]struct{}
	attributes map[string]map[string]any
}

func NewStaticResolver(members map[string]map[string]struct{}, attributes map[string]map[string]any) *StaticResolver {
	if members == nil {
		members = make(map[string]map[string]struct{})
	}

	if attributes == nil {
		attributes = make(map[string]map[string]any)
	}

	return &StaticResolver{members: members, attributes: attributes}
}

func (r *StaticResolver) ResolveSegment(_ context.Context, segmentID string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make(map[string]struct{}, len(r.members[segmentID]))
	for userID := range r.members[segmentID] {
		resolved[userID] = struct{}{}
	}

	return resolved, nil
}

func (r *StaticResolver) IsUserInSegment(_ context.Context, userID, segmentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[segmentID][userID]

	return ok, nil
}

func (r *StaticResolver) Attribute(_ context.Context, userID, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.attributes[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user %s", userID)
	}

	value, ok := profile[name]
	if !ok {
		return nil, fmt.Errorf("user %s has no attribute %s", userID, name)
	}

	return value, nil
}

// SetMember adds or removes a segment membership.
func (r *StaticResolver) SetMember(segmentID, userID string, member bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if member {
		if r.members[segmentID] == nil {
			r.members[segmentID] = make(map[string]struct{})
		}

		r.members[segmentID][userID] = struct{}{}

		return
	}

	delete(r.members[segmentID], userID)
}

// SetAttribute sets one user attribute.
func (r *StaticResolver) SetAttribute(userID, name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attributes[userID] == nil {
		r.attributes[userID] = make(map[string]any)
	}

	r.attributes[userID][name] = value
}
