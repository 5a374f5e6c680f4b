// Package segment defines the contracts of the segment and user-profile
// collaborators. Rule evaluation itself lives outside the engine; these
// interfaces only expose membership and attribute lookups.
package segment

import "context"

// Resolver answers segment membership questions.
type Resolver interface {
	// ResolveSegment returns the current member user ids of a segment.
	ResolveSegment(ctx context.Context, segmentID string) (map[string]struct{}, error)

	// IsUserInSegment checks a single membership.
	IsUserInSegment(ctx context.Context, userID, segmentID string) (bool, error)
}

// AttributeResolver looks up one user attribute for branch conditions.
type AttributeResolver interface {
	Attribute(ctx context.Context, userID, name string) (any, error)
}
