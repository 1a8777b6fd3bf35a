package scheduler

import "fmt"

// PolicyKind selects the admission strategy for a job class.
type PolicyKind string

const (
	// PolicyThrottle caps the number of concurrently active jobs sharing
	// the same (job class, target id).
	PolicyThrottle PolicyKind = "throttle"

	// PolicyUniquePerOwner allows at most one active job per
	// (owner id, job class); later duplicates wait their turn.
	PolicyUniquePerOwner PolicyKind = "unique_per_owner"
)

// ClassPolicy binds a job class to its admission policy. ThrottleLimit is
// meaningful for PolicyThrottle only.
type ClassPolicy struct {
	Kind          PolicyKind
	ThrottleLimit int
}

// Registry is the static map from job class identifiers to their policies,
// resolved once at startup. A job class declares exactly one policy.
type Registry struct {
	classes map[string]ClassPolicy
}

// NewRegistry validates the class policy table and builds a Registry.
// Invalid entries are fatal here rather than per-request: an unknown policy
// kind, a throttle class without a positive limit, or a limit on a unique
// class all fail construction.
func NewRegistry(classes map[string]ClassPolicy) (*Registry, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("no job classes configured")
	}

	for class, policy := range classes {
		switch policy.Kind {
		case PolicyThrottle:
			if policy.ThrottleLimit < 1 {
				return nil, fmt.Errorf("job class %q: throttle_limit must be at least 1, got %d", class, policy.ThrottleLimit)
			}
		case PolicyUniquePerOwner:
			if policy.ThrottleLimit != 0 {
				return nil, fmt.Errorf("job class %q: throttle_limit is not valid for the %s policy", class, PolicyUniquePerOwner)
			}
		default:
			return nil, fmt.Errorf("job class %q: unknown policy %q", class, policy.Kind)
		}
	}

	copied := make(map[string]ClassPolicy, len(classes))
	for class, policy := range classes {
		copied[class] = policy
	}

	return &Registry{classes: copied}, nil
}

// Lookup returns the policy for a job class, or ErrUnknownJobClass.
func (r *Registry) Lookup(jobClass string) (ClassPolicy, error) {
	policy, ok := r.classes[jobClass]
	if !ok {
		return ClassPolicy{}, fmt.Errorf("%w: %s", ErrUnknownJobClass, jobClass)
	}
	return policy, nil
}
