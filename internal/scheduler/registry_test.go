package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name      string
		classes   map[string]ClassPolicy
		errString string
	}{
		{
			name: "valid policies",
			classes: map[string]ClassPolicy{
				"entitler":      {Kind: PolicyThrottle, ThrottleLimit: 7},
				"refresh_pools": {Kind: PolicyUniquePerOwner},
			},
		},
		{
			name:      "no classes",
			classes:   map[string]ClassPolicy{},
			errString: "no job classes configured",
		},
		{
			name: "throttle limit zero",
			classes: map[string]ClassPolicy{
				"entitler": {Kind: PolicyThrottle, ThrottleLimit: 0},
			},
			errString: "throttle_limit must be at least 1",
		},
		{
			name: "throttle limit negative",
			classes: map[string]ClassPolicy{
				"entitler": {Kind: PolicyThrottle, ThrottleLimit: -3},
			},
			errString: "throttle_limit must be at least 1",
		},
		{
			name: "limit on unique policy",
			classes: map[string]ClassPolicy{
				"refresh_pools": {Kind: PolicyUniquePerOwner, ThrottleLimit: 1},
			},
			errString: "throttle_limit is not valid",
		},
		{
			name: "unknown policy kind",
			classes: map[string]ClassPolicy{
				"entitler": {Kind: "round_robin"},
			},
			errString: "unknown policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := NewRegistry(tt.classes)

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, registry)
			} else {
				require.NoError(t, err)
				require.NotNil(t, registry)
			}
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	registry, err := NewRegistry(map[string]ClassPolicy{
		"entitler": {Kind: PolicyThrottle, ThrottleLimit: 7},
	})
	require.NoError(t, err)

	t.Run("known class", func(t *testing.T) {
		policy, err := registry.Lookup("entitler")
		require.NoError(t, err)
		assert.Equal(t, PolicyThrottle, policy.Kind)
		assert.Equal(t, 7, policy.ThrottleLimit)
	})

	t.Run("unknown class", func(t *testing.T) {
		_, err := registry.Lookup("ghost")
		require.ErrorIs(t, err, ErrUnknownJobClass)
	})
}
