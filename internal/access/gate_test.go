package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAccess(t *testing.T) {
	gate := NewGate("platform-admins")

	tests := []struct {
		name          string
		userGroups    []string
		allowedGroups []string
		want          bool
	}{
		{
			name:          "public record is visible to everyone",
			userGroups:    []string{"team-a"},
			allowedGroups: nil,
			want:          true,
		},
		{
			name:          "caller without groups sees everything",
			userGroups:    nil,
			allowedGroups: []string{"team-a"},
			want:          true,
		},
		{
			name:          "intersecting groups grant access",
			userGroups:    []string{"team-a", "team-b"},
			allowedGroups: []string{"team-b"},
			want:          true,
		},
		{
			name:          "disjoint groups deny access",
			userGroups:    []string{"team-a"},
			allowedGroups: []string{"team-b"},
			want:          false,
		},
		{
			name:          "admin bypasses a disjoint allowed set",
			userGroups:    []string{"platform-admins"},
			allowedGroups: []string{"team-b"},
			want:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.HasAccess(tt.userGroups, tt.allowedGroups))
		})
	}
}

func TestIsAdmin(t *testing.T) {
	gate := NewGate("platform-admins")

	assert.True(t, gate.IsAdmin([]string{"team-a", "platform-admins"}))
	assert.False(t, gate.IsAdmin([]string{"team-a"}))
	assert.False(t, gate.IsAdmin(nil))
}

func TestIsAdminWithoutConfiguredGroup(t *testing.T) {
	gate := NewGate("")

	assert.False(t, gate.IsAdmin([]string{"platform-admins"}))
}
