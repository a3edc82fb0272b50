package access

// Gate performs group-based ownership checks for models and schedules.
// Denied checks are surfaced by callers as not-found rather than forbidden,
// so restricted records do not leak their existence.
type Gate struct {
	adminGroup string
}

// NewGate creates an access gate with the configured administrator group
func NewGate(adminGroup string) *Gate {
	return &Gate{adminGroup: adminGroup}
}

// IsAdmin reports whether the caller belongs to the administrator group
func (g *Gate) IsAdmin(userGroups []string) bool {
	if g.adminGroup == "" {
		return false
	}
	for _, group := range userGroups {
		if group == g.adminGroup {
			return true
		}
	}
	return false
}

// HasAccess reports whether a caller with the given groups may see a record
// scoped to allowedGroups. An empty allowed set means the record is public;
// an empty caller set is treated symmetrically. Administrators bypass the
// check entirely.
func (g *Gate) HasAccess(userGroups, allowedGroups []string) bool {
	if g.IsAdmin(userGroups) {
		return true
	}
	if len(allowedGroups) == 0 || len(userGroups) == 0 {
		return true
	}
	for _, userGroup := range userGroups {
		for _, allowed := range allowedGroups {
			if userGroup == allowed {
				return true
			}
		}
	}
	return false
}
