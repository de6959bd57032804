package room

// Policy decides whether a join attempt is admitted. Room metadata (privacy,
// capacity) is owned by an external service; this is the small surface the
// coordinator consumes.
type Policy interface {
	// Admit returns nil to allow the join, ErrRoomFull or
	// ErrInvalidRoomPassword to reject it. occupancy is the current number
	// of members in the room as seen by the caller.
	Admit(room, password string, occupancy int) error
}

// Rule is the static policy for one named room.
type Rule struct {
	Password        string
	MaxParticipants int // 0 means unlimited
}

// StaticPolicy admits joins according to a fixed per-room rule table.
// Rooms without a rule are open and unlimited.
type StaticPolicy struct {
	rules map[string]Rule
}

// NewStaticPolicy creates a policy from a rule table.
func NewStaticPolicy(rules map[string]Rule) *StaticPolicy {
	return &StaticPolicy{rules: rules}
}

// Admit checks capacity first, then the password.
func (p *StaticPolicy) Admit(room, password string, occupancy int) error {
	rule, ok := p.rules[room]
	if !ok {
		return nil
	}
	if rule.MaxParticipants > 0 && occupancy >= rule.MaxParticipants {
		return ErrRoomFull
	}
	if rule.Password != "" && password != rule.Password {
		return ErrInvalidRoomPassword
	}
	return nil
}
