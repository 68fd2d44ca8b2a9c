package auth

import "fmt"

// Role is an actor's privilege tier. The tiers are strictly ordered; admin
// additionally satisfies every check regardless of the required tier.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RolePolice    Role = "police"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleUser:      0,
	RoleModerator: 1,
	RolePolice:    2,
	RoleAdmin:     3,
}

// ParseRole validates a stored or user-supplied role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("auth: unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role is one of the defined tiers.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether the role meets the required tier. Admin passes
// every check.
func (r Role) AtLeast(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	want, ok := roleRank[required]
	if !ok {
		return false
	}
	return have >= want
}
