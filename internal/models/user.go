package models

import "time"

type Role string

const (
	RoleCoach       Role = "COACH"
	RoleParticipant Role = "PARTICIPANT"
	RoleSuperAdmin  Role = "SUPER_ADMIN"
)

// Elevated reports whether the role may control any session regardless of
// ownership.
func (r Role) Elevated() bool {
	return r == RoleSuperAdmin
}

// User is an account known to the platform.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the resolved caller of a request: who they are and what they
// may do. It carries no credentials.
type Identity struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}
