package staff

import (
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// Role decides what a staff member may see and do.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleQC         Role = "qcc"
	RoleSuperAdmin Role = "super_admin"
)

// Status is the self-reported availability of a staff member.
type Status string

const (
	StatusOnline  Status = "online"
	StatusJira    Status = "jira"
	StatusRest    Status = "rest"
	StatusOffline Status = "offline"
)

// Member is one support employee.
type Member struct {
	ID              string     `json:"id" yaml:"id"`
	DisplayName     string     `json:"displayName" yaml:"displayName"`
	Role            Role       `json:"role" yaml:"role"`
	Status          Status     `json:"status" yaml:"status,omitempty"`
	StatusChangedAt *time.Time `json:"statusChangedAt,omitempty" yaml:"-"`
	LastAssignedAt  *time.Time `json:"lastAssignedAt,omitempty" yaml:"-"`
}

// ParseRole validates a role received from the outside.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleOperator, RoleQC, RoleSuperAdmin:
		return r, nil
	}
	return "", apperr.InvalidInput("unknown staff role %q", raw)
}

// ParseStatus validates a presence status received from the outside.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusOnline, StatusJira, StatusRest, StatusOffline:
		return s, nil
	}
	return "", apperr.InvalidInput("unknown staff status %q", raw)
}

// HandlesChats reports whether the role takes client conversations.
func (r Role) HandlesChats() bool {
	return r == RoleOperator
}

// Supervises reports whether the role may read every session.
func (r Role) Supervises() bool {
	return r == RoleQC || r == RoleSuperAdmin
}

// Validate checks the identity fields of m.
func (m Member) Validate() error {
	if m.ID == "" {
		return apperr.InvalidInput("staff id is required")
	}
	if m.DisplayName == "" {
		return apperr.InvalidInput("staff display name is required")
	}
	if _, err := ParseRole(string(m.Role)); err != nil {
		return err
	}
	if m.Status != "" {
		if _, err := ParseStatus(string(m.Status)); err != nil {
			return err
		}
	}
	return nil
}
