// Package access holds the role-gated capability checks shared by every
// session operation. Identity is always passed explicitly as an Actor.
package access

import (
	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
)

// Role extends the staff roles with the anonymous client.
type Role string

const (
	RoleClient     Role = "client"
	RoleOperator   Role = Role(staff.RoleOperator)
	RoleQC         Role = Role(staff.RoleQC)
	RoleSuperAdmin Role = Role(staff.RoleSuperAdmin)
)

// Capability is an action on a session.
type Capability string

const (
	CapRead   Capability = "read"
	CapSend   Capability = "send"
	CapClose  Capability = "close"
	CapRate   Capability = "rate"
	CapAssign Capability = "assign"
	CapQC     Capability = "qc"
)

// Actor is whoever performs an operation.
type Actor struct {
	ID   string
	Role Role
}

// Client returns the actor for the client who owns clientID.
func Client(clientID string) Actor {
	return Actor{ID: clientID, Role: RoleClient}
}

// Staff returns the actor for a staff member.
func Staff(m staff.Member) Actor {
	return Actor{ID: m.ID, Role: Role(m.Role)}
}

type relation int

const (
	relNone relation = iota
	relOwner
	relAssignee
)

// grants maps role and capability to the relation the actor must have with
// the session. relNone means no relation is required.
var grants = map[Role]map[Capability]relation{
	RoleClient: {
		CapRead:  relOwner,
		CapSend:  relOwner,
		CapClose: relOwner,
		CapRate:  relOwner,
	},
	RoleOperator: {
		CapRead:   relAssignee,
		CapSend:   relAssignee,
		CapClose:  relAssignee,
		CapAssign: relNone,
	},
	RoleQC: {
		CapRead:   relNone,
		CapAssign: relNone,
		CapQC:     relNone,
	},
	RoleSuperAdmin: {
		CapRead:   relNone,
		CapAssign: relNone,
		CapQC:     relNone,
	},
}

// Allowed reports whether the actor holds capability on the session.
func Allowed(a Actor, capability Capability, s chat.Session) bool {
	if a.ID == "" {
		return false
	}
	rel, ok := grants[a.Role][capability]
	if !ok {
		return false
	}
	switch rel {
	case relOwner:
		return s.ClientID == a.ID
	case relAssignee:
		return s.AssignedOperatorID != "" && s.AssignedOperatorID == a.ID
	default:
		return true
	}
}

// Check is Allowed returning a Forbidden error.
func Check(a Actor, capability Capability, s chat.Session) error {
	if !Allowed(a, capability, s) {
		return apperr.Forbidden("%s %q may not %s session %s", a.Role, a.ID, capability, s.ID)
	}
	return nil
}

// SenderType returns the message sender type for actors that may send.
func (a Actor) SenderType() (chat.SenderType, bool) {
	switch a.Role {
	case RoleClient:
		return chat.SenderClient, true
	case RoleOperator:
		return chat.SenderOperator, true
	}
	return "", false
}

// Supervisor reports whether the actor monitors all sessions.
func (a Actor) Supervisor() bool {
	return a.Role == RoleQC || a.Role == RoleSuperAdmin
}
