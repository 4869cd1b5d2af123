// Package auth decides whether an actor may apply a mutation directly, must route it through the
// approval queue, or may not perform it at all.
package auth

import (
	"fmt"

	"agencyops/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Actor is the already-authenticated caller.
type Actor struct {
	ID   string
	Name string
	Role string
}

func (a Actor) IsCEO() bool { return a.Role == domain.RoleCEO }

// Decision is the outcome of a policy check.
type Decision int

const (
	Forbidden Decision = iota
	Direct
	Propose
)

func (d Decision) String() string {
	switch d {
	case Direct:
		return "direct"
	case Propose:
		return "propose"
	default:
		return "forbidden"
	}
}

// ProjectEdit: the CEO edits directly, everyone else proposes.
func ProjectEdit(a Actor, _ domain.Project) Decision {
	if a.IsCEO() {
		return Direct
	}
	return Propose
}

// TaskEditPolicyStandalone is used by the task's own edit entry point. The assigner keeps direct
// edit rights until any work has been recorded.
func TaskEditPolicyStandalone(a Actor, t domain.Task) Decision {
	if a.IsCEO() {
		return Direct
	}
	if a.ID == t.AssignerID && !t.Started() {
		return Direct
	}
	return Propose
}

// TaskEditPolicyEmbedded is used when a task is edited from inside a project view. Any task still
// in ToDo is edited directly; otherwise only the CEO edits directly.
func TaskEditPolicyEmbedded(a Actor, t domain.Task) Decision {
	if a.IsCEO() || t.Status == domain.TaskToDo {
		return Direct
	}
	return Propose
}

// TaskDelete allows only the assigner or the CEO. A non-CEO deleting a task that has left ToDo
// proposes the deletion instead.
func TaskDelete(a Actor, t domain.Task) Decision {
	if !a.IsCEO() && a.ID != t.AssignerID {
		return Forbidden
	}
	if !a.IsCEO() && t.Status != domain.TaskToDo {
		return Propose
	}
	return Direct
}

// RoleChange: a teammate's own role change is always proposed. The CEO changes other teammates'
// roles directly; anyone else proposes.
func RoleChange(a Actor, target domain.Teammate) Decision {
	if a.ID == target.ID {
		return Propose
	}
	if a.IsCEO() {
		return Direct
	}
	return Propose
}

// CanResolve reports whether the actor may approve or reject pending updates.
func CanResolve(a Actor, approverRole string) bool {
	if approverRole == "" {
		approverRole = domain.RoleCEO
	}
	return a.Role == approverRole
}

// CanReviewTask reports whether the actor may approve a submitted task or send it back.
func CanReviewTask(a Actor, t domain.Task) bool {
	return a.IsCEO() || a.ID == t.AssignerID
}

// CanWorkTask reports whether the actor may run the timer and submit the task.
func CanWorkTask(a Actor, t domain.Task) bool {
	return a.ID == t.AssigneeID
}

// RatingSlot names which slot the actor would fill.
type RatingSlot string

const (
	SlotAssigner RatingSlot = "assigner"
	SlotCEO      RatingSlot = "ceo"
)

// CanRate reports whether the actor may fill the slot for an entity assigned by assignerID.
func CanRate(a Actor, slot RatingSlot, assignerID string) bool {
	switch slot {
	case SlotAssigner:
		return a.ID == assignerID
	case SlotCEO:
		return a.IsCEO()
	}
	return false
}

// CanCreateProject reports whether the role is one of the configured management roles.
func CanCreateProject(a Actor, managementRoles []string) bool {
	return a.IsCEO() || hasRole(a.Role, managementRoles)
}

// CanAssignTask allows management roles and members of the parent project.
func CanAssignTask(a Actor, managementRoles []string, p *domain.Project) bool {
	if a.IsCEO() || hasRole(a.Role, managementRoles) {
		return true
	}
	return p != nil && (p.AssignerID == a.ID || p.HasMember(a.ID))
}

func CanApproveTeammate(a Actor) bool {
	return a.IsCEO() || a.Role == domain.RoleHR
}

func CanEditProfile(a Actor, target domain.Teammate) bool {
	return a.ID == target.ID || a.IsCEO() || a.Role == domain.RoleHR
}

func CanSetSalary(a Actor) bool {
	return a.IsCEO() || a.Role == domain.RoleHR
}

// VisibleTeammate returns tm as a may see it. Salary is shown to its owner, CEO and HR only.
func VisibleTeammate(a Actor, tm domain.Teammate) domain.Teammate {
	if a.ID != tm.ID && !CanSetSalary(a) {
		tm.Salary = 0
	}
	return tm
}

func CanManageClients(a Actor) bool {
	return a.IsCEO() || a.Role == domain.RoleSales
}

func CanAnnounce(a Actor, managementRoles []string) bool {
	return a.IsCEO() || a.Role == domain.RoleHR || hasRole(a.Role, managementRoles)
}

func hasRole(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
