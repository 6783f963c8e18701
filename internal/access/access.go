package access

import (
	"context"
	"strings"
)

// Action names a decision point the workflow asks the capability oracle about.
type Action string

const (
	ActionSubmit                Action = "submit"
	ActionSubmitOnBehalf        Action = "submit_on_behalf"
	ActionEditSubmission        Action = "edit_submission"
	ActionFinalise              Action = "finalise"
	ActionUnfinalise            Action = "revert_finalised"
	ActionRevertSubmission      Action = "revert_submission"
	ActionAddInitialGrade       Action = "add_initial_grade"
	ActionAddAgreedGrade        Action = "add_agreed_grade"
	ActionAddModeratorGrade     Action = "add_moderator_grade"
	ActionAdministerGrades      Action = "administer_grades"
	ActionModerate              Action = "moderate"
	ActionPublish               Action = "publish"
	ActionGrantExtension        Action = "grant_extension"
	ActionGrantPersonalDeadline Action = "grant_personal_deadline"
	ActionAllocate              Action = "allocate"
	ActionFlagPlagiarism        Action = "flag_plagiarism"
	ActionManageRubric          Action = "manage_rubric"
	ActionViewGrades            Action = "view_grades"
)

// SystemRole identifies work done by the engine itself, such as the sweep.
const SystemRole = "system"

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	ID   uint
	Role string
}

// System is the actor used for automatic transitions.
func System() Actor {
	return Actor{Role: SystemRole}
}

// IsSystem reports whether the actor is the engine itself.
func (a Actor) IsSystem() bool {
	return a.ID == 0 && NormalizeRole(a.Role) == SystemRole
}

// Entity is the object an action targets.
type Entity struct {
	Type         string
	ID           uint
	CourseworkID uint
	OwnerID      uint
}

// Oracle answers capability questions. Policy lives outside the workflow.
type Oracle interface {
	Can(ctx context.Context, actor Actor, action Action, entity Entity) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, actor Actor, action Action, entity Entity) bool

// Can implements Oracle.
func (f OracleFunc) Can(ctx context.Context, actor Actor, action Action, entity Entity) bool {
	return f(ctx, actor, action, entity)
}

// RoleOracle grants actions by role name.
type RoleOracle struct {
	grants map[string]map[Action]struct{}
}

// NewRoleOracle builds an oracle from a role to actions table.
func NewRoleOracle(grants map[string][]Action) *RoleOracle {
	table := make(map[string]map[Action]struct{}, len(grants))
	for role, actions := range grants {
		normalized := NormalizeRole(role)
		if normalized == "" {
			continue
		}
		set := table[normalized]
		if set == nil {
			set = make(map[Action]struct{}, len(actions))
			table[normalized] = set
		}
		for _, action := range actions {
			set[action] = struct{}{}
		}
	}
	return &RoleOracle{grants: table}
}

// Can implements Oracle.
func (o *RoleOracle) Can(_ context.Context, actor Actor, action Action, _ Entity) bool {
	if o == nil {
		return false
	}
	set, ok := o.grants[NormalizeRole(actor.Role)]
	if !ok {
		return false
	}
	_, allowed := set[action]
	return allowed
}

// NormalizeRole lower-cases and trims a role name.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
