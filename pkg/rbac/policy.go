package rbac

// Action names a protected project-scoped operation
type Action string

const (
	ActionViewProject    Action = "project.view"
	ActionUpdateProject  Action = "project.update"
	ActionDeleteProject  Action = "project.delete"
	ActionViewMembers    Action = "members.view"
	ActionManageMembers  Action = "members.manage"
	ActionCreateTask     Action = "task.create"
	ActionViewTask       Action = "task.view"
	ActionUpdateTask     Action = "task.update"
	ActionAssignTask     Action = "task.assign"
	ActionChangeStatus   Action = "task.status"
	ActionDeleteTask     Action = "task.delete"
	ActionCreateSubtask  Action = "subtask.create"
	ActionViewSubtask    Action = "subtask.view"
	ActionUpdateSubtask  Action = "subtask.update"
	ActionAssignSubtask  Action = "subtask.assign"
	ActionDeleteSubtask  Action = "subtask.delete"
	ActionCreateBoard    Action = "board.create"
	ActionViewBoard      Action = "board.view"
	ActionDeleteBoard    Action = "board.delete"
	ActionCreateNote     Action = "note.create"
	ActionCreateTaskNote Action = "note.create_on_task"
	ActionViewNote       Action = "note.view"
	ActionViewPrivate    Action = "note.view_private"
	ActionUpdateNote     Action = "note.update"
	ActionDeleteNote     Action = "note.delete"
)

// Override lets the owner of a resource act below the required role
type Override int

const (
	OverrideNone Override = iota
	// OverrideCreator admits the principal that created the resource
	OverrideCreator
	// OverrideAssignee admits a principal listed as assignee
	OverrideAssignee
	// OverrideCreatorOrAssignee admits either
	OverrideCreatorOrAssignee
)

// Rule is the policy for one action
type Rule struct {
	Required ProjectRole
	Override Override
	// Message is returned with Forbidden when the rule denies
	Message string
}

const defaultDenyMessage = "You do not have permission to perform this action"

var policy = map[Action]Rule{
	ActionViewProject:   {Required: RoleMember},
	ActionUpdateProject: {Required: RoleProjectAdmin, Message: "Only project admins can update the project"},
	ActionDeleteProject: {Required: RoleProjectAdmin, Message: "Only project admins can delete the project"},
	ActionViewMembers:   {Required: RoleMember},
	ActionManageMembers: {Required: RoleProjectAdmin, Message: "Only project admins can manage members"},

	ActionCreateTask:   {Required: RoleMember},
	ActionViewTask:     {Required: RoleMember},
	ActionUpdateTask:   {Required: RoleProjectAdmin, Override: OverrideCreator, Message: "Only project admins or the task creator can update this task"},
	ActionAssignTask:   {Required: RoleProjectAdmin, Message: "Members cannot assign tasks to other users"},
	ActionChangeStatus: {Required: RoleProjectAdmin, Message: "Only project admins can change task status"},
	ActionDeleteTask:   {Required: RoleProjectAdmin, Message: "Only project admins can delete tasks"},

	// subtask rules are evaluated against the parent task, except update which also
	// admits the subtask creator
	ActionCreateSubtask: {Required: RoleProjectAdmin, Override: OverrideAssignee, Message: "Members can only create subtasks for tasks assigned to them"},
	ActionViewSubtask:   {Required: RoleMember},
	ActionUpdateSubtask: {Required: RoleProjectAdmin, Override: OverrideCreatorOrAssignee, Message: "Only project admins, the subtask creator or task assignees can update this subtask"},
	ActionAssignSubtask: {Required: RoleProjectAdmin, Message: "Members cannot assign subtasks to other users"},
	ActionDeleteSubtask: {Required: RoleProjectAdmin, Message: "Only project admins can delete subtasks"},

	ActionCreateBoard: {Required: RoleProjectAdmin, Message: "Only project admins can create boards"},
	ActionViewBoard:   {Required: RoleMember},
	ActionDeleteBoard: {Required: RoleProjectAdmin, Message: "Only project admins can delete boards"},

	ActionCreateNote:     {Required: RoleProjectAdmin, Message: "Only project admins can create project notes"},
	ActionCreateTaskNote: {Required: RoleProjectAdmin, Override: OverrideAssignee, Message: "Members can only add notes to tasks assigned to them"},
	ActionViewNote:       {Required: RoleMember},
	ActionViewPrivate:    {Required: RoleProjectAdmin, Override: OverrideCreator, Message: "This note is private"},
	ActionUpdateNote:     {Required: RoleProjectAdmin, Override: OverrideCreator, Message: "Only the note creator or project admins can update this note"},
	ActionDeleteNote:     {Required: RoleProjectAdmin, Override: OverrideCreator, Message: "Only the note creator or project admins can delete this note"},
}

// RuleFor returns the policy rule for an action
func RuleFor(action Action) (Rule, bool) {
	rule, ok := policy[action]
	return rule, ok
}

// Resource carries the ownership facts an override may consult
type Resource struct {
	CreatedBy string
	Assignees []string
}

func (o Override) admits(principalID string, res *Resource) bool {
	if res == nil || principalID == "" {
		return false
	}
	creator := res.CreatedBy == principalID
	assignee := false
	for _, id := range res.Assignees {
		if id == principalID {
			assignee = true
			break
		}
	}

	switch o {
	case OverrideCreator:
		return creator
	case OverrideAssignee:
		return assignee
	case OverrideCreatorOrAssignee:
		return creator || assignee
	default:
		return false
	}
}
