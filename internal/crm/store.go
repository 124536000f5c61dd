package crm

import (
	"context"

	"dealdesk.org/internal/auth"
)

// Store is the persistence boundary. Implementations must translate their
// native errors into ErrNotFound / ErrConflict so the service layer stays
// backend-agnostic.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	DeleteUserRow(ctx context.Context, id string) error
	UserDependencies(ctx context.Context, id string) (Dependencies, error)
	// ReassignUserRecords moves deal ownership and assignments from one user
	// to another in a single transaction.
	ReassignUserRecords(ctx context.Context, fromID, toID string) error
	RemoveUserFromTeams(ctx context.Context, id string) error
	// DeleteUserCascade removes the user together with everything that
	// references them, in a single transaction.
	DeleteUserCascade(ctx context.Context, id string) error

	// Teams.
	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, id string) (Team, error)
	ListTeams(ctx context.Context) ([]Team, error)
	UpdateTeam(ctx context.Context, id string, upd TeamUpdate) (Team, error)
	DeleteTeam(ctx context.Context, id string) error
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
	TeamsForUser(ctx context.Context, userID string) ([]string, error)

	// Deals.
	CreateDeal(ctx context.Context, d *Deal) error
	GetDeal(ctx context.Context, id string) (Deal, error)
	// DealOwnership fetches just the fields access decisions need.
	DealOwnership(ctx context.Context, id string) (auth.Ownership, error)
	ListDeals(ctx context.Context, scope DealScope) ([]Deal, error)
	UpdateDeal(ctx context.Context, id string, upd DealUpdate) (Deal, error)
	// DeleteDeal cascades to tasks and subtasks.
	DeleteDeal(ctx context.Context, id string) error

	// Tasks and subtasks.
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, dealID string) ([]Task, error)
	UpdateTask(ctx context.Context, id string, upd TaskUpdate) (Task, error)
	// DeleteTask cascades to subtasks.
	DeleteTask(ctx context.Context, id string) error
	CreateSubtask(ctx context.Context, s *Subtask) error
	GetSubtask(ctx context.Context, id string) (Subtask, error)
	ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error)
	UpdateSubtask(ctx context.Context, id string, upd SubtaskUpdate) (Subtask, error)
	DeleteSubtask(ctx context.Context, id string) error

	Stats(ctx context.Context) (Stats, error)
}
